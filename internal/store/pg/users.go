package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bazaar.app/internal/auth"
)

type userStore struct {
	db *sql.DB
}

const userColumns = `id, name, email, password_hash, is_admin, joined_at`

func (s userStore) Create(ctx context.Context, u *auth.User) error {
	email := auth.NormalizeEmail(u.Email)
	err := s.db.QueryRowContext(ctx, `
		insert into users(name, email, password_hash, is_admin)
		values ($1, $2, $3, $4)
		returning id, joined_at
	`, u.Name, email, u.PasswordHash, u.IsAdmin).Scan(&u.ID, &u.JoinedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	u.Email = email
	return nil
}

func (s userStore) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (s userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, auth.NormalizeEmail(email))
	return scanUser(row)
}

func (s userStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `select exists(select 1 from users where email = $1)`, auth.NormalizeEmail(email)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return exists, nil
}

func (s userStore) UpdateProfile(ctx context.Context, id int64, name, email string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `update users set name = $2, email = $3 where id = $1`, id, name, auth.NormalizeEmail(email))
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrEmailTaken
		}
		return fmt.Errorf("update profile: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (s userStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `update users set password_hash = $2 where id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.JoinedAt = u.JoinedAt.UTC()
	return &u, nil
}
