package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

const maxNameLength = 100

// SessionToken is returned by signup and login.
type SessionToken struct {
	Token     string    `json:"token"`
	ExpiresIn int64     `json:"expiresIn"`
	ExpiresAt time.Time `json:"expiresAt"`
	User
}

// Directory implements account signup, login and profile maintenance on top
// of a UserStore and a TokenService.
type Directory struct {
	users  UserStore
	tokens *TokenService
}

// NewDirectory wires a Directory.
func NewDirectory(users UserStore, tokens *TokenService) (*Directory, error) {
	if users == nil || tokens == nil {
		return nil, errors.New("auth: user store and token service are required")
	}
	return &Directory{users: users, tokens: tokens}, nil
}

// Tokens exposes the token service for handshake and middleware wiring.
func (d *Directory) Tokens() *TokenService { return d.tokens }

// Users exposes the underlying store.
func (d *Directory) Users() UserStore { return d.users }

// Signup registers a new account and issues a session token.
func (d *Directory) Signup(ctx context.Context, name, email, password string) (SessionToken, error) {
	name, email, err := validateProfile(name, email)
	if err != nil {
		return SessionToken{}, err
	}
	exists, err := d.users.ExistsByEmail(ctx, email)
	if err != nil {
		return SessionToken{}, err
	}
	if exists {
		return SessionToken{}, ErrEmailTaken
	}
	hash, err := HashPassword(password)
	if err != nil {
		return SessionToken{}, err
	}
	u := &User{Name: name, Email: email, PasswordHash: hash, JoinedAt: time.Now().UTC()}
	if err := d.users.Create(ctx, u); err != nil {
		return SessionToken{}, err
	}
	return d.session(u)
}

// Login verifies credentials and issues a session token.
func (d *Directory) Login(ctx context.Context, email, password string) (SessionToken, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return SessionToken{}, ErrInvalidCredentials
	}
	u, err := d.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return SessionToken{}, ErrInvalidCredentials
		}
		return SessionToken{}, err
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return SessionToken{}, ErrInvalidCredentials
	}
	return d.session(u)
}

// Authenticate resolves a bearer token into a Session.
func (d *Directory) Authenticate(ctx context.Context, token string) (Session, error) {
	subject, err := d.tokens.Validate(token)
	if err != nil {
		return Session{}, err
	}
	u, err := d.users.FindByEmail(ctx, subject)
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: u.ID, Email: u.Email, Admin: u.IsAdmin}, nil
}

// Profile returns the account for id.
func (d *Directory) Profile(ctx context.Context, id int64) (*User, error) {
	return d.users.FindByID(ctx, id)
}

// UpdateProfile changes name and email. Changing the email invalidates
// existing tokens, so a fresh one is issued.
func (d *Directory) UpdateProfile(ctx context.Context, id int64, name, email string) (SessionToken, error) {
	name, email, err := validateProfile(name, email)
	if err != nil {
		return SessionToken{}, err
	}
	if err := d.users.UpdateProfile(ctx, id, name, email); err != nil {
		return SessionToken{}, err
	}
	u, err := d.users.FindByID(ctx, id)
	if err != nil {
		return SessionToken{}, err
	}
	return d.session(u)
}

// ChangePassword replaces the password after verifying the current one.
func (d *Directory) ChangePassword(ctx context.Context, id int64, current, next string) error {
	u, err := d.users.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := VerifyPassword(u.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	return d.users.UpdatePassword(ctx, id, hash)
}

func (d *Directory) session(u *User) (SessionToken, error) {
	token, exp, err := d.tokens.Issue(u.Email)
	if err != nil {
		return SessionToken{}, err
	}
	return SessionToken{
		Token:     token,
		ExpiresIn: int64(d.tokens.RemainingTTL() / time.Second),
		ExpiresAt: exp,
		User:      *u,
	}, nil
}

func validateProfile(name, email string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength {
		return "", "", fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidInput, maxNameLength)
	}
	email = NormalizeEmail(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return name, email, nil
}
