package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// User is a marketplace account.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"isAdmin"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// UserStore persists accounts and answers lookup queries.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	UpdateProfile(ctx context.Context, id int64, name, email string) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var _ UserStore = (*MemoryUserStore)(nil)

// MemoryUserStore keeps accounts in process memory.
type MemoryUserStore struct {
	mu      sync.RWMutex
	seq     int64
	byID    map[int64]User
	byEmail map[string]int64
}

// NewMemoryUserStore creates an empty store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[int64]User),
		byEmail: make(map[string]int64),
	}
}

func (s *MemoryUserStore) Create(ctx context.Context, u *User) error {
	email := NormalizeEmail(u.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return ErrEmailTaken
	}
	s.seq++
	u.ID = s.seq
	u.Email = email
	if u.JoinedAt.IsZero() {
		u.JoinedAt = time.Now().UTC()
	}
	s.byID[u.ID] = *u
	s.byEmail[email] = u.ID
	return nil
}

func (s *MemoryUserStore) FindByID(ctx context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (s *MemoryUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := s.byID[id]
	return &u, nil
}

func (s *MemoryUserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byEmail[NormalizeEmail(email)]
	return ok, nil
}

func (s *MemoryUserStore) UpdateProfile(ctx context.Context, id int64, name, email string) error {
	email = NormalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	if owner, taken := s.byEmail[email]; taken && owner != id {
		return ErrEmailTaken
	}
	delete(s.byEmail, u.Email)
	u.Name = name
	u.Email = email
	s.byID[id] = u
	s.byEmail[email] = id
	return nil
}

func (s *MemoryUserStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	s.byID[id] = u
	return nil
}

// SetAdmin flips the admin flag. There is no API for it; operators use it
// from seeds and tests.
func (s *MemoryUserStore) SetAdmin(id int64, admin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.IsAdmin = admin
	s.byID[id] = u
	return nil
}
