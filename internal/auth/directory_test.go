package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestDirectory(t *testing.T) (*Directory, *MemoryUserStore) {
	t.Helper()
	tokens, err := NewTokenService("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	users := NewMemoryUserStore()
	dir, err := NewDirectory(users, tokens)
	if err != nil {
		t.Fatal(err)
	}
	return dir, users
}

func TestSignupLoginAuthenticate(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()

	sess, err := dir.Signup(ctx, "Alice", " Alice@Example.com ", "correct horse")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if sess.Token == "" || sess.ExpiresIn != 3600 {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.Email != "alice@example.com" || sess.ID == 0 {
		t.Fatalf("unexpected profile: %+v", sess.User)
	}

	if _, err := dir.Login(ctx, "alice@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := dir.Login(ctx, "nobody@example.com", "whatever1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}

	login, err := dir.Login(ctx, "ALICE@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	s, err := dir.Authenticate(ctx, login.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if s.UserID != sess.ID || s.Email != "alice@example.com" {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestSignupValidation(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()

	cases := []struct{ name, email, password string }{
		{"", "a@example.com", "longenough"},
		{"A", "not-an-email", "longenough"},
		{"A", "a@example.com", "short"},
	}
	for _, tc := range cases {
		if _, err := dir.Signup(ctx, tc.name, tc.email, tc.password); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Signup(%q,%q): expected ErrInvalidInput, got %v", tc.name, tc.email, err)
		}
	}

	if _, err := dir.Signup(ctx, "A", "a@example.com", "longenough"); err != nil {
		t.Fatal(err)
	}
	if _, err := dir.Signup(ctx, "B", "A@example.com", "longenough"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestAuthenticateUnknownSubject(t *testing.T) {
	dir, _ := newTestDirectory(t)
	token, _, err := dir.Tokens().Issue("ghost@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dir.Authenticate(context.Background(), token); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUpdateProfileAndPassword(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()
	alice, err := dir.Signup(ctx, "Alice", "alice@example.com", "password-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dir.Signup(ctx, "Bob", "bob@example.com", "password-2"); err != nil {
		t.Fatal(err)
	}

	if _, err := dir.UpdateProfile(ctx, alice.ID, "Alice", "bob@example.com"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	updated, err := dir.UpdateProfile(ctx, alice.ID, "Alice B", "alice.b@example.com")
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.Name != "Alice B" || updated.Email != "alice.b@example.com" {
		t.Fatalf("unexpected profile: %+v", updated.User)
	}
	if _, err := dir.Authenticate(ctx, alice.Token); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("old token should no longer resolve, got %v", err)
	}

	if err := dir.ChangePassword(ctx, alice.ID, "wrong", "password-3"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := dir.ChangePassword(ctx, alice.ID, "password-1", "password-3"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := dir.Login(ctx, "alice.b@example.com", "password-3"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}
