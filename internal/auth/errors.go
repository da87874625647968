package auth

import "errors"

var (
	// ErrInvalidToken covers every token failure. The specific errors below
	// also match it with errors.Is.
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrExpiredToken     = tokenError("auth: token expired")
	ErrInvalidSignature = tokenError("auth: invalid token signature")

	ErrUserNotFound       = errors.New("auth: user not found")
	ErrEmailTaken         = errors.New("auth: email already registered")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrUnauthenticated    = errors.New("auth: unauthenticated")
)

type tokenErr struct{ msg string }

func tokenError(msg string) error { return &tokenErr{msg: msg} }

func (e *tokenErr) Error() string { return e.msg }

func (e *tokenErr) Is(target error) bool { return target == ErrInvalidToken }
