package auth

import "context"

type sessionContextKey struct{}

// Session is the authenticated identity bound to one request or one
// real-time connection.
type Session struct {
	UserID int64
	Email  string
	Admin  bool
}

// ContextWithSession stores the session in the context.
func ContextWithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext extracts the session if one was attached.
func SessionFromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return Session{}, false
	}
	s, ok := ctx.Value(sessionContextKey{}).(Session)
	if !ok || s.UserID <= 0 {
		return Session{}, false
	}
	return s, true
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return 0, false
	}
	return s.UserID, true
}

// IsAdmin reports whether the session in ctx belongs to an administrator.
func IsAdmin(ctx context.Context) bool {
	s, ok := SessionFromContext(ctx)
	return ok && s.Admin
}
