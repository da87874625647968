package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"bazaar.app/internal/auth"
	"bazaar.app/internal/obs"
)

// Attributes are attached to a connection once the handshake succeeds.
type Attributes map[string]any

const (
	AttrUserID = "userId"
	AttrEmail  = "email"
	AttrAdmin  = "admin"
)

// Decision is the outcome of a handshake.
type Decision uint8

const (
	Denied Decision = iota
	Allowed
)

func (d Decision) String() string {
	if d == Allowed {
		return "allowed"
	}
	return "denied"
}

// UserFinder resolves token subjects to accounts.
type UserFinder interface {
	FindByEmail(ctx context.Context, email string) (*auth.User, error)
}

// Handshake authenticates upgrade requests from the token query parameter.
type Handshake struct {
	tokens *auth.TokenService
	users  UserFinder
	log    *slog.Logger
}

// HandshakeOption configures a Handshake.
type HandshakeOption func(*Handshake)

// WithLogger sets the logger that records denied handshakes.
func WithLogger(l *slog.Logger) HandshakeOption {
	return func(h *Handshake) {
		if l != nil {
			h.log = l
		}
	}
}

func NewHandshake(tokens *auth.TokenService, users UserFinder, opts ...HandshakeOption) (*Handshake, error) {
	if tokens == nil || users == nil {
		return nil, errors.New("realtime: handshake needs a token service and a user finder")
	}
	h := &Handshake{tokens: tokens, users: users}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handshake) logger() *slog.Logger {
	if h.log != nil {
		return h.log
	}
	return obs.Logger()
}

// Authorize validates the token query parameter, resolves its subject and
// records the user in attrs. On any failure attrs is left untouched.
func (h *Handshake) Authorize(r *http.Request, attrs Attributes) Decision {
	token := tokenFromQuery(r)
	if token == "" {
		return h.deny(r, "missing_token", nil)
	}
	subject, err := h.tokens.Validate(token)
	if err != nil {
		return h.deny(r, tokenReason(err), err)
	}
	user, err := h.users.FindByEmail(r.Context(), subject)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return h.deny(r, "user_not_found", err)
		}
		return h.deny(r, "lookup_failed", err)
	}
	if err := h.tokens.ValidateFor(token, user.Email); err != nil {
		return h.deny(r, "subject_mismatch", err)
	}

	attrs[AttrUserID] = user.ID
	attrs[AttrEmail] = user.Email
	attrs[AttrAdmin] = user.IsAdmin
	obs.WSHandshake(Allowed.String(), "ok")
	return Allowed
}

func (h *Handshake) deny(r *http.Request, reason string, err error) Decision {
	obs.WSHandshake(Denied.String(), reason)
	args := []any{"reason", reason, "remote", r.RemoteAddr}
	if err != nil {
		args = append(args, "error", err)
	}
	h.logger().Info("ws handshake denied", args...)
	return Denied
}

func tokenFromQuery(r *http.Request) string {
	raw := strings.TrimSpace(r.URL.Query().Get("token"))
	const prefix = "bearer "
	if len(raw) >= len(prefix) && strings.EqualFold(raw[:len(prefix)], prefix) {
		raw = raw[len(prefix):]
	}
	return strings.TrimSpace(raw)
}

func tokenReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "expired"
	case errors.Is(err, auth.ErrInvalidSignature):
		return "bad_signature"
	default:
		return "invalid_token"
	}
}

// SessionFromAttributes rebuilds the session recorded by Authorize.
func SessionFromAttributes(attrs Attributes) (auth.Session, bool) {
	id, ok := attrs[AttrUserID].(int64)
	if !ok || id <= 0 {
		return auth.Session{}, false
	}
	email, _ := attrs[AttrEmail].(string)
	admin, _ := attrs[AttrAdmin].(bool)
	return auth.Session{UserID: id, Email: email, Admin: admin}, true
}
