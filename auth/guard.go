package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrUnauthenticated is the only authentication failure callers ever see.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrForbidden signals a valid credential with the wrong role.
	ErrForbidden = errors.New("auth: forbidden")
)

// UserLookup resolves the subject of a verified credential.
type UserLookup interface {
	GetUserByID(ctx context.Context, userID string) (User, error)
}

// Principal is the authenticated caller of one request.
type Principal struct {
	User User
	// Role is the role embedded in the credential, which may be narrower than
	// the stored identity role (an admin can hold a client session).
	Role      Role
	ExpiresAt time.Time
}

// HandlerFunc receives the principal resolved for the request.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, p Principal)

// ErrorWriter renders guard failures.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Guard authenticates and authorizes inbound requests. It keeps no per-request state.
type Guard struct {
	codec    *Codec
	users    UserLookup
	logger   *slog.Logger
	writeErr ErrorWriter
}

func NewGuard(codec *Codec, users UserLookup, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		codec:    codec,
		users:    users,
		logger:   logger,
		writeErr: defaultErrorWriter,
	}
}

func (g *Guard) WithErrorWriter(fn ErrorWriter) *Guard {
	if fn != nil {
		g.writeErr = fn
	}
	return g
}

// Authenticate extracts the bearer credential, verifies it and resolves the identity.
func (g *Guard) Authenticate(r *http.Request) (Principal, error) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return Principal{}, ErrUnauthenticated
	}

	cred, err := g.codec.Verify(token)
	if err != nil {
		g.logger.DebugContext(r.Context(), "credential rejected", slog.Any("error", err))
		return Principal{}, ErrUnauthenticated
	}

	user, err := g.users.GetUserByID(r.Context(), cred.SubjectID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			g.logger.DebugContext(r.Context(), "credential subject missing", slog.String("user_id", cred.SubjectID))
			return Principal{}, ErrUnauthenticated
		}
		return Principal{}, fmt.Errorf("auth: resolve subject: %w", err)
	}

	return Principal{User: user, Role: cred.Role, ExpiresAt: cred.ExpiresAt}, nil
}

// Authorize checks that p acts with role.
func (g *Guard) Authorize(p Principal, role Role) error {
	if p.Role != role {
		return ErrForbidden
	}
	if role == RoleAdmin && p.User.Role != RoleAdmin {
		return ErrForbidden
	}
	return nil
}

// Authenticated wraps next so it only runs for a verified caller of any role.
func (g *Guard) Authenticated(next HandlerFunc) http.Handler {
	return g.handler("", next)
}

// Require wraps next so it only runs for a verified caller acting with role.
func (g *Guard) Require(role Role, next HandlerFunc) http.Handler {
	return g.handler(role, next)
}

func (g *Guard) handler(role Role, next HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := g.Authenticate(r)
		if err != nil {
			g.writeErr(w, r, err)
			return
		}
		if role != "" {
			if err := g.Authorize(p, role); err != nil {
				g.writeErr(w, r, err)
				return
			}
		}
		r = r.WithContext(WithPrincipal(r.Context(), p))
		next(w, r, p)
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type contextKey string

const principalContextKey contextKey = "signaldesk_principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}

func defaultErrorWriter(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, ErrUnauthenticated):
		status, msg = http.StatusUnauthorized, "authentication required"
	case errors.Is(err, ErrForbidden):
		status, msg = http.StatusForbidden, "insufficient permissions"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
