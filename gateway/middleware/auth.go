// Package middleware carries the HTTP concerns wrapped around the gateway
// handlers: bearer authentication, per-client rate limiting, and request
// observability.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"swarmgate/credentials"
	"swarmgate/storage"
)

type contextKey string

// ContextKeyIdentity holds the *credentials.Identity of the authenticated
// caller.
const ContextKeyIdentity contextKey = "gateway.identity"

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*credentials.Identity, error)
}

// RoleDirectory resolves an authenticated identity to its stored account,
// for role checks.
type RoleDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*storage.Account, error)
}

// Authenticator guards routes behind bearer credentials.
type Authenticator struct {
	verifier TokenVerifier
	logger   *slog.Logger
}

// NewAuthenticator builds the bearer middleware.
func NewAuthenticator(verifier TokenVerifier, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{verifier: verifier, logger: logger}
}

// Middleware rejects requests without a valid bearer credential. A
// revocation-store outage maps to 503 rather than 401: the caller's token
// may be perfectly valid, the service just cannot prove it.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r.Header.Get("Authorization"))
		if token == "" {
			writeDenial(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		identity, err := a.verifier.Verify(r.Context(), token)
		if errors.Is(err, credentials.ErrStoreUnavailable) {
			a.logger.Error("credential verification unavailable", "error", err)
			writeDenial(w, http.StatusServiceUnavailable, "temporarily_unavailable")
			return
		}
		if err != nil {
			writeDenial(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), ContextKeyIdentity, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin wraps a handler so only accounts with the admin role pass.
// Must run inside Middleware, which establishes the identity.
func (a *Authenticator) RequireAdmin(directory RoleDirectory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				writeDenial(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			account, err := directory.FindByID(r.Context(), identity.ID)
			if errors.Is(err, storage.ErrAccountNotFound) {
				writeDenial(w, http.StatusForbidden, "forbidden")
				return
			}
			if err != nil {
				a.logger.Error("role lookup unavailable", "error", err)
				writeDenial(w, http.StatusServiceUnavailable, "temporarily_unavailable")
				return
			}
			if account.Banned || account.Role != storage.RoleAdmin {
				writeDenial(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (*credentials.Identity, bool) {
	identity, ok := ctx.Value(ContextKeyIdentity).(*credentials.Identity)
	return identity, ok
}

func extractBearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeDenial(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + reason + `"}`))
}
