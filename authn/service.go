// Package authn sequences the API login path: lockout pre-check, identity
// and password verification, lockout bookkeeping, then credential issuance.
// Denials carry stable reason codes; an unknown handle and a wrong password
// are indistinguishable to the caller, and a failed attempt against an
// unknown handle still counts toward the address's lockout so handle
// probing is throttled the same as password guessing.
package authn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"swarmgate/credentials"
	"swarmgate/storage"
)

// Reason codes attached to authentication denials.
type Reason string

const (
	ReasonLockedOut              Reason = "locked_out"
	ReasonInvalidCredentials     Reason = "invalid_credentials"
	ReasonAccountBanned          Reason = "account_banned"
	ReasonTemporarilyUnavailable Reason = "temporarily_unavailable"
)

// DeniedError is a typed authentication denial.
type DeniedError struct {
	Reason Reason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("authentication denied: %s", e.Reason)
}

// Denied builds a denial.
func Denied(reason Reason) *DeniedError {
	return &DeniedError{Reason: reason}
}

// LockoutGuard is the brute-force guard consulted around every attempt.
type LockoutGuard interface {
	IsLocked(ctx context.Context, address string) (bool, error)
	RecordFailure(ctx context.Context, address string) error
	Clear(ctx context.Context, address string) error
}

// AccountDirectory resolves login handles to accounts.
type AccountDirectory interface {
	FindByHandle(ctx context.Context, handle string) (*storage.Account, error)
}

// SecretVerifier compares a presented secret against a stored hash. The
// hashing mechanics live outside the admission core.
type SecretVerifier interface {
	Verify(hash, secret string) (bool, error)
}

// TokenService issues and revokes bearer credentials.
type TokenService interface {
	Issue(ctx context.Context, identity credentials.Identity) (string, error)
	Revoke(ctx context.Context, token string) error
}

// Service is the login/logout surface exposed to the API layer.
type Service struct {
	guard    LockoutGuard
	accounts AccountDirectory
	verifier SecretVerifier
	tokens   TokenService
	logger   *slog.Logger
}

// NewService wires the login sequence.
func NewService(guard LockoutGuard, accounts AccountDirectory, verifier SecretVerifier, tokens TokenService, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{guard: guard, accounts: accounts, verifier: verifier, tokens: tokens, logger: logger}
}

// Authenticate runs the full login sequence for one attempt from address.
// On success it clears the address's failure counter and returns a signed
// credential; on failure it returns a DeniedError with a stable reason.
func (s *Service) Authenticate(ctx context.Context, handle, secret, address string) (string, error) {
	locked, err := s.guard.IsLocked(ctx, address)
	if err != nil {
		// Cannot confirm the address is clear: fail closed.
		s.logger.Error("lockout check unavailable", "error", err)
		return "", Denied(ReasonTemporarilyUnavailable)
	}
	if locked {
		return "", Denied(ReasonLockedOut)
	}

	account, err := s.accounts.FindByHandle(ctx, handle)
	if errors.Is(err, storage.ErrAccountNotFound) {
		return "", s.failAttempt(ctx, address)
	}
	if err != nil {
		s.logger.Error("account lookup unavailable", "error", err)
		return "", Denied(ReasonTemporarilyUnavailable)
	}

	ok, err := s.verifier.Verify(account.PasswordHash, secret)
	if err != nil {
		s.logger.Error("password verification failed", "handle", handle, "error", err)
		return "", Denied(ReasonTemporarilyUnavailable)
	}
	if !ok {
		return "", s.failAttempt(ctx, address)
	}

	if account.Banned {
		return "", Denied(ReasonAccountBanned)
	}

	if err := s.guard.Clear(ctx, address); err != nil {
		// The login itself succeeded; a lingering counter only shortens the
		// address's remaining failure budget.
		s.logger.Warn("lockout counter clear failed", "address", address, "error", err)
	}

	token, err := s.tokens.Issue(ctx, credentials.Identity{ID: account.ID, Handle: account.Handle})
	if err != nil {
		s.logger.Error("credential issuance failed", "handle", handle, "error", err)
		return "", Denied(ReasonTemporarilyUnavailable)
	}
	return token, nil
}

// Logout revokes the presented credential.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}

func (s *Service) failAttempt(ctx context.Context, address string) error {
	if err := s.guard.RecordFailure(ctx, address); err != nil {
		s.logger.Error("lockout counter increment failed", "address", address, "error", err)
	}
	return Denied(ReasonInvalidCredentials)
}
