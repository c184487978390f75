package admission

import (
	"context"
	"errors"
	"log/slog"

	"swarmgate/credentials"
	"swarmgate/storage"
)

// AddressBans answers the range-ban question for a textual address.
type AddressBans interface {
	IsAddressBanned(ctx context.Context, address string) (bool, error)
}

// PasskeyDirectory resolves announce passkeys to accounts.
type PasskeyDirectory interface {
	FindByPasskey(ctx context.Context, passkey string) (*storage.Account, error)
}

// CredentialVerifier validates bearer tokens.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (*credentials.Identity, error)
}

// Resources answers the existence question for a resource id.
type Resources interface {
	Exists(ctx context.Context, resourceID string) (bool, error)
}

// AddressBanCheck denies requests from banned address ranges. A registry
// error means the ban list cannot be consulted at all, which fails closed
// as a temporary denial.
func AddressBanCheck(bans AddressBans, logger *slog.Logger) Check {
	logger = orDefault(logger)
	return func(ctx context.Context, req Request) Decision {
		banned, err := bans.IsAddressBanned(ctx, req.Address)
		if err != nil {
			logger.Error("address ban check unavailable", "error", err)
			return Deny(ReasonTemporarilyUnavailable)
		}
		if banned {
			return Deny(ReasonAddressBanned)
		}
		return Allow
	}
}

// PasskeyCheck denies tracker requests whose passkey is missing, unknown,
// or belongs to a banned account. All three cases share one reason code so
// a probing client cannot enumerate which passkeys exist. The account's
// denormalized banned flag is authoritative here; ban mutations reconcile
// it transactionally.
func PasskeyCheck(directory PasskeyDirectory, logger *slog.Logger) Check {
	logger = orDefault(logger)
	return func(ctx context.Context, req Request) Decision {
		if req.Passkey == "" {
			return Deny(ReasonUnauthorized)
		}
		account, err := directory.FindByPasskey(ctx, req.Passkey)
		if errors.Is(err, storage.ErrAccountNotFound) {
			return Deny(ReasonUnauthorized)
		}
		if err != nil {
			logger.Error("passkey lookup unavailable", "error", err)
			return Deny(ReasonTemporarilyUnavailable)
		}
		if account.Banned {
			return Deny(ReasonUnauthorized)
		}
		return Allow
	}
}

// CredentialCheck denies API requests whose bearer token fails
// verification. A revocation-store outage is the one case that is not the
// client's fault, so it surfaces as temporary rather than unauthorized.
func CredentialCheck(verifier CredentialVerifier, logger *slog.Logger) Check {
	logger = orDefault(logger)
	return func(ctx context.Context, req Request) Decision {
		if req.Credential == "" {
			return Deny(ReasonUnauthorized)
		}
		_, err := verifier.Verify(ctx, req.Credential)
		if errors.Is(err, credentials.ErrStoreUnavailable) {
			logger.Error("credential check unavailable", "error", err)
			return Deny(ReasonTemporarilyUnavailable)
		}
		if err != nil {
			return Deny(ReasonUnauthorized)
		}
		return Allow
	}
}

// ResourceCheck denies requests for resources the service does not track.
func ResourceCheck(resources Resources, logger *slog.Logger) Check {
	logger = orDefault(logger)
	return func(ctx context.Context, req Request) Decision {
		exists, err := resources.Exists(ctx, req.ResourceID)
		if err != nil {
			logger.Error("resource check unavailable", "error", err)
			return Deny(ReasonTemporarilyUnavailable)
		}
		if !exists {
			return Deny(ReasonResourceNotFound)
		}
		return Allow
	}
}

// NewTrackerPipeline is the standard chain for tracker protocol requests:
// address ban, then passkey, then resource existence.
func NewTrackerPipeline(bans AddressBans, directory PasskeyDirectory, resources Resources, logger *slog.Logger) *Pipeline {
	return NewPipeline(
		AddressBanCheck(bans, logger),
		PasskeyCheck(directory, logger),
		ResourceCheck(resources, logger),
	)
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
