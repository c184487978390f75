package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"swarmgate/kvstore"
)

type downStore struct {
	kvstore.Store
}

func (d *downStore) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("store unreachable")
}

func (d *downStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return errors.New("store unreachable")
}

func newTestService(t *testing.T) (*Service, *kvstore.MemoryStore, *time.Time) {
	t.Helper()
	store := kvstore.NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	store.SetClock(func() time.Time { return now })
	service, err := NewService(store, Config{
		SigningSecret: "test-secret-please-rotate",
		Lifetime:      time.Hour,
		Issuer:        "swarmgate",
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	service.SetClock(func() time.Time { return now })
	return service, store, &now
}

func testIdentity() Identity {
	return Identity{ID: uuid.New(), Handle: "alice"}
}

func TestIssueAndVerify(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	identity := testIdentity()

	token, err := service.Issue(ctx, identity)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	verified, err := service.Verify(ctx, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.ID != identity.ID || verified.Handle != identity.Handle {
		t.Fatalf("identity mismatch: %+v", verified)
	}
}

func TestIssueRejectsIncompleteIdentity(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.Issue(ctx, Identity{Handle: "alice"}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity for missing id, got %v", err)
	}
	if _, err := service.Issue(ctx, Identity{ID: uuid.New()}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity for missing handle, got %v", err)
	}
}

func TestVerifyAfterExpiry(t *testing.T) {
	service, _, now := newTestService(t)
	ctx := context.Background()

	token, err := service.Issue(ctx, testIdentity())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	*now = now.Add(time.Hour + time.Second)
	if _, err := service.Verify(ctx, token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	for _, token := range []string{"", "garbage", "aa.bb.cc"} {
		if _, err := service.Verify(ctx, token); !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected ErrMalformed for %q, got %v", token, err)
		}
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	service, _, _ := newTestService(t)
	other, err := NewService(kvstore.NewMemoryStore(), Config{
		SigningSecret: "different-secret",
		Lifetime:      time.Hour,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	token, err := other.Issue(ctx, testIdentity())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := service.Verify(ctx, token); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for foreign signature, got %v", err)
	}
}

func TestRevokeBeforeExpiry(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	token, err := service.Issue(ctx, testIdentity())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := service.Revoke(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := service.Verify(ctx, token); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
	// Revoking again stays a no-op.
	if err := service.Revoke(ctx, token); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
}

func TestRevokeExpiredTokenIsNoOp(t *testing.T) {
	service, store, now := newTestService(t)
	ctx := context.Background()

	token, err := service.Issue(ctx, testIdentity())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	*now = now.Add(2 * time.Hour)
	if err := service.Revoke(ctx, token); err != nil {
		t.Fatalf("revoking an expired token should be a no-op: %v", err)
	}
	// Nothing should have been written to the denylist.
	if _, err := store.Get(ctx, denylistPrefix); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("unexpected denylist state: %v", err)
	}
}

func TestDenylistEntryExpiresWithToken(t *testing.T) {
	service, _, now := newTestService(t)
	ctx := context.Background()

	token, err := service.Issue(ctx, testIdentity())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	*now = now.Add(30 * time.Minute)
	if err := service.Revoke(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := service.Verify(ctx, token); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
	// Once the token's own expiry passes, the verdict becomes Expired and
	// the denylist entry has aged out with it.
	*now = now.Add(31 * time.Minute)
	if _, err := service.Verify(ctx, token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired after natural expiry, got %v", err)
	}
}

func TestDenylistOutageFailsClosed(t *testing.T) {
	service, _, now := newTestService(t)
	ctx := context.Background()
	token, err := service.Issue(ctx, testIdentity())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	broken, err := NewService(&downStore{}, Config{
		SigningSecret: "test-secret-please-rotate",
		Lifetime:      time.Hour,
		Issuer:        "swarmgate",
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	broken.SetClock(func() time.Time { return *now })
	if _, err := broken.Verify(ctx, token); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	store := kvstore.NewMemoryStore()
	if _, err := NewService(store, Config{Lifetime: time.Hour}); err == nil {
		t.Fatalf("missing secret should be rejected")
	}
	if _, err := NewService(store, Config{SigningSecret: "s", Lifetime: 0}); err == nil {
		t.Fatalf("zero lifetime should be rejected")
	}
	if _, err := NewService(store, Config{SigningSecret: "s", Lifetime: time.Hour, SigningAlgorithm: "RS256"}); err == nil {
		t.Fatalf("non-HMAC algorithm should be rejected")
	}
	if _, err := NewService(store, Config{SigningSecret: "s", Lifetime: time.Hour, SigningAlgorithm: "HS512"}); err != nil {
		t.Fatalf("HS512 should be accepted: %v", err)
	}
}
