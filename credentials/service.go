// Package credentials issues, verifies, and revokes the signed bearer
// tokens that authenticate API requests. Verification checks the signature
// and expiry locally before spending a store round-trip on the revocation
// denylist; revocation inserts a denylist entry whose TTL equals the
// token's remaining lifetime, so the denylist can never outgrow the set of
// still-live tokens.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"swarmgate/kvstore"
)

// Typed verification and issuance failures.
var (
	ErrInvalidIdentity  = errors.New("credentials: identity missing required fields")
	ErrMalformed        = errors.New("credentials: token malformed or signature invalid")
	ErrExpired          = errors.New("credentials: token expired")
	ErrRevoked          = errors.New("credentials: token revoked")
	ErrStoreUnavailable = errors.New("credentials: revocation store unavailable")
)

const denylistPrefix = "denylist:"

// Identity is the subject a credential vouches for.
type Identity struct {
	ID     uuid.UUID
	Handle string
}

// Config carries the signing policy. The secret and algorithm come from
// deployment configuration; supported algorithms are the HMAC family.
type Config struct {
	SigningSecret string
	// SigningAlgorithm is one of HS256, HS384, HS512. Defaults to HS256.
	SigningAlgorithm string
	// Lifetime bounds how long an issued credential stays valid.
	Lifetime time.Duration
	Issuer   string
}

type claims struct {
	Handle string `json:"handle,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and validates bearer credentials against a shared denylist.
type Service struct {
	secret   []byte
	method   jwt.SigningMethod
	lifetime time.Duration
	issuer   string
	store    kvstore.Store
	nowFn    func() time.Time
}

// NewService validates the signing configuration and builds the service.
func NewService(store kvstore.Store, cfg Config) (*Service, error) {
	secret := strings.TrimSpace(cfg.SigningSecret)
	if secret == "" {
		return nil, errors.New("credentials: signing secret required")
	}
	if cfg.Lifetime <= 0 {
		return nil, errors.New("credentials: lifetime must be positive")
	}
	algorithm := strings.ToUpper(strings.TrimSpace(cfg.SigningAlgorithm))
	if algorithm == "" {
		algorithm = "HS256"
	}
	method := jwt.GetSigningMethod(algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok || method == nil {
		return nil, fmt.Errorf("credentials: unsupported signing algorithm %q", algorithm)
	}
	return &Service{
		secret:   []byte(secret),
		method:   method,
		lifetime: cfg.Lifetime,
		issuer:   strings.TrimSpace(cfg.Issuer),
		store:    store,
		nowFn:    time.Now,
	}, nil
}

// SetClock overrides the service clock for tests.
func (s *Service) SetClock(nowFn func() time.Time) {
	if nowFn != nil {
		s.nowFn = nowFn
	}
}

// Issue signs a credential for the identity: subject is the account id,
// jti is a fresh UUID used as the revocation key, and expiry is the
// configured lifetime from now.
func (s *Service) Issue(ctx context.Context, identity Identity) (string, error) {
	if identity.ID == uuid.Nil || strings.TrimSpace(identity.Handle) == "" {
		return "", ErrInvalidIdentity
	}
	now := s.nowFn().UTC()
	token := jwt.NewWithClaims(s.method, claims{
		Handle: identity.Handle,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID.String(),
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// Verify validates the token and returns the identity it vouches for.
// Signature and expiry are checked locally first; only a token that passes
// those cheap checks is looked up on the denylist. A denylist store failure
// is ErrStoreUnavailable: revocation cannot be confirmed absent, so the
// caller must reject.
func (s *Service) Verify(ctx context.Context, token string) (*Identity, error) {
	parsed, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	if parsed.ID == "" {
		return nil, ErrMalformed
	}
	_, err = s.store.Get(ctx, denylistPrefix+parsed.ID)
	switch {
	case err == nil:
		return nil, ErrRevoked
	case errors.Is(err, kvstore.ErrNotFound):
		// Not revoked.
	default:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	accountID, err := uuid.Parse(parsed.Subject)
	if err != nil {
		return nil, ErrMalformed
	}
	return &Identity{ID: accountID, Handle: parsed.Handle}, nil
}

// Revoke denylists the token for the remainder of its lifetime. Revoking an
// already-expired token is a no-op, and revoking twice is idempotent.
func (s *Service) Revoke(ctx context.Context, token string) error {
	parsed, err := s.parse(token)
	if errors.Is(err, ErrExpired) {
		return nil
	}
	if err != nil {
		return err
	}
	if parsed.ID == "" || parsed.ExpiresAt == nil {
		return ErrMalformed
	}
	remaining := parsed.ExpiresAt.Time.Sub(s.nowFn())
	if remaining <= 0 {
		return nil
	}
	key := denylistPrefix + parsed.ID
	if err := s.store.SetWithTTL(ctx, key, s.nowFn().UTC().Format(time.RFC3339), remaining); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Service) parse(token string) (*claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMalformed
	}
	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != s.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.nowFn), jwt.WithExpirationRequired())
	switch {
	case err == nil:
		return &parsed, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	default:
		return nil, ErrMalformed
	}
}
