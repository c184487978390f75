package authn

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// BcryptVerifier implements SecretVerifier with bcrypt hashes.
type BcryptVerifier struct{}

// Verify compares the presented secret against the stored bcrypt hash. A
// mismatch is a clean false; anything else (a corrupt hash, for instance)
// is an error the login path treats as a transient failure.
func (BcryptVerifier) Verify(hash, secret string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HashSecret produces a bcrypt hash at the default cost. Used by fixtures
// and operator tooling; registration lives outside this service.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
