// Package secret hashes and verifies the shared secrets this gateway holds
// at rest: the agent secret, the Notifier pairing secret, and the admin
// session PIN. It never stores or logs a plaintext value.
package secret

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrUnknownHashType is returned when a stored hash has an unrecognized
// format.
var ErrUnknownHashType = errors.New("secret: unknown hash type")

// argon2idParams follows OWASP's current minimums for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// Hash returns the SHA-256 hex digest of a raw value, prefixed "sha256:".
// This is the fast-path format for values seeded directly into the config
// file.
func Hash(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return "sha256:" + hex.EncodeToString(h[:])
}

// HashArgon2id returns a PHC-format Argon2id hash of raw.
func HashArgon2id(raw string) (string, error) {
	return argon2id.CreateHash(raw, argon2idParams)
}

func detectHashType(stored string) string {
	if strings.HasPrefix(stored, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(stored, "sha256:") {
		return "sha256"
	}
	if len(stored) == 64 && isHexString(stored) {
		return "sha256"
	}
	return "unknown"
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// Verify checks raw against a stored hash in any of the three supported
// formats (Argon2id PHC, "sha256:"-prefixed, or legacy bare 64-hex). The
// SHA-256 comparison is constant-time.
func Verify(raw, stored string) (bool, error) {
	switch detectHashType(stored) {
	case "argon2id":
		return safeArgon2idCompare(raw, stored)
	case "sha256":
		expected := strings.TrimPrefix(stored, "sha256:")
		computed := sha256.Sum256([]byte(raw))
		computedHex := hex.EncodeToString(computed[:])
		return subtle.ConstantTimeCompare([]byte(computedHex), []byte(expected)) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery: the underlying library panics on malformed parameter strings,
// and Verify must never panic on attacker-controlled input.
func safeArgon2idCompare(raw, stored string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("secret: invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(raw, stored)
}
