// Package security hashes login passwords and mints opaque session tokens.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	passwordHashVersion = "v1"
	iterations          = 180000

	// MinPasswordLength applies to signup, setup and password changes.
	MinPasswordLength = 12
)

var ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)

func HashPassword(password string) (string, error) {
	return hashWithRounds(password, iterations)
}

func hashWithRounds(password string, rounds int) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	digest := deriveDigest(password, salt, rounds)
	return fmt.Sprintf("%s$%d$%s$%s",
		passwordHashVersion,
		rounds,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	), nil
}

// VerifyPassword reports whether password matches an encoded hash produced by
// HashPassword. Malformed or weakened hashes never verify.
func VerifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != passwordHashVersion {
		return false
	}

	rounds, err := strconv.Atoi(parts[1])
	if err != nil || rounds < 100000 {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return false
	}

	expected, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(expected) != sha256.Size {
		return false
	}

	return subtle.ConstantTimeCompare(deriveDigest(password, salt, rounds), expected) == 1
}

// NewToken returns a URL-safe random token carrying n bytes of entropy.
func NewToken(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("token length must be positive")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func deriveDigest(password string, salt []byte, rounds int) []byte {
	digest := sha256.Sum256(append(append([]byte{}, salt...), password...))
	buf := digest[:]
	for i := 1; i < rounds; i++ {
		next := sha256.Sum256(append(buf, salt...))
		buf = next[:]
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out
}
