package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_RequiresMinimumLength(t *testing.T) {
	_, err := HashPassword("short")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
}

func TestHashPassword_AndVerify(t *testing.T) {
	password := "this-is-a-long-password"
	hash, err := HashPassword(password)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "v1$180000$"))

	assert.True(t, VerifyPassword(password, hash))
	assert.False(t, VerifyPassword("wrong-password-entirely", hash))
}

func TestHashPassword_SaltsEveryHash(t *testing.T) {
	a, err := HashPassword("same-password-twice")
	require.NoError(t, err)
	b, err := HashPassword("same-password-twice")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyPassword_RejectsMalformedAndWeakHashes(t *testing.T) {
	weak, err := hashWithRounds("a-perfectly-long-password", 10)
	require.NoError(t, err)
	assert.False(t, VerifyPassword("a-perfectly-long-password", weak))

	for _, encoded := range []string{"", "v1$1$2", "v2$180000$c2FsdA$ZGlnZXN0", "v1$abc$c2FsdA$ZGlnZXN0"} {
		assert.False(t, VerifyPassword("a-perfectly-long-password", encoded), encoded)
	}
}

func TestNewToken(t *testing.T) {
	a, err := NewToken(32)
	require.NoError(t, err)
	b, err := NewToken(32)
	require.NoError(t, err)
	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)

	_, err = NewToken(0)
	assert.Error(t, err)
}
