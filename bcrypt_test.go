package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.HashPassword("secret123")
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", hash)

	assert.NoError(t, h.ComparePasswordAndHash("secret123", hash))
	assert.ErrorIs(t, h.ComparePasswordAndHash("wrong", hash), ErrMismatchedHashAndPassword)

	other, err := h.HashPassword("secret123")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "salted")
}

func TestBcryptHasher_EmptyPassword(t *testing.T) {
	_, err := NewBcryptHasher(bcrypt.MinCost).HashPassword("")
	assert.ErrorIs(t, err, ErrNoEmptyString)
}

func TestBcryptHasher_CostBounds(t *testing.T) {
	assert.Equal(t, bcrypt.MinCost, NewBcryptHasher(1).Cost)
	assert.Equal(t, bcrypt.MaxCost, NewBcryptHasher(99).Cost)
	assert.Equal(t, passwordHashCost(), NewBcryptHasher(0).Cost)
}

func TestBcryptHasher_MalformedHash(t *testing.T) {
	err := NewBcryptHasher(bcrypt.MinCost).ComparePasswordAndHash("secret123", "not-a-hash")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMismatchedHashAndPassword)
}
