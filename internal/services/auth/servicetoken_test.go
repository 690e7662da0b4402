package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceTokenRoundTrip(t *testing.T) {
	manager := NewServiceTokenManager("test-secret")
	require.True(t, manager.Enabled())

	token, err := manager.Sign("payments-service", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	caller, err := manager.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "payments-service", caller)
}

func TestServiceTokenRejectsWrongSecret(t *testing.T) {
	signer := NewServiceTokenManager("secret-a")
	verifier := NewServiceTokenManager("secret-b")

	token, err := signer.Sign("payments-service", time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorContains(t, err, "invalid service token")
}

func TestServiceTokenRejectsExpired(t *testing.T) {
	manager := NewServiceTokenManager("test-secret")

	claims := jwt.RegisteredClaims{
		Subject:   "payments-service",
		Audience:  jwt.ClaimStrings{serviceTokenAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = manager.Verify(token)
	assert.Error(t, err)
}

func TestServiceTokenRejectsWrongAudience(t *testing.T) {
	manager := NewServiceTokenManager("test-secret")

	claims := jwt.RegisteredClaims{
		Subject:   "payments-service",
		Audience:  jwt.ClaimStrings{"some-other-service"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = manager.Verify(token)
	assert.Error(t, err)
}

func TestServiceTokenRejectsGarbage(t *testing.T) {
	manager := NewServiceTokenManager("test-secret")

	_, err := manager.Verify("not-a-token")
	assert.Error(t, err)
}

func TestServiceTokenDisabledWithoutSecret(t *testing.T) {
	manager := NewServiceTokenManager("")
	assert.False(t, manager.Enabled())

	_, err := manager.Sign("payments-service", time.Minute)
	assert.Error(t, err)

	_, err = manager.Verify("anything")
	assert.Error(t, err)
}
