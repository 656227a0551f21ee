package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aabine/flow-realtime/internal/domain"
)

const testSecret = "test-secret"

func TestVerifyRoundTrip(t *testing.T) {
	token, err := Mint(testSecret, "user-1", domain.RoleHospital, time.Hour)
	require.NoError(t, err)

	id, err := NewVerifier(testSecret).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, domain.RoleHospital, id.Role)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := Mint(testSecret, "user-1", domain.RoleVendor, time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier("other-secret").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	token, err := Mint(testSecret, "user-1", domain.RoleDriver, -time.Minute)
	require.NoError(t, err)

	_, err = NewVerifier(testSecret).Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyRejectsUnknownRole(t *testing.T) {
	token, err := Mint(testSecret, "user-1", domain.Role("superuser"), time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier(testSecret).Verify(token)
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestVerifyRejectsWrongSigningMethod(t *testing.T) {
	// alg=none tokens must never pass.
	claims := &Claims{UserID: "user-1", Role: string(domain.RoleAdmin)}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewVerifier(testSecret).Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyFallsBackToSubject(t *testing.T) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-2",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Role: string(domain.RoleVendor),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	id, err := NewVerifier(testSecret).Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-2", id.UserID)
}

func TestVerifyGarbage(t *testing.T) {
	_, err := NewVerifier(testSecret).Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
