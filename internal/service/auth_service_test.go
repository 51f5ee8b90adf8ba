package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/draftsync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuth(now time.Time) *AuthService {
	return &AuthService{
		secret: []byte("test-secret"),
		expiry: time.Hour,
		now:    func() time.Time { return now },
	}
}

func TestAuthService_SignAndValidate(t *testing.T) {
	now := time.Now()
	s := newTestAuth(now)

	signed, jti, err := s.sign(42)
	require.NoError(t, err)

	claims, err := s.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, 42, claims.UserID)
	assert.Equal(t, TokenTypeStudent, claims.TokenType)
	assert.Equal(t, jti, claims.ID)
	assert.Equal(t, "42", claims.Subject)
}

func TestAuthService_RejectsExpired(t *testing.T) {
	issued := time.Now()
	signed, _, err := newTestAuth(issued).sign(1)
	require.NoError(t, err)

	_, err = newTestAuth(issued.Add(2 * time.Hour)).ValidateToken(signed)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestAuthService_RejectsOtherSecret(t *testing.T) {
	signed, _, err := newTestAuth(time.Now()).sign(1)
	require.NoError(t, err)

	other := newTestAuth(time.Now())
	other.secret = []byte("another-secret")
	_, err = other.ValidateToken(signed)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestAuthService_RejectsNonStudentToken(t *testing.T) {
	s := newTestAuth(time.Now())
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		TokenType:        "admin",
		UserID:           1,
	})
	signed, err := token.SignedString(s.secret)
	require.NoError(t, err)

	_, err = s.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrUnsupportedTokenUse)
}

func TestAuthService_RejectsNoneAlgorithm(t *testing.T) {
	s := newTestAuth(time.Now())
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{TokenType: TokenTypeStudent, UserID: 1})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = s.ValidateToken(signed)
	assert.Error(t, err)
}

func TestAuthService_SingleDeviceSession(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	s := NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour}, rdb)

	assert.ErrorIs(t, s.ValidateStudentSession(ctx, 5, "anything"), ErrNoActiveSession)

	first, err := s.IssueStudentToken(ctx, 5)
	require.NoError(t, err)
	firstClaims, err := s.ValidateToken(first)
	require.NoError(t, err)
	require.NoError(t, s.ValidateStudentSession(ctx, 5, firstClaims.ID))

	second, err := s.IssueStudentToken(ctx, 5)
	require.NoError(t, err)
	secondClaims, err := s.ValidateToken(second)
	require.NoError(t, err)

	assert.ErrorIs(t, s.ValidateStudentSession(ctx, 5, firstClaims.ID), ErrSessionInvalidated, "older device is signed out")
	assert.NoError(t, s.ValidateStudentSession(ctx, 5, secondClaims.ID))

	require.NoError(t, s.ResetStudentSession(ctx, 5))
	assert.ErrorIs(t, s.ValidateStudentSession(ctx, 5, secondClaims.ID), ErrNoActiveSession)
}
