package auth

import (
	"live-queue/errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-with-enough-entropy"

func TestTokenManager_RoundTrip(t *testing.T) {
	req := require.New(t)
	tokens := NewTokenManager(testSecret, "live-queue", time.Hour)

	token, err := tokens.GenerateToken("user-1")
	req.NoError(err)

	claims, err := tokens.ValidateToken(token)
	req.NoError(err)
	req.Equal("user-1", claims.UserID)
	req.Equal("user-1", claims.Subject)
	req.Equal("live-queue", claims.Issuer)
}

func TestTokenManager_Failures(t *testing.T) {
	tokens := NewTokenManager(testSecret, "live-queue", time.Hour)
	otherSecret := NewTokenManager("another-secret", "live-queue", time.Hour)
	forged, err := otherSecret.GenerateToken("user-1")
	require.NoError(t, err)

	expiredIssuer := NewTokenManager(testSecret, "live-queue", time.Hour)
	expiredIssuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredIssuer.GenerateToken("user-1")
	require.NoError(t, err)

	otherIssuer := NewTokenManager(testSecret, "someone-else", time.Hour)
	foreign, err := otherIssuer.GenerateToken("user-1")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &CustomClaims{UserID: "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"empty token", "", errors.ErrMissingCredential},
		{"blank token", "   ", errors.ErrMissingCredential},
		{"garbage", "not-a-jwt", errors.ErrInvalidSignature},
		{"signed with another secret", forged, errors.ErrInvalidSignature},
		{"unsigned token", none, errors.ErrInvalidSignature},
		{"foreign issuer", foreign, errors.ErrInvalidSignature},
		{"expired", expired, errors.ErrExpiredCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			claims, err := tokens.ValidateToken(tt.token)
			req.ErrorIs(err, tt.wantErr)
			req.Nil(claims)
		})
	}
}

func TestTokenManager_GenerateRequiresUser(t *testing.T) {
	req := require.New(t)
	tokens := NewTokenManager(testSecret, "live-queue", time.Hour)

	_, err := tokens.GenerateToken("")
	req.ErrorIs(err, errors.ErrTokenGeneration)
}

func TestTokenFromHeader(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", false},
		{"bearer abc", "abc", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer", "", true},
		{"Bearer a b", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			req := require.New(t)
			got, err := TokenFromHeader(tt.header)
			if tt.wantErr {
				req.ErrorIs(err, errors.ErrMissingCredential)
				return
			}
			req.NoError(err)
			req.Equal(tt.want, got)
		})
	}
}
