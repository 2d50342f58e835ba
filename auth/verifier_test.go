package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"live-queue/domain"
	"live-queue/errors"
	"live-queue/mocks"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestVerifier_Verify(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tokens := NewTokenManager(testSecret, "live-queue", time.Hour)
	users := mocks.NewMockIUserRepository(ctrl)
	verifier := NewVerifier(tokens, users, time.Second)
	alice := domain.User{ID: "u-alice", Name: "Alice", Email: "alice@example.com"}

	t.Run("should resolve a valid token to the stored user", func(t *testing.T) {
		req := require.New(t)
		token, err := tokens.GenerateToken(alice.ID)
		req.NoError(err)

		users.EXPECT().GetUserByID(gomock.Any(), alice.ID).
			DoAndReturn(func(ctx context.Context, id string) (domain.User, error) {
				_, hasDeadline := ctx.Deadline()
				req.True(hasDeadline)
				return alice, nil
			}).Times(1)

		user, err := verifier.Verify(context.Background(), token)

		req.NoError(err)
		req.Equal(alice, user)
	})

	t.Run("should not look the user up when the token is missing", func(t *testing.T) {
		req := require.New(t)
		users.EXPECT().GetUserByID(gomock.Any(), gomock.Any()).Times(0)

		_, err := verifier.Verify(context.Background(), "")

		req.ErrorIs(err, errors.ErrMissingCredential)
	})

	t.Run("should report a deleted account as user not found", func(t *testing.T) {
		req := require.New(t)
		token, err := tokens.GenerateToken("u-ghost")
		req.NoError(err)
		users.EXPECT().GetUserByID(gomock.Any(), "u-ghost").
			Return(domain.User{}, errors.ErrUserNotFound).Times(1)

		_, err = verifier.Verify(context.Background(), token)

		req.ErrorIs(err, errors.ErrUserNotFound)
	})

	t.Run("should wrap lookup failures", func(t *testing.T) {
		req := require.New(t)
		token, err := tokens.GenerateToken(alice.ID)
		req.NoError(err)
		boom := stderrors.New("disk on fire")
		users.EXPECT().GetUserByID(gomock.Any(), alice.ID).
			Return(domain.User{}, boom).Times(1)

		_, err = verifier.Verify(context.Background(), token)

		req.ErrorIs(err, boom)
		req.False(errors.IsAuthError(err))
	})
}

func TestMiddleware(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	verifier := mocks.NewMockVerifier(ctrl)
	alice := domain.User{ID: "u-alice", Name: "Alice"}

	handler := Middleware(log, verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(user.Name))
	}))

	t.Run("should pass the resolved user downstream", func(t *testing.T) {
		req := require.New(t)
		verifier.EXPECT().Verify(gomock.Any(), "good").Return(alice, nil).Times(1)
		r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		r.Header.Set("Authorization", "Bearer good")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)

		req.Equal(http.StatusOK, w.Code)
		req.Equal("Alice", w.Body.String())
	})

	t.Run("should answer 401 without a bearer header", func(t *testing.T) {
		req := require.New(t)
		r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)

		req.Equal(http.StatusUnauthorized, w.Code)
	})

	t.Run("should answer 401 on an expired token", func(t *testing.T) {
		req := require.New(t)
		verifier.EXPECT().Verify(gomock.Any(), "old").
			Return(domain.User{}, errors.ErrExpiredCredential).Times(1)
		r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		r.Header.Set("Authorization", "Bearer old")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)

		req.Equal(http.StatusUnauthorized, w.Code)
		req.Contains(w.Body.String(), errors.ErrExpiredCredential.Error())
	})

	t.Run("should hide storage failures behind a 500", func(t *testing.T) {
		req := require.New(t)
		// Given the identity lookup fails with an internal storage error
		storage := fmt.Errorf("identity lookup for u-alice: %w", stderrors.New("badger: value log truncated at /var/lib/live-queue"))
		verifier.EXPECT().Verify(gomock.Any(), "broken").Return(domain.User{}, storage).Times(1)
		r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		r.Header.Set("Authorization", "Bearer broken")
		w := httptest.NewRecorder()

		// When the request goes through the gate
		handler.ServeHTTP(w, r)

		// Then the client sees a generic message only
		req.Equal(http.StatusInternalServerError, w.Code)
		req.Contains(w.Body.String(), "internal error")
		req.NotContains(w.Body.String(), "badger")
		req.NotContains(w.Body.String(), "/var/lib")
	})

	t.Run("should answer 504 when the lookup times out", func(t *testing.T) {
		req := require.New(t)
		slow := fmt.Errorf("identity lookup for u-alice: %w", context.DeadlineExceeded)
		verifier.EXPECT().Verify(gomock.Any(), "slow").Return(domain.User{}, slow).Times(1)
		r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		r.Header.Set("Authorization", "Bearer slow")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)

		req.Equal(http.StatusGatewayTimeout, w.Code)
	})
}
