package auth

import (
	"context"
	"encoding/json"
	"live-queue/contract"
	"live-queue/domain"
	"live-queue/errors"
	"log/slog"
	"net/http"
)

type contextKey string

const UserKey contextKey = "user"

// Middleware rejects requests without a valid bearer credential and injects
// the resolved user into the request context for downstream handlers.
func Middleware(log *slog.Logger, verifier contract.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := TokenFromHeader(r.Header.Get("Authorization"))
			if err == nil {
				var user domain.User
				if user, err = verifier.Verify(r.Context(), token); err == nil {
					next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
					return
				}
			}
			status, message := errors.Public(err)
			if status == http.StatusInternalServerError {
				log.Error("Auth gate failed", "path", r.URL.Path, "error", err)
			} else {
				log.Debug("Request rejected by auth gate", "path", r.URL.Path, "status", status, "error", err)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
		})
	}
}

func WithUser(ctx context.Context, user domain.User) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

func UserFromContext(ctx context.Context) (domain.User, bool) {
	user, ok := ctx.Value(UserKey).(domain.User)
	return user, ok
}
