package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"live-queue/contract"
	"live-queue/domain"
	"live-queue/errors"
	"live-queue/repositories"
	"time"
)

var _ contract.Verifier = (*Verifier)(nil)

// Verifier is the single credential check shared by the HTTP gate and the
// realtime handshake, so a token resolves to the same identity on both paths.
type Verifier struct {
	tokens  *TokenManager
	users   repositories.IUserRepository
	timeout time.Duration
}

func NewVerifier(tokens *TokenManager, users repositories.IUserRepository, timeout time.Duration) *Verifier {
	return &Verifier{tokens: tokens, users: users, timeout: timeout}
}

// Verify validates the credential then loads the full user record.
// The lookup is bounded by the verifier timeout on top of ctx.
func (v *Verifier) Verify(ctx context.Context, credential string) (domain.User, error) {
	claims, err := v.tokens.ValidateToken(credential)
	if err != nil {
		return domain.User{}, err
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	user, err := v.users.GetUserByID(ctx, claims.UserID)
	switch {
	case stderrors.Is(err, errors.ErrUserNotFound):
		return domain.User{}, errors.ErrUserNotFound
	case err != nil:
		return domain.User{}, fmt.Errorf("identity lookup for %s: %w", claims.UserID, err)
	}
	return user, nil
}
