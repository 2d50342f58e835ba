package runtime

import (
	"context"
	stderrors "errors"
	"live-queue/contract"
	"live-queue/domain"
	"live-queue/errors"
	"strings"
)

// HandshakeResult is either Authenticated or Rejected.
type HandshakeResult interface {
	isHandshakeResult()
}

type Authenticated struct {
	User domain.User
}

type Rejected struct {
	Reason error
}

func (Authenticated) isHandshakeResult() {}
func (Rejected) isHandshakeResult()      {}

// Code is a stable label for the rejection, used in responses and metrics.
func (r Rejected) Code() string {
	switch {
	case stderrors.Is(r.Reason, errors.ErrMissingCredential):
		return "missing_credential"
	case stderrors.Is(r.Reason, errors.ErrExpiredCredential):
		return "expired"
	case stderrors.Is(r.Reason, errors.ErrInvalidSignature):
		return "invalid_signature"
	case stderrors.Is(r.Reason, errors.ErrUserNotFound):
		return "user_not_found"
	case stderrors.Is(r.Reason, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}

// Handshake verifies the credential presented when a connection opens.
// It never touches the registry: a rejected attempt leaves no trace.
func Handshake(ctx context.Context, verifier contract.Verifier, credential string) HandshakeResult {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Rejected{Reason: errors.ErrMissingCredential}
	}
	user, err := verifier.Verify(ctx, credential)
	if err != nil {
		return Rejected{Reason: err}
	}
	return Authenticated{User: user}
}
