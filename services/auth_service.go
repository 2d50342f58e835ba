package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"live-queue/auth"
	"live-queue/domain"
	"live-queue/errors"
	"live-queue/repositories"
	"log/slog"
)

type IAuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (Session, error)
	Login(ctx context.Context, email, password string) (Session, error)
}

// Session is what a successful register or login hands back to the client.
// The token is the credential later presented to the realtime handshake.
type Session struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type AuthService struct {
	log            *slog.Logger
	userRepository repositories.IUserRepository
	tokens         *auth.TokenManager
}

func NewAuthService(log *slog.Logger, repo repositories.IUserRepository, tokens *auth.TokenManager) IAuthService {
	return &AuthService{log: log, userRepository: repo, tokens: tokens}
}

func (s *AuthService) Register(ctx context.Context, req auth.RegisterRequest) (Session, error) {
	// Validated before any expensive cryptographic operation
	if err := auth.ValidateRegister(req); err != nil {
		if stderrors.Is(err, errors.ErrInvalidPassword) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
	}

	// The repository never sees a plain password
	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		return Session{}, fmt.Errorf("hashing failed: %w", err)
	}

	user, err := s.userRepository.CreateUser(ctx, repositories.User{
		Name:         req.Name,
		Email:        req.Email,
		Avatar:       req.Avatar,
		PasswordHash: hashedPassword,
	})
	if err != nil {
		return Session{}, err
	}
	s.log.Info("User registered", "user_id", user.ID)

	return s.session(user)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.userRepository.GetUserByEmail(ctx, email)
	if err != nil {
		if !stderrors.Is(err, errors.ErrUserNotFound) {
			s.log.Error("User lookup failed", "error", err)
		}
		// Same answer for unknown email and wrong password to prevent enumeration
		return Session{}, errors.ErrInvalidCredentials
	}

	match, err := auth.ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		return Session{}, errors.ErrInvalidCredentials
	}
	return s.session(user)
}

func (s *AuthService) session(user repositories.User) (Session, error) {
	token, err := s.tokens.GenerateToken(user.ID)
	if err != nil {
		return Session{}, errors.ErrTokenGeneration
	}
	return Session{Token: token, User: user.ToDomain()}, nil
}
