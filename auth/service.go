// Package auth implements account signup/signin and the access tokens the
// relay and API accept.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/danieljoseph18/flui-backend/metrics"
)

const bcryptCost = 10

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRequest     = errors.New("email and password are required")
)

type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Token is returned by SignUp and SignIn.
type Token struct {
	AccessToken string `json:"access_token"`
}

// Service ties the user store to the token issuer.
type Service struct {
	users  UserStore
	issuer *TokenIssuer
	log    *zap.SugaredLogger
}

func NewService(users UserStore, issuer *TokenIssuer, log *zap.SugaredLogger) *Service {
	return &Service{users: users, issuer: issuer, log: log}
}

// SignUp registers a user and returns a token for them.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*Token, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return nil, ErrInvalidRequest
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(req.Email),
		Name:         req.Name,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.log.Infof("User %s signed up", user.ID)

	return s.token(user)
}

// SignIn checks the password and returns a token. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*Token, error) {
	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			metrics.AuthFailures.WithLabelValues("unknown_user").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		metrics.AuthFailures.WithLabelValues("bad_password").Inc()
		return nil, ErrInvalidCredentials
	}
	metrics.AuthSuccess.Inc()

	return s.token(user)
}

func (s *Service) token(user *User) (*Token, error) {
	signed, err := s.issuer.Issue(user)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: signed}, nil
}
