//go:generate go run go.uber.org/mock/mockgen -source=auth_service.go -destination=../mocks/mock_services.go -package=mocks
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/thereayou/cabal/internal/database"
	"github.com/thereayou/cabal/internal/models"
	"github.com/thereayou/cabal/pkg/auth"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenRevoked       = errors.New("token has been revoked")
)

// UserStore is the account storage the auth flow needs.
type UserStore interface {
	SaveUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastSeen(ctx context.Context, id string) error
}

// TokenBlacklist remembers logged out tokens until they expire.
type TokenBlacklist interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	AvatarURL string
}

// Session is an issued token together with its owner.
type Session struct {
	User      *models.User
	Token     string
	ExpiresAt time.Time
}

// AuthService issues and resolves session tokens. The blacklist is optional;
// without it logout cannot revoke tokens early.
type AuthService struct {
	users     UserStore
	tokens    *auth.JWTManager
	blacklist TokenBlacklist
	log       zerolog.Logger
}

func NewAuthService(users UserStore, tokens *auth.JWTManager, blacklist TokenBlacklist, log zerolog.Logger) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		blacklist: blacklist,
		log:       log.With().Str("component", "auth").Logger(),
	}
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		AvatarURL:    in.AvatarURL,
		CreatedAt:    time.Now(),
	}
	if err := s.users.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	s.log.Info().Str("username", user.Username).Msg("user registered")
	return s.issue(user)
}

// Login checks the password and issues a token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.FindUserByEmail(ctx, email)
	if errors.Is(err, database.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.users.UpdateLastSeen(ctx, user.ID.String()); err != nil {
		s.log.Warn().Err(err).Str("username", user.Username).Msg("could not update last seen")
	}
	return s.issue(user)
}

// Logout revokes token until it would have expired anyway.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	exp, err := s.tokens.Expiry(token)
	if err != nil {
		return err
	}
	if s.blacklist == nil {
		s.log.Warn().Msg("no token blacklist configured, logout is client side only")
		return nil
	}
	return s.blacklist.Revoke(ctx, token, time.Until(exp))
}

// Resolve turns a token into its user. Revoked and unknown-user tokens fail.
func (s *AuthService) Resolve(ctx context.Context, token string) (*models.User, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	if s.blacklist != nil {
		revoked, err := s.blacklist.IsRevoked(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("check blacklist: %w", err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	return s.users.GetUser(ctx, claims.Subject)
}

func (s *AuthService) issue(user *models.User) (*Session, error) {
	token, exp, err := s.tokens.Generate(user.ID.String(), user.Username)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &Session{User: user, Token: token, ExpiresAt: exp}, nil
}
