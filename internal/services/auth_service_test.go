package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/cabal/internal/database"
	"github.com/thereayou/cabal/internal/mocks"
	"github.com/thereayou/cabal/internal/models"
	"github.com/thereayou/cabal/internal/services"
	"github.com/thereayou/cabal/pkg/auth"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"
)

func newAuthService(t *testing.T) (*services.AuthService, *mocks.MockUserStore, *mocks.MockTokenBlacklist) {
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserStore(ctrl)
	blacklist := mocks.NewMockTokenBlacklist(ctrl)
	svc := services.NewAuthService(users, auth.NewJWTManager("secret", time.Hour), blacklist, zerolog.Nop())
	return svc, users, blacklist
}

func hashed(t *testing.T, password string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestAuthService_Register(t *testing.T) {
	req := require.New(t)
	svc, users, _ := newAuthService(t)

	users.EXPECT().SaveUser(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, u *models.User) error {
		req.NoError(bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("hunter2hunter2")))
		u.ID = uuid.New()
		return nil
	})

	session, err := svc.Register(context.Background(), services.RegisterInput{
		Username: "alice", Email: "alice@example.com", Password: "hunter2hunter2",
	})
	req.NoError(err)
	req.Equal("alice", session.User.Username)
	req.NotEmpty(session.Token)
	req.True(session.ExpiresAt.After(time.Now()))
}

func TestAuthService_Login(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc, users, _ := newAuthService(t)
	user := &models.User{ID: uuid.New(), Username: "alice", Email: "alice@example.com", PasswordHash: hashed(t, "correct horse")}

	users.EXPECT().FindUserByEmail(gomock.Any(), "alice@example.com").Return(user, nil).Times(2)
	users.EXPECT().UpdateLastSeen(gomock.Any(), user.ID.String()).Return(nil)
	users.EXPECT().FindUserByEmail(gomock.Any(), "nobody@example.com").Return(nil, database.ErrUserNotFound)

	session, err := svc.Login(ctx, "alice@example.com", "correct horse")
	req.NoError(err)
	req.Same(user, session.User)

	_, err = svc.Login(ctx, "alice@example.com", "wrong")
	req.ErrorIs(err, services.ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody@example.com", "whatever")
	req.ErrorIs(err, services.ErrInvalidCredentials)
}

func TestAuthService_LogoutRevokesToken(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc, users, blacklist := newAuthService(t)
	user := &models.User{ID: uuid.New(), Username: "alice", Email: "alice@example.com", PasswordHash: hashed(t, "pw")}

	users.EXPECT().FindUserByEmail(gomock.Any(), gomock.Any()).Return(user, nil)
	users.EXPECT().UpdateLastSeen(gomock.Any(), gomock.Any()).Return(nil)
	session, err := svc.Login(ctx, "alice@example.com", "pw")
	req.NoError(err)

	gomock.InOrder(
		blacklist.EXPECT().IsRevoked(gomock.Any(), session.Token).Return(false, nil),
		blacklist.EXPECT().Revoke(gomock.Any(), session.Token, gomock.Any()).DoAndReturn(func(_ context.Context, _ string, ttl time.Duration) error {
			req.Positive(ttl)
			req.LessOrEqual(ttl, time.Hour)
			return nil
		}),
		blacklist.EXPECT().IsRevoked(gomock.Any(), session.Token).Return(true, nil),
	)
	users.EXPECT().GetUser(gomock.Any(), user.ID.String()).Return(user, nil)

	resolved, err := svc.Resolve(ctx, session.Token)
	req.NoError(err)
	req.Equal("alice", resolved.Username)

	req.NoError(svc.Logout(ctx, session.Token))

	_, err = svc.Resolve(ctx, session.Token)
	req.ErrorIs(err, services.ErrTokenRevoked)
}

func TestAuthService_ResolveRejectsBadTokens(t *testing.T) {
	svc, _, _ := newAuthService(t)
	_, err := svc.Resolve(context.Background(), "not-a-token")
	require.ErrorIs(t, err, auth.ErrInvalidToken)
	require.ErrorIs(t, svc.Logout(context.Background(), "not-a-token"), auth.ErrInvalidToken)
}
