package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/tidepool/internal/auth"
	"github.com/lalith-99/tidepool/internal/models"
	"github.com/lalith-99/tidepool/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type stubUserStore struct {
	users map[uuid.UUID]*models.User
	err   error
}

var _ repository.UserRepository = (*stubUserStore)(nil)

func (s *stubUserStore) Create(_ context.Context, email, username, passwordHash string) (*models.User, error) {
	return nil, errors.New("not implemented")
}

func (s *stubUserStore) GetByID(_ context.Context, userID uuid.UUID) (*models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.users[userID], nil
}

func (s *stubUserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return nil, nil
}

func (s *stubUserStore) GetByUsernames(_ context.Context, usernames []string) ([]models.User, error) {
	return nil, nil
}

func wsRequest(t *testing.T, query url.Values, header http.Header) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "/v1/ws?"+query.Encode(), nil)
	require.NoError(t, err)
	if header != nil {
		req.Header = header
	}
	return req
}

func TestCredentialFromRequest_PriorityOrder(t *testing.T) {
	header := http.Header{}
	header.Set("Authorization", "Bearer header-token")

	tests := []struct {
		name   string
		query  url.Values
		header http.Header
		want   string
	}{
		{"auth param beats everything", url.Values{"auth": {"auth-token"}, "token": {"qp-token"}}, header, "auth-token"},
		{"header beats token param", url.Values{"token": {"qp-token"}}, header, "header-token"},
		{"token param is last resort", url.Values{"token": {"qp-token"}}, nil, "qp-token"},
		{"nothing present", url.Values{}, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := wsRequest(t, tt.query, tt.header)
			assert.Equal(t, tt.want, credentialFromRequest(req))
		})
	}
}

func TestAuthenticate_NoToken(t *testing.T) {
	a := &authenticator{secret: testSecret, users: &stubUserStore{}, logger: zap.NewNop()}

	_, err := a.authenticate(context.Background(), wsRequest(t, url.Values{}, nil))
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestAuthenticate_ValidToken(t *testing.T) {
	userID := uuid.New()
	users := &stubUserStore{users: map[uuid.UUID]*models.User{
		userID: {ID: userID, Username: "mira"},
	}}
	a := &authenticator{secret: testSecret, users: users, logger: zap.NewNop()}

	token, err := auth.GenerateToken(userID, "mira@example.com", testSecret, time.Hour)
	require.NoError(t, err)

	sess, err := a.authenticate(context.Background(), wsRequest(t, url.Values{"auth": {token}}, nil))
	require.NoError(t, err)
	assert.Equal(t, userID, sess.UserID)
	assert.Equal(t, "mira", sess.Username)
}

func TestAuthenticate_ExpiredToken(t *testing.T) {
	userID := uuid.New()
	a := &authenticator{secret: testSecret, users: &stubUserStore{}, logger: zap.NewNop()}

	token, err := auth.GenerateToken(userID, "mira@example.com", testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = a.authenticate(context.Background(), wsRequest(t, url.Values{"auth": {token}}, nil))
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	a := &authenticator{secret: testSecret, users: &stubUserStore{}, logger: zap.NewNop()}

	_, err := a.authenticate(context.Background(), wsRequest(t, url.Values{"auth": {"not-a-jwt"}}, nil))
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestAuthenticate_MissingUserTolerated(t *testing.T) {
	userID := uuid.New()
	a := &authenticator{secret: testSecret, users: &stubUserStore{}, logger: zap.NewNop()}

	token, err := auth.GenerateToken(userID, "ghost@example.com", testSecret, time.Hour)
	require.NoError(t, err)

	sess, err := a.authenticate(context.Background(), wsRequest(t, url.Values{"auth": {token}}, nil))
	require.NoError(t, err, "a vanished user row must not fail the connection")
	assert.Equal(t, userID, sess.UserID)
	assert.Empty(t, sess.Username)
}

func TestAuthenticate_UserLookupErrorTolerated(t *testing.T) {
	userID := uuid.New()
	users := &stubUserStore{err: errors.New("db down")}
	a := &authenticator{secret: testSecret, users: users, logger: zap.NewNop()}

	token, err := auth.GenerateToken(userID, "mira@example.com", testSecret, time.Hour)
	require.NoError(t, err)

	sess, err := a.authenticate(context.Background(), wsRequest(t, url.Values{"auth": {token}}, nil))
	require.NoError(t, err)
	assert.Empty(t, sess.Username)
}
