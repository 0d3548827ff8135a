package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/lalith-99/tidepool/internal/auth"
	"github.com/lalith-99/tidepool/internal/cache"
	"github.com/lalith-99/tidepool/internal/repository"
	"go.uber.org/zap"
)

// ErrNoToken rejects a connection attempt that presented no credential
// at all — distinct from presenting a bad one.
var ErrNoToken = errors.New("no token provided")

// Session is the identity a connection runs under once authenticated.
// Username may be empty: if the user row vanished between token issue
// and connect, the session proceeds with the id alone.
type Session struct {
	UserID   uuid.UUID
	Username string
}

// credentialFromRequest extracts the bearer token from the upgrade
// request. Three sources, checked in priority order, first present
// wins: an explicit auth query parameter, the Authorization header,
// and a token query parameter.
func credentialFromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get("auth"); tok != "" {
		return tok
	}
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// authenticator verifies connection credentials and resolves the
// user's display name.
type authenticator struct {
	secret string
	users  repository.UserRepository
	names  *cache.Usernames
	logger *zap.Logger
}

// authenticate resolves the upgrade request to a Session, or one of
// the distinct rejections: ErrNoToken, auth.ErrNoSecret (operator
// problem, not the client's), auth.ErrInvalidToken, auth.ErrTokenExpired.
// No rejection ever produces a partial session.
func (a *authenticator) authenticate(ctx context.Context, r *http.Request) (*Session, error) {
	token := credentialFromRequest(r)
	if token == "" {
		return nil, ErrNoToken
	}

	claims, err := auth.ParseToken(token, a.secret)
	if err != nil {
		return nil, err
	}

	return &Session{
		UserID:   claims.UserID,
		Username: a.resolveUsername(ctx, claims.UserID),
	}, nil
}

// resolveUsername is tolerant: cache first, then the store; a missing
// or unreachable user yields an empty name, never a failed connection.
// Tolerates eventual consistency with user deletion.
func (a *authenticator) resolveUsername(ctx context.Context, userID uuid.UUID) string {
	if name, ok := a.names.Get(ctx, userID); ok {
		return name
	}

	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		a.logger.Warn("username lookup failed",
			zap.String("user_id", userID.String()), zap.Error(err))
		return ""
	}
	if user == nil {
		a.logger.Warn("user not found for socket connection",
			zap.String("user_id", userID.String()))
		return ""
	}

	a.names.Set(ctx, userID, user.Username)
	return user.Username
}
