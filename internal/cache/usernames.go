package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// usernameTTL keeps cached names short-lived so renames and deletions
// converge without an invalidation protocol.
const usernameTTL = 15 * time.Minute

// Usernames is a redis-backed cache for user display names. The
// notifier and the socket authenticator hit user lookups on every
// fanout; names change rarely, so a short-TTL cache absorbs most of
// that read traffic.
//
// Every failure degrades to a miss: redis being down slows lookups,
// it never breaks them.
type Usernames struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewUsernames(rdb *redis.Client, logger *zap.Logger) *Usernames {
	return &Usernames{rdb: rdb, logger: logger}
}

func key(userID uuid.UUID) string {
	return "username:" + userID.String()
}

// Get returns the cached username and whether it was present.
func (c *Usernames) Get(ctx context.Context, userID uuid.UUID) (string, bool) {
	if c == nil || c.rdb == nil {
		return "", false
	}
	name, err := c.rdb.Get(ctx, key(userID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("username cache get failed", zap.Error(err))
		}
		return "", false
	}
	return name, true
}

// Set stores a username. Best-effort.
func (c *Usernames) Set(ctx context.Context, userID uuid.UUID, name string) {
	if c == nil || c.rdb == nil || name == "" {
		return
	}
	if err := c.rdb.Set(ctx, key(userID), name, usernameTTL).Err(); err != nil {
		c.logger.Warn("username cache set failed", zap.Error(err))
	}
}
