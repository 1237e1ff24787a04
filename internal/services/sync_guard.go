package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrSyncInProgress indicates another sync of the same user is running
	ErrSyncInProgress = errors.New("sync already in progress")
)

// DefaultSyncLockTTL bounds how long a crashed holder can block a user
const DefaultSyncLockTTL = 5 * time.Minute

// releaseScript deletes the lock only when it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SyncGuard allows one sync per user at a time.
// With redis the guard holds across processes; without it, or when redis errors, it is per process.
type SyncGuard struct {
	rdb    *redis.Client
	ttl    time.Duration
	local  sync.Map // 每个用户独立锁
	logger *zap.Logger
}

// NewSyncGuard creates a guard. rdb may be nil.
func NewSyncGuard(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *SyncGuard {
	if ttl <= 0 {
		ttl = DefaultSyncLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncGuard{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func syncLockKey(userID uint) string {
	return fmt.Sprintf("sync:user:%d", userID)
}

// Acquire takes the user's sync lock. The returned release func must be called once the sync ends.
func (g *SyncGuard) Acquire(ctx context.Context, userID uint) (func(), error) {
	if g.rdb != nil {
		key := syncLockKey(userID)
		token := uuid.NewString()

		ok, err := g.rdb.SetNX(ctx, key, token, g.ttl).Result()
		if err == nil {
			if !ok {
				return nil, ErrSyncInProgress
			}
			return func() {
				// the request context may already be canceled
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := releaseScript.Run(releaseCtx, g.rdb, []string{key}, token).Err(); err != nil {
					g.logger.Warn("failed to release sync lock", zap.String("key", key), zap.Error(err))
				}
			}, nil
		}

		// Redis 不可用时退回进程内锁
		g.logger.Warn("redis sync lock failed, using local lock",
			zap.Uint("user_id", userID),
			zap.Error(err),
		)
	}

	if _, loaded := g.local.LoadOrStore(userID, true); loaded {
		return nil, ErrSyncInProgress
	}
	return func() { g.local.Delete(userID) }, nil
}

// IsSyncing reports whether this process holds the local lock for a user
func (g *SyncGuard) IsSyncing(userID uint) bool {
	_, loaded := g.local.Load(userID)
	return loaded
}
