package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"go.uber.org/zap"
)

// Syncer runs one sync pass for a user
type Syncer interface {
	SyncUser(ctx context.Context, userID uint) (*SyncResult, error)
}

// SyncScheduler periodically syncs every user with a connected mailbox
type SyncScheduler struct {
	syncer         Syncer
	accountService *AccountService
	logService     *LogService
	logger         *zap.Logger
	interval       time.Duration
	initialDelay   time.Duration
	maxRetries     int
	stopChan       chan struct{}
	done           chan struct{}
	running        bool
	mu             sync.Mutex
	syncing        sync.Mutex // 防止同步周期重叠
}

// NewSyncScheduler creates a new sync scheduler
func NewSyncScheduler(syncer Syncer, accountService *AccountService, logService *LogService, interval time.Duration, logger *zap.Logger) *SyncScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncScheduler{
		syncer:         syncer,
		accountService: accountService,
		logService:     logService,
		logger:         logger.Named("sync_scheduler"),
		interval:       interval,
		initialDelay:   10 * time.Second,
		maxRetries:     2,
	}
}

// Start begins the automatic sync process. A stopped scheduler can be started again.
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	if s.running || s.interval <= 0 {
		s.mu.Unlock()
		return
	}
	s.running = true
	// 每次启动使用新的通道，Stop 已关闭旧的
	stop, done := make(chan struct{}), make(chan struct{})
	s.stopChan, s.done = stop, done
	s.mu.Unlock()

	s.logger.Info("starting", zap.Duration("interval", s.interval))

	go func() {
		defer close(done)

		// 启动后等待一段时间再执行第一次同步，让服务完全就绪
		select {
		case <-time.After(s.initialDelay):
			s.RunOnce()
		case <-stop:
			return
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.RunOnce()
			case <-stop:
				s.logger.Info("stopping")
				return
			}
		}
	}()
}

// Stop stops the scheduler and waits for the running cycle to finish
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	s.running = false
	done := s.done
	s.mu.Unlock()

	<-done
}

// RunOnce syncs all connected users once. An overlapping call returns immediately.
func (s *SyncScheduler) RunOnce() {
	// 如果上一轮还没结束，跳过本轮
	if !s.syncing.TryLock() {
		s.logger.Info("previous cycle still running, skipping")
		return
	}
	defer s.syncing.Unlock()

	users, err := s.accountService.ListMailUsers()
	if err != nil {
		s.logger.Error("failed to list users", zap.Error(err))
		return
	}
	if len(users) == 0 {
		s.logger.Debug("no connected mailboxes")
		return
	}

	// nil until Start; a manual run is then never canceled by Stop
	s.mu.Lock()
	stop := s.stopChan
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(WithSyncTrigger(context.Background(), "scheduler"))
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	// 每个用户独立同步，互不阻塞
	var wg sync.WaitGroup
	for _, user := range users {
		wg.Add(1)
		go func(u models.User) {
			defer wg.Done()
			s.syncOneUser(ctx, u)
		}(user)
	}
	wg.Wait()

	s.logger.Info("cycle completed", zap.Int("users", len(users)))
}

// syncOneUser 同步单个用户，带重试
func (s *SyncScheduler) syncOneUser(ctx context.Context, user models.User) {
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			// 指数退避：第1次重试等2秒，第2次等4秒
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			s.logger.Info("retrying", zap.Uint("user_id", user.ID), zap.Int("attempt", attempt), zap.Duration("backoff", backoff))

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		}

		result, err := s.syncer.SyncUser(ctx, user.ID)
		if err == nil {
			if result.NewEmails > 0 {
				s.logger.Info("user synced",
					zap.Uint("user_id", user.ID),
					zap.Int("new_emails", result.NewEmails),
					zap.Int("ai_processed", result.AIProcessed),
					zap.Int("fallback_used", result.FallbackUsed),
				)
			}
			return
		}
		if errors.Is(err, ErrSyncInProgress) {
			// 手动同步正在进行
			s.logger.Info("user already syncing, skipping", zap.Uint("user_id", user.ID))
			return
		}

		lastErr = err
		s.logger.Warn("sync attempt failed", zap.Uint("user_id", user.ID), zap.Int("attempt", attempt+1), zap.Error(err))
	}

	// 重试用尽，记为 ERROR 供用户在日志中查看
	s.logService.LogError(user.ID, models.LogModuleEmail, "auto_sync", "Auto sync failed", map[string]interface{}{
		"error":   lastErr.Error(),
		"retries": s.maxRetries,
	})
}
