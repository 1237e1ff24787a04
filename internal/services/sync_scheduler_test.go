package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSyncer struct {
	mu       sync.Mutex
	calls    map[uint]int
	triggers []string
	errs     map[uint]error
}

func (r *recordingSyncer) SyncUser(ctx context.Context, userID uint) (*SyncResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[uint]int{}
	}
	r.calls[userID]++
	r.triggers = append(r.triggers, syncTrigger(ctx))
	if err := r.errs[userID]; err != nil {
		return &SyncResult{}, err
	}
	return &SyncResult{NewEmails: 1, AIProcessed: 1}, nil
}

func TestSyncScheduler_RunOnce(t *testing.T) {
	db := setupServiceDB(t)
	alice := createConnectedUser(t, db, "alice@example.com", false)
	bob := createConnectedUser(t, db, "bob@example.com", false)
	carol := createConnectedUser(t, db, "carol@example.com", false)
	_, err := NewUserService(db).CreateUser("dave@example.com", "password123", "")
	require.NoError(t, err)

	syncer := &recordingSyncer{errs: map[uint]error{
		bob.ID:   ErrSyncInProgress,
		carol.ID: errUpstream,
	}}
	scheduler := NewSyncScheduler(syncer, NewAccountService(db, testEncryptionKey), NewLogService(db), 0, nil)
	scheduler.maxRetries = 0

	scheduler.RunOnce()

	assert.Equal(t, 1, syncer.calls[alice.ID])
	assert.Equal(t, 1, syncer.calls[bob.ID])
	assert.Equal(t, 1, syncer.calls[carol.ID])
	assert.Len(t, syncer.calls, 3)
	for _, trigger := range syncer.triggers {
		assert.Equal(t, "scheduler", trigger)
	}

	// only the real failure is recorded, a busy user is not
	var failures []models.Log
	require.NoError(t, db.Where("action = ?", "auto_sync").Find(&failures).Error)
	require.Len(t, failures, 1)
	assert.Equal(t, carol.ID, failures[0].UserID)
	assert.Equal(t, "ERROR", failures[0].Level)
}

func TestSyncScheduler_DisabledWithoutInterval(t *testing.T) {
	db := setupServiceDB(t)
	scheduler := NewSyncScheduler(&recordingSyncer{}, NewAccountService(db, testEncryptionKey), NewLogService(db), 0, nil)

	scheduler.Start()
	assert.False(t, scheduler.running)
	scheduler.Stop()
}

func TestSyncScheduler_RestartAfterStop(t *testing.T) {
	db := setupServiceDB(t)
	createConnectedUser(t, db, "alice@example.com", false)
	syncer := &recordingSyncer{}
	scheduler := NewSyncScheduler(syncer, NewAccountService(db, testEncryptionKey), NewLogService(db), time.Hour, nil)
	scheduler.initialDelay = time.Millisecond

	for round := 1; round <= 2; round++ {
		scheduler.Start()
		assert.True(t, scheduler.running)
		assert.Eventually(t, func() bool {
			syncer.mu.Lock()
			defer syncer.mu.Unlock()
			return len(syncer.triggers) == round
		}, time.Second, 5*time.Millisecond)

		assert.NotPanics(t, scheduler.Stop)
		assert.False(t, scheduler.running)
	}

	// stopping twice is a no-op
	assert.NotPanics(t, scheduler.Stop)
}
