package functions

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/functions/ai"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/functions/local"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubClassifier struct {
	annotation *ai.Annotation
	attempts   []ai.Attempt
	err        error
	calls      int
}

func (s *stubClassifier) Classify(ctx context.Context, subject, body string) (*ai.Annotation, []ai.Attempt, error) {
	s.calls++
	return s.annotation, s.attempts, s.err
}

func setupProcessorDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func createEmail(t *testing.T, db *gorm.DB, remoteID, subject, body string) *models.Email {
	t.Helper()
	email := models.NewEmail(1, remoteID, "thread", "boss@example.com", subject, body, time.Now().UTC())
	require.NoError(t, db.Create(email).Error)
	return email
}

func TestAnnotate_AIResult(t *testing.T) {
	db := setupProcessorDB(t)
	email := createEmail(t, db, "m1", "Team meeting", "Please schedule a meeting tomorrow at 10am")

	deadline := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	classifier := &stubClassifier{
		annotation: &ai.Annotation{
			Summary:  "Schedule the meeting",
			Urgency:  "high",
			Category: "meeting",
			Actions:  []any{"book room"},
			Deadline: &deadline,
		},
		attempts: []ai.Attempt{{Number: 1, Model: "m", Prompt: "p", Output: "{}", Latency: 40 * time.Millisecond}},
	}

	result, err := NewProcessor(db, classifier, nil).Annotate(context.Background(), email)
	require.NoError(t, err)
	assert.False(t, result.UsedFallback)
	assert.Equal(t, models.AnnotationSourceAI, result.Source)

	var stored models.Email
	require.NoError(t, db.First(&stored, email.ID).Error)
	assert.Equal(t, "Schedule the meeting", stored.AISummary)
	assert.Equal(t, "high", stored.AIUrgency)
	assert.Equal(t, models.ProcessingCompleted, stored.ProcessingStatus)
	assert.NotNil(t, stored.ProcessedAt)
	assert.Equal(t, []any{"book room"}, stored.Actions())
	require.NotNil(t, stored.AIDeadline)
	assert.True(t, deadline.Equal(*stored.AIDeadline))

	var logs []models.AILog
	require.NoError(t, db.Where("email_id = ?", email.ID).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, ai.AgentName, logs[0].AgentName)
	assert.Equal(t, int64(40), logs[0].LatencyMs)
}

func TestAnnotate_FallbackAfterFailedAttempts(t *testing.T) {
	db := setupProcessorDB(t)
	email := createEmail(t, db, "m2", "Team meeting", "Please schedule a meeting tomorrow at 10am")

	invalid := fmt.Errorf("%w: not a JSON object", ai.ErrInvalidAnnotation)
	classifier := &stubClassifier{
		attempts: []ai.Attempt{
			{Number: 1, Output: "{broken", Err: invalid},
			{Number: 2, Output: "{broken", Err: invalid},
		},
		err: ai.ErrClassificationFailed,
	}

	result, err := NewProcessor(db, classifier, nil).Annotate(context.Background(), email)
	require.NoError(t, err)
	assert.True(t, result.UsedFallback)

	var stored models.Email
	require.NoError(t, db.First(&stored, email.ID).Error)
	assert.Equal(t, "Please schedule a meeting tomorrow at 10am", stored.AISummary)
	assert.Equal(t, "low", stored.AIUrgency)
	assert.Equal(t, "info", stored.AICategory)
	assert.Equal(t, models.AnnotationSourceFallback, stored.AnnotationSource)
	assert.Nil(t, stored.AIDeadline)
	assert.Empty(t, stored.Actions())

	var failures int64
	db.Model(&models.AILog{}).Where("email_id = ? AND success = ?", email.ID, false).Count(&failures)
	assert.Equal(t, int64(2), failures)
}

func TestAnnotate_EmptyBodyUsesSubject(t *testing.T) {
	db := setupProcessorDB(t)
	email := createEmail(t, db, "m3", "Invoice due", "")

	classifier := &stubClassifier{err: ai.ErrEmptyBody}
	result, err := NewProcessor(db, classifier, nil).Annotate(context.Background(), email)
	require.NoError(t, err)
	assert.True(t, result.UsedFallback)
	assert.Equal(t, "Invoice due", email.AISummary)

	var count int64
	db.Model(&models.AILog{}).Count(&count)
	assert.Zero(t, count)
}

func TestAnnotate_NoClassifier(t *testing.T) {
	db := setupProcessorDB(t)
	email := createEmail(t, db, "m4", "", "")

	result, err := NewProcessor(db, nil, nil).Annotate(context.Background(), email)
	require.NoError(t, err)
	assert.True(t, result.UsedFallback)
	assert.Equal(t, local.NoContentPlaceholder, email.AISummary)
}

func TestAnnotate_StoreFailure(t *testing.T) {
	db := setupProcessorDB(t)
	email := createEmail(t, db, "m5", "s", "b")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.Close()

	_, err = NewProcessor(db, &stubClassifier{err: ai.ErrClassificationFailed}, nil).Annotate(context.Background(), email)
	assert.True(t, errors.Is(err, ErrProcessingFailed))
}

// 任意分类器结果下标注都会到达终态
func TestProperty_AnnotationAlwaysTerminal(t *testing.T) {
	db := setupProcessorDB(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	seq := 0
	properties.Property("annotation_reaches_completed_state", prop.ForAll(
		func(subject, body string, fail bool) bool {
			seq++
			email := models.NewEmail(1, fmt.Sprintf("prop-%d", seq), "", "", subject, body, time.Now().UTC())
			if err := db.Create(email).Error; err != nil {
				return false
			}

			classifier := &stubClassifier{annotation: &ai.Annotation{Summary: "ok", Urgency: "medium", Category: "task", Actions: []any{}}}
			if fail {
				classifier = &stubClassifier{err: ai.ErrClassificationFailed}
			}

			result, err := NewProcessor(db, classifier, nil).Annotate(context.Background(), email)
			if err != nil {
				return false
			}

			var stored models.Email
			if err := db.First(&stored, email.ID).Error; err != nil {
				return false
			}
			return stored.ProcessingStatus == models.ProcessingCompleted &&
				stored.AISummary != "" &&
				result.UsedFallback == fail
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
