package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"transcription-orchestrator/internal/models"
)

func seedJob(t *testing.T, m *Memory, jobKey string, items ...models.Item) models.Job {
	t.Helper()
	job, err := m.CreateJob(context.Background(), jobKey, items)
	require.NoError(t, err)
	return job
}

func TestMemoryCreateJob(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	job := seedJob(t, m, "job-1", models.Item{ItemKey: "a", SourceURL: "s3://x/a"})
	require.Equal(t, models.JobPending, job.Status)
	require.EqualValues(t, 1, job.Version)

	_, err := m.CreateJob(ctx, "job-1", nil)
	require.ErrorIs(t, err, models.ErrAlreadyExists)

	_, err = m.CreateJob(ctx, "  ", nil)
	require.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = m.GetJob(ctx, "missing")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryIdempotentStatusTransition(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedJob(t, m, "job-1")

	now := time.Now().UTC()
	require.NoError(t, m.UpdateJobStatus(ctx, "job-1", models.JobProcessing, &now, nil))
	// A retried update of the same status succeeds again.
	require.NoError(t, m.UpdateJobStatus(ctx, "job-1", models.JobProcessing, &now, nil))

	job, err := m.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, models.JobProcessing, job.Status)
}

func TestMemoryTerminalStatusGuard(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	finals := []models.JobStatus{models.JobCompleted, models.JobFailed, models.JobPartiallyFailed}
	others := []models.JobStatus{models.JobPending, models.JobProcessing, models.JobCompleted, models.JobFailed, models.JobPartiallyFailed}

	for i, final := range finals {
		jobKey := "job-" + string(final)
		seedJob(t, m, jobKey)
		require.NoError(t, m.UpdateJobStatus(ctx, jobKey, models.JobProcessing, nil, nil))
		require.NoError(t, m.UpdateJobStatus(ctx, jobKey, final, nil, nil))

		for _, next := range others {
			if next == final {
				continue
			}
			err := m.UpdateJobStatus(ctx, jobKey, next, nil, nil)
			require.Truef(t, models.IsInvalidTransition(err), "case %d: %s -> %s should be invalid, got %v", i, final, next, err)
		}
		// Repeating the terminal status stays a no-op.
		require.NoError(t, m.UpdateJobStatus(ctx, jobKey, final, nil, nil))
	}
}

func TestMemoryFirstWriteWinsTimestamps(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedJob(t, m, "job-1")

	t1 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	require.NoError(t, m.UpdateJobStatus(ctx, "job-1", models.JobProcessing, &t1, nil))
	require.NoError(t, m.UpdateJobStatus(ctx, "job-1", models.JobProcessing, &t2, nil))

	job, err := m.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, job.StartedAt)
	require.Equal(t, t1, *job.StartedAt)

	f1 := t1.Add(2 * time.Hour)
	f2 := t1.Add(3 * time.Hour)
	require.NoError(t, m.UpdateJobStatus(ctx, "job-1", models.JobCompleted, nil, &f1))
	require.NoError(t, m.UpdateJobStatus(ctx, "job-1", models.JobCompleted, nil, &f2))

	job, err = m.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, job.FinishedAt)
	require.Equal(t, f1, *job.FinishedAt)
	require.Equal(t, t1, *job.StartedAt)
}

func TestMemoryConcurrentUpdateConflict(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedJob(t, m, "job-1")

	// The hook fires between the first writer's versioned read and its
	// conditional write; the competing update lands in the gap.
	var once sync.Once
	m.beforeWrite = func() {
		once.Do(func() {
			m.beforeWrite = nil
			require.NoError(t, m.UpdateJobStatus(ctx, "job-1", models.JobProcessing, nil, nil))
		})
	}

	err := m.UpdateJobStatus(ctx, "job-1", models.JobProcessing, nil, nil)
	require.ErrorIs(t, err, models.ErrConflict)

	job, gerr := m.GetJob(ctx, "job-1")
	require.NoError(t, gerr)
	require.Equal(t, models.JobProcessing, job.Status)
	require.EqualValues(t, 2, job.Version)
}

func TestMemorySaveResultUpsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, err := m.SaveResult(ctx, SaveResultParams{
		JobKey:     "job-1",
		ItemKey:    "item-1",
		Text:       "hello world",
		Confidence: 0.9,
		Status:     models.ResultCompleted,
	})
	require.NoError(t, err)

	second, err := m.SaveResult(ctx, SaveResultParams{
		JobKey:     "job-1",
		ItemKey:    "item-1",
		Text:       "hello again",
		Confidence: 0.95,
		Status:     models.ResultCompleted,
	})
	require.NoError(t, err)

	// One record: the second write's payload, the first write's createdAt.
	require.Equal(t, "hello again", second.Text)
	require.Equal(t, first.CreatedAt, second.CreatedAt)

	stored, err := m.GetResult(ctx, "job-1", "item-1")
	require.NoError(t, err)
	require.Equal(t, "hello again", stored.Text)
	require.InDelta(t, 0.95, stored.Confidence, 1e-9)

	all, err := m.ListResults(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestSaveResultValidation(t *testing.T) {
	tests := []struct {
		name string
		p    SaveResultParams
	}{
		{"missing job key", SaveResultParams{ItemKey: "i", Status: models.ResultFailed}},
		{"missing item key", SaveResultParams{JobKey: "j", Status: models.ResultFailed}},
		{"unknown status", SaveResultParams{JobKey: "j", ItemKey: "i", Status: "done"}},
		{"completed without text", SaveResultParams{JobKey: "j", ItemKey: "i", Status: models.ResultCompleted, Confidence: 0.5}},
		{"confidence above one", SaveResultParams{JobKey: "j", ItemKey: "i", Text: "x", Status: models.ResultCompleted, Confidence: 1.5}},
		{"confidence below zero", SaveResultParams{JobKey: "j", ItemKey: "i", Text: "x", Status: models.ResultCompleted, Confidence: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.p.Validate(), models.ErrInvalidArgument)
		})
	}

	// Failed results legitimately carry no text.
	ok := SaveResultParams{JobKey: "j", ItemKey: "i", Status: models.ResultFailed}
	require.NoError(t, ok.Validate())
}

func TestMemoryGetResultNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.GetResult(context.Background(), "job-1", "item-1")
	require.True(t, errors.Is(err, models.ErrNotFound))
}
