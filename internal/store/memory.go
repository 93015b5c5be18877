package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"transcription-orchestrator/internal/models"
)

// Memory is an in-process job/result store with the same state-machine,
// first-write-wins, and version-token semantics as the Postgres store.
// It backs tests and local development.
type Memory struct {
	mu      sync.Mutex
	jobs    map[string]models.Job
	results map[string]models.Result

	// beforeWrite, when set, runs between the versioned read and the
	// conditional write of UpdateJobStatus. Tests use it to interleave
	// a competing writer and provoke ErrConflict.
	beforeWrite func()
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:    make(map[string]models.Job),
		results: make(map[string]models.Result),
	}
}

func resultKey(jobKey, itemKey string) string {
	return jobKey + "\x00" + itemKey
}

// CreateJob inserts a new job in pending status.
func (m *Memory) CreateJob(_ context.Context, jobKey string, items []models.Item) (models.Job, error) {
	if strings.TrimSpace(jobKey) == "" {
		return models.Job{}, fmt.Errorf("%w: job key is required", models.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobKey]; ok {
		return models.Job{}, fmt.Errorf("job %s: %w", jobKey, models.ErrAlreadyExists)
	}
	job := models.Job{
		JobKey:    jobKey,
		Status:    models.JobPending,
		Items:     append([]models.Item(nil), items...),
		CreatedAt: time.Now().UTC(),
		Version:   1,
	}
	m.jobs[jobKey] = job
	return copyJob(job), nil
}

// GetJob fetches a job with its concurrency token.
func (m *Memory) GetJob(_ context.Context, jobKey string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobKey]
	if !ok {
		return models.Job{}, fmt.Errorf("job: %w", models.ErrNotFound)
	}
	return copyJob(job), nil
}

// UpdateJobStatus mirrors the Postgres read-validate-write cycle. The
// lock is released between the versioned read and the conditional write
// so a competing writer produces a genuine ErrConflict.
func (m *Memory) UpdateJobStatus(ctx context.Context, jobKey string, status models.JobStatus, startedAt, finishedAt *time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown job status %q", models.ErrInvalidArgument, status)
	}

	current, err := m.GetJob(ctx, jobKey)
	if err != nil {
		return err
	}
	if !current.Status.CanTransitionTo(status) {
		return &models.InvalidTransitionError{From: current.Status, To: status}
	}

	mergedStart := firstWriteWins(current.StartedAt, startedAt)
	mergedFinish := firstWriteWins(current.FinishedAt, finishedAt)

	if m.beforeWrite != nil {
		m.beforeWrite()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.jobs[jobKey]
	if !ok {
		return fmt.Errorf("job: %w", models.ErrNotFound)
	}
	if stored.Version != current.Version {
		return fmt.Errorf("job %s version %d: %w", jobKey, current.Version, models.ErrConflict)
	}
	stored.Status = status
	stored.StartedAt = mergedStart
	stored.FinishedAt = mergedFinish
	stored.Version++
	m.jobs[jobKey] = stored
	return nil
}

// GetResult looks up the durable outcome for one item.
func (m *Memory) GetResult(_ context.Context, jobKey, itemKey string) (models.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.results[resultKey(jobKey, itemKey)]
	if !ok {
		return models.Result{}, fmt.Errorf("result: %w", models.ErrNotFound)
	}
	return res, nil
}

// ListResults returns all stored results for a job ordered by item key.
func (m *Memory) ListResults(_ context.Context, jobKey string) ([]models.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []models.Result
	for _, res := range m.results {
		if res.JobKey == jobKey {
			results = append(results, res)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ItemKey < results[j].ItemKey })
	return results, nil
}

// SaveResult upserts a result, preserving the original created_at.
func (m *Memory) SaveResult(_ context.Context, p SaveResultParams) (models.Result, error) {
	if err := p.Validate(); err != nil {
		return models.Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	res := models.Result{
		JobKey:     p.JobKey,
		ItemKey:    p.ItemKey,
		Text:       p.Text,
		Confidence: p.Confidence,
		Status:     p.Status,
		RawPayload: append([]byte(nil), p.RawPayload...),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing, ok := m.results[resultKey(p.JobKey, p.ItemKey)]; ok {
		res.CreatedAt = existing.CreatedAt
	}
	m.results[resultKey(p.JobKey, p.ItemKey)] = res
	return res, nil
}

func copyJob(job models.Job) models.Job {
	out := job
	out.Items = append([]models.Item(nil), job.Items...)
	if job.StartedAt != nil {
		t := *job.StartedAt
		out.StartedAt = &t
	}
	if job.FinishedAt != nil {
		t := *job.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
