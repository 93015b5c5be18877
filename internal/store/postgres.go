package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"transcription-orchestrator/internal/models"
)

// SaveResultParams collects inputs for a result upsert.
type SaveResultParams struct {
	JobKey     string
	ItemKey    string
	Text       string
	Confidence float64
	Status     models.ResultStatus
	RawPayload []byte
}

// Validate rejects malformed result writes before anything is persisted.
func (p SaveResultParams) Validate() error {
	if strings.TrimSpace(p.JobKey) == "" {
		return fmt.Errorf("%w: job key is required", models.ErrInvalidArgument)
	}
	if strings.TrimSpace(p.ItemKey) == "" {
		return fmt.Errorf("%w: item key is required", models.ErrInvalidArgument)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: unknown result status %q", models.ErrInvalidArgument, p.Status)
	}
	if p.Status == models.ResultCompleted && strings.TrimSpace(p.Text) == "" {
		return fmt.Errorf("%w: completed result requires non-empty text", models.ErrInvalidArgument)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", models.ErrInvalidArgument, p.Confidence)
	}
	return nil
}

// Postgres persists jobs and results behind a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJob inserts a new job in pending status with its item list.
func (s *Postgres) CreateJob(ctx context.Context, jobKey string, items []models.Item) (models.Job, error) {
	if strings.TrimSpace(jobKey) == "" {
		return models.Job{}, fmt.Errorf("%w: job key is required", models.ErrInvalidArgument)
	}

	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal items: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (job_key, status, items, created_at, version)
		VALUES ($1, $2, $3, $4, 1)
	`, jobKey, models.JobPending, itemsJSON, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Job{}, fmt.Errorf("job %s: %w", jobKey, models.ErrAlreadyExists)
		}
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}

	return models.Job{
		JobKey:    jobKey,
		Status:    models.JobPending,
		Items:     items,
		CreatedAt: now,
		Version:   1,
	}, nil
}

// GetJob fetches a job with its concurrency token.
func (s *Postgres) GetJob(ctx context.Context, jobKey string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT job_key, status, items, created_at, started_at, finished_at, version
		FROM jobs WHERE job_key = $1
	`, jobKey)
	return scanJob(row)
}

func scanJob(row pgx.Row) (models.Job, error) {
	var (
		job       models.Job
		status    string
		itemsJSON []byte
	)
	err := row.Scan(&job.JobKey, &status, &itemsJSON, &job.CreatedAt, &job.StartedAt, &job.FinishedAt, &job.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job: %w", models.ErrNotFound)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.Status = models.JobStatus(status)
	if err := json.Unmarshal(itemsJSON, &job.Items); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal items: %w", err)
	}
	return job, nil
}

// UpdateJobStatus performs a read-validate-write cycle under optimistic
// concurrency. Timestamps merge first-write-wins: once started_at or
// finished_at is set, a later update never overwrites it. The write is
// conditioned on the version read at the start; a concurrent writer
// bumping it in between surfaces as ErrConflict.
func (s *Postgres) UpdateJobStatus(ctx context.Context, jobKey string, status models.JobStatus, startedAt, finishedAt *time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown job status %q", models.ErrInvalidArgument, status)
	}

	current, err := s.GetJob(ctx, jobKey)
	if err != nil {
		return err
	}
	if !current.Status.CanTransitionTo(status) {
		return &models.InvalidTransitionError{From: current.Status, To: status}
	}

	mergedStart := firstWriteWins(current.StartedAt, startedAt)
	mergedFinish := firstWriteWins(current.FinishedAt, finishedAt)

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, started_at = $3, finished_at = $4, version = version + 1
		WHERE job_key = $1 AND version = $5
	`, jobKey, status, mergedStart, mergedFinish, current.Version)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s version %d: %w", jobKey, current.Version, models.ErrConflict)
	}
	return nil
}

func firstWriteWins(existing, incoming *time.Time) *time.Time {
	if existing != nil {
		return existing
	}
	return incoming
}

// GetResult looks up the durable outcome for one item.
func (s *Postgres) GetResult(ctx context.Context, jobKey, itemKey string) (models.Result, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT job_key, item_key, text, confidence, status, raw_payload, created_at, updated_at
		FROM results WHERE job_key = $1 AND item_key = $2
	`, jobKey, itemKey)
	return scanResult(row)
}

// ListResults returns all stored results for a job.
func (s *Postgres) ListResults(ctx context.Context, jobKey string) ([]models.Result, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_key, item_key, text, confidence, status, raw_payload, created_at, updated_at
		FROM results WHERE job_key = $1 ORDER BY item_key
	`, jobKey)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []models.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func scanResult(row pgx.Row) (models.Result, error) {
	var (
		res    models.Result
		status string
	)
	err := row.Scan(&res.JobKey, &res.ItemKey, &res.Text, &res.Confidence, &status, &res.RawPayload, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Result{}, fmt.Errorf("result: %w", models.ErrNotFound)
	}
	if err != nil {
		return models.Result{}, fmt.Errorf("scan result: %w", err)
	}
	res.Status = models.ResultStatus(status)
	return res, nil
}

// SaveResult upserts a result keyed by (job_key, item_key). A replay of
// the same item converges on the latest attempt's outcome while the
// original created_at survives.
func (s *Postgres) SaveResult(ctx context.Context, p SaveResultParams) (models.Result, error) {
	if err := p.Validate(); err != nil {
		return models.Result{}, err
	}

	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO results (job_key, item_key, text, confidence, status, raw_payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (job_key, item_key) DO UPDATE
		SET text = EXCLUDED.text,
		    confidence = EXCLUDED.confidence,
		    status = EXCLUDED.status,
		    raw_payload = EXCLUDED.raw_payload,
		    updated_at = EXCLUDED.updated_at
		RETURNING job_key, item_key, text, confidence, status, raw_payload, created_at, updated_at
	`, p.JobKey, p.ItemKey, p.Text, p.Confidence, p.Status, p.RawPayload, now)
	return scanResult(row)
}
