package models

import (
	"time"
)

// JobStatus enumerates job lifecycle states persisted in the job store.
type JobStatus string

const (
	JobPending         JobStatus = "pending"
	JobProcessing      JobStatus = "processing"
	JobCompleted       JobStatus = "completed"
	JobFailed          JobStatus = "failed"
	JobPartiallyFailed JobStatus = "partially_failed"
)

// jobTransitions is the complete set of allowed status edges. Terminal
// states have no outgoing edges; a same-status transition is always
// permitted so retried updates stay idempotent (see CanTransitionTo).
var jobTransitions = map[JobStatus][]JobStatus{
	JobPending:         {JobProcessing, JobFailed},
	JobProcessing:      {JobCompleted, JobFailed, JobPartiallyFailed},
	JobCompleted:       {},
	JobFailed:          {},
	JobPartiallyFailed: {},
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	_, ok := jobTransitions[s]
	return ok
}

// Terminal reports whether s has no outgoing edges.
func (s JobStatus) Terminal() bool {
	next, ok := jobTransitions[s]
	return ok && len(next) == 0
}

// CanTransitionTo reports whether the edge s -> next is allowed.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	for _, candidate := range jobTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Item is one unit of work inside a job: a single audio file.
type Item struct {
	ItemKey     string `json:"item_key"`
	SourceURL   string `json:"source_url"`
	DisplayName string `json:"display_name"`
}

// Job is one batch-transcription unit owning an ordered list of items.
// Version is the optimistic-concurrency token: it is read together with
// the record and every status write is conditioned on it being unchanged.
type Job struct {
	JobKey     string     `json:"job_key"`
	Status     JobStatus  `json:"status"`
	Items      []Item     `json:"items"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Version    int64      `json:"version"`
}
