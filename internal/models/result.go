package models

import (
	"time"
)

// ResultStatus enumerates terminal outcomes of a single item.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
)

// Valid reports whether s is a known result status.
func (s ResultStatus) Valid() bool {
	return s == ResultCompleted || s == ResultFailed
}

// Result is the durable per-item outcome keyed by (JobKey, ItemKey).
// The composite key is the idempotency guard for the whole system:
// its presence means the item was already productively executed.
type Result struct {
	JobKey     string       `json:"job_key"`
	ItemKey    string       `json:"item_key"`
	Text       string       `json:"text,omitempty"`
	Confidence float64      `json:"confidence"`
	Status     ResultStatus `json:"status"`
	RawPayload []byte       `json:"raw_payload,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}
