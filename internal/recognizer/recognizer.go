// Package recognizer defines the worker activity contract for turning
// one audio item into a transcription outcome, plus an HTTP client for
// a remote speech backend. The contract is deliberately narrow so any
// recognition backend can be substituted.
package recognizer

import (
	"context"

	"transcription-orchestrator/internal/models"
)

// Recognition is the outcome of one worker invocation. Ordinary domain
// failures (unreachable source, unrecognizable audio) come back as
// Status=ResultFailed with empty text and zero confidence, not as an
// error; only transient faults surface as retryable errors.
type Recognition struct {
	ItemKey    string
	Text       string
	Confidence float64
	Status     models.ResultStatus
	RawPayload []byte
}

// Recognizer is the single request/response worker operation invoked by
// the orchestration engine, once per item.
type Recognizer interface {
	Recognize(ctx context.Context, jobKey string, item models.Item) (Recognition, error)
}

// Failed builds the canonical domain-failure outcome for an item.
func Failed(itemKey string, raw []byte) Recognition {
	return Recognition{
		ItemKey:    itemKey,
		Status:     models.ResultFailed,
		RawPayload: raw,
	}
}
