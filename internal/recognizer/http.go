package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"transcription-orchestrator/internal/models"
)

const defaultRequestTimeout = 60 * time.Second

// maxResponseBytes bounds how much of a backend response is read.
const maxResponseBytes = 4 * 1024 * 1024

// HTTPClient calls a remote speech-to-text backend over HTTP. The
// backend receives the item's source URL and fetches the audio itself;
// no bytes flow through the orchestrator.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient builds a client for the given backend endpoint.
func NewHTTPClient(endpoint, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type recognizeRequest struct {
	JobKey    string `json:"job_key"`
	ItemKey   string `json:"item_key"`
	SourceURL string `json:"source_url"`
}

type recognizeResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Status     string  `json:"status"`
	Error      string  `json:"error,omitempty"`
}

// Recognize submits one item and maps the response onto the activity
// contract. Timeouts and throttling are wrapped as transient so the
// engine's bounded retry policy applies; HTTP 4xx other than 429 and
// backend-reported failures become Status=ResultFailed outcomes.
func (c *HTTPClient) Recognize(ctx context.Context, jobKey string, item models.Item) (Recognition, error) {
	body, err := json.Marshal(recognizeRequest{
		JobKey:    jobKey,
		ItemKey:   item.ItemKey,
		SourceURL: item.SourceURL,
	})
	if err != nil {
		return Recognition{}, fmt.Errorf("marshal recognize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Recognition{}, fmt.Errorf("build recognize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Recognition{}, err
		}
		return Recognition{}, models.Transient(fmt.Errorf("recognize %s: %w", item.ItemKey, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Recognition{}, models.Transient(fmt.Errorf("read recognize response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return Recognition{}, models.Transient(fmt.Errorf("recognize %s: backend status %d", item.ItemKey, resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		// The backend rejected this item outright. That is a domain
		// failure for the item, not a fault of the orchestration.
		return Failed(item.ItemKey, raw), nil
	}

	var parsed recognizeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Recognition{}, fmt.Errorf("decode recognize response: %w", err)
	}

	if models.ResultStatus(parsed.Status) == models.ResultFailed {
		return Failed(item.ItemKey, raw), nil
	}
	if parsed.Text == "" {
		// A completed transcription with no text violates the contract;
		// treat it as a failed item rather than poisoning the store.
		return Failed(item.ItemKey, raw), nil
	}

	return Recognition{
		ItemKey:    item.ItemKey,
		Text:       parsed.Text,
		Confidence: parsed.Confidence,
		Status:     models.ResultCompleted,
		RawPayload: raw,
	}, nil
}
