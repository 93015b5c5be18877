package recognizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"transcription-orchestrator/internal/models"
)

func testItem() models.Item {
	return models.Item{ItemKey: "item-1", SourceURL: "https://audio.test/one.wav"}
}

func TestHTTPClientRecognizeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req recognizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "job-1", req.JobKey)
		require.Equal(t, "item-1", req.ItemKey)
		require.Equal(t, "https://audio.test/one.wav", req.SourceURL)

		json.NewEncoder(w).Encode(recognizeResponse{
			Text:       "hello world",
			Confidence: 0.93,
			Status:     "completed",
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret", time.Second)
	rec, err := c.Recognize(context.Background(), "job-1", testItem())
	require.NoError(t, err)
	require.Equal(t, "item-1", rec.ItemKey)
	require.Equal(t, "hello world", rec.Text)
	require.InDelta(t, 0.93, rec.Confidence, 1e-9)
	require.Equal(t, models.ResultCompleted, rec.Status)
	require.NotEmpty(t, rec.RawPayload)
}

func TestHTTPClientBackendReportedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(recognizeResponse{Status: "failed", Error: "unintelligible audio"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	rec, err := c.Recognize(context.Background(), "job-1", testItem())
	require.NoError(t, err)
	require.Equal(t, models.ResultFailed, rec.Status)
	require.Empty(t, rec.Text)
	require.Contains(t, string(rec.RawPayload), "unintelligible")
}

func TestHTTPClientEmptyTextIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(recognizeResponse{Status: "completed", Confidence: 0.8})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	rec, err := c.Recognize(context.Background(), "job-1", testItem())
	require.NoError(t, err)
	require.Equal(t, models.ResultFailed, rec.Status)
}

func TestHTTPClientServerErrorsAreTransient(t *testing.T) {
	for _, code := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusTooManyRequests} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
		}))

		c := NewHTTPClient(srv.URL, "", time.Second)
		_, err := c.Recognize(context.Background(), "job-1", testItem())
		require.Error(t, err, "status %d", code)
		require.Truef(t, models.IsTransient(err), "status %d should be transient, got %v", code, err)
		srv.Close()
	}
}

func TestHTTPClientClientErrorIsItemFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"unsupported codec"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	rec, err := c.Recognize(context.Background(), "job-1", testItem())
	require.NoError(t, err)
	require.Equal(t, models.ResultFailed, rec.Status)
	require.Contains(t, string(rec.RawPayload), "unsupported codec")
}

func TestHTTPClientConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listening anymore

	c := NewHTTPClient(srv.URL, "", time.Second)
	_, err := c.Recognize(context.Background(), "job-1", testItem())
	require.Error(t, err)
	require.True(t, models.IsTransient(err))
}
