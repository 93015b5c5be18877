// Package api is the thin producer surface: it creates jobs, issues
// presigned upload URLs for their audio files, places job keys on the
// trigger queue, and exposes job/result state for inspection. All real
// engineering lives in the orchestrator; handlers here only validate
// and delegate.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"transcription-orchestrator/internal/audiostore"
	"transcription-orchestrator/internal/models"
	"transcription-orchestrator/internal/telemetry"
)

// JobStore is the API's view of job/result persistence.
type JobStore interface {
	CreateJob(ctx context.Context, jobKey string, items []models.Item) (models.Job, error)
	GetJob(ctx context.Context, jobKey string) (models.Job, error)
	ListResults(ctx context.Context, jobKey string) ([]models.Result, error)
}

// Trigger delivers job keys to the orchestrator.
type Trigger interface {
	Enqueue(ctx context.Context, jobKey string) error
}

// Presigner issues time-limited upload/download URLs for audio objects.
type Presigner interface {
	PresignUpload(ctx context.Context, key string) (string, error)
	PresignDownload(ctx context.Context, key string) (string, error)
}

// Limiter throttles job submissions per client.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Server wires the HTTP handlers for the producer API.
type Server struct {
	store     JobStore
	trigger   Trigger
	presigner Presigner
	limiter   Limiter
	logger    *slog.Logger
}

// New constructs the API server. limiter and presigner may be nil when
// the deployment does not configure them.
func New(store JobStore, trigger Trigger, presigner Presigner, limiter Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:     store,
		trigger:   trigger,
		presigner: presigner,
		limiter:   limiter,
		logger:    logger.With("component", "api"),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleCreateJob)
	r.Get("/jobs/{jobKey}", s.handleGetJob)
	r.Get("/jobs/{jobKey}/results", s.handleListResults)
	return r
}

type createItemRequest struct {
	DisplayName string `json:"display_name"`
}

type createJobRequest struct {
	JobKey string              `json:"job_key"`
	Items  []createItemRequest `json:"items"`
}

type itemUpload struct {
	ItemKey     string `json:"item_key"`
	DisplayName string `json:"display_name"`
	UploadURL   string `json:"upload_url,omitempty"`
}

type createJobResponse struct {
	Job     models.Job   `json:"job"`
	Uploads []itemUpload `json:"uploads"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.Items) == 0 {
		http.Error(w, "at least one item is required", http.StatusBadRequest)
		return
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), clientFromRequest(r))
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	jobKey := req.JobKey
	if jobKey == "" {
		jobKey = uuid.New().String()
	}

	items := make([]models.Item, 0, len(req.Items))
	uploads := make([]itemUpload, 0, len(req.Items))
	for _, in := range req.Items {
		item := models.Item{
			ItemKey:     uuid.New().String(),
			DisplayName: in.DisplayName,
		}
		upload := itemUpload{ItemKey: item.ItemKey, DisplayName: in.DisplayName}

		if s.presigner != nil {
			objectKey := audiostore.ObjectKey(jobKey, item.ItemKey, in.DisplayName)
			uploadURL, err := s.presigner.PresignUpload(r.Context(), objectKey)
			if err != nil {
				s.logger.Error("presign upload failed", "job_key", jobKey, "error", err)
				http.Error(w, "presign upload failed", http.StatusInternalServerError)
				return
			}
			sourceURL, err := s.presigner.PresignDownload(r.Context(), objectKey)
			if err != nil {
				s.logger.Error("presign download failed", "job_key", jobKey, "error", err)
				http.Error(w, "presign download failed", http.StatusInternalServerError)
				return
			}
			upload.UploadURL = uploadURL
			item.SourceURL = sourceURL
		}

		items = append(items, item)
		uploads = append(uploads, upload)
	}

	job, err := s.store.CreateJob(r.Context(), jobKey, items)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if err := s.trigger.Enqueue(r.Context(), job.JobKey); err != nil {
		s.logger.Error("enqueue trigger failed", "job_key", job.JobKey, "error", err)
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	telemetry.JobsEnqueued.Inc()
	s.logger.Info("job accepted", "job_key", job.JobKey, "items", len(items))

	writeJSON(w, http.StatusAccepted, createJobResponse{Job: job, Uploads: uploads})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobKey := chi.URLParam(r, "jobKey")
	job, err := s.store.GetJob(r.Context(), jobKey)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	jobKey := chi.URLParam(r, "jobKey")
	if _, err := s.store.GetJob(r.Context(), jobKey); err != nil {
		writeStoreError(w, err)
		return
	}
	results, err := s.store.ListResults(r.Context(), jobKey)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if results == nil {
		results = []models.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, models.ErrAlreadyExists):
		http.Error(w, "job already exists", http.StatusConflict)
	case errors.Is(err, models.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func clientFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
