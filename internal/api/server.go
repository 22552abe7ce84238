package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"image-job-workers/internal/models"
	"image-job-workers/internal/store"
	"image-job-workers/internal/telemetry"
)

// maxUploadBytes caps a single multipart upload.
const maxUploadBytes = 32 << 20

// JobReader loads job records.
type JobReader interface {
	Get(ctx context.Context, jobID string) (models.Job, error)
}

// Submitter creates pending jobs.
type Submitter interface {
	Submit(ctx context.Context, id, inputPath string) (models.Job, error)
}

// Limiter decides whether a client may upload now.
type Limiter interface {
	Allow(ctx context.Context, client string) (bool, float64, error)
}

// Server wires HTTP handlers for the producer API.
type Server struct {
	jobs      JobReader
	producer  Submitter
	limiter   Limiter
	uploadDir string
	logger    *slog.Logger
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(uploadDir string, jobs JobReader, producer Submitter, limiter Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		jobs:      jobs,
		producer:  producer,
		limiter:   limiter,
		uploadDir: uploadDir,
		logger:    logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/process", s.handleProcess)
		r.Get("/result", s.handleResult)
		r.Get("/download/{id}", s.handleDownload)
	})
	return r
}

type processResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type resultResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	ResultURL   string `json:"result_url,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), clientFromRequest(r))
		if err != nil {
			s.logger.Error("rate limiter unavailable", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no image provided")
		return
	}
	defer file.Close()

	jobID := uuid.NewString()
	uploadPath := filepath.Join(s.uploadDir, jobID+strings.ToLower(filepath.Ext(header.Filename)))
	if err := saveUpload(file, uploadPath); err != nil {
		s.logger.Error("save upload failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to save the uploaded file")
		return
	}

	job, err := s.producer.Submit(r.Context(), jobID, uploadPath)
	if err != nil {
		_ = os.Remove(uploadPath)
		s.logger.Error("submit job failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to add job to queue")
		return
	}

	s.logger.Info("job submitted", slog.String("job_id", job.ID), slog.String("input_path", job.InputPath))
	writeJSON(w, http.StatusAccepted, processResponse{JobID: job.ID, Status: string(job.Status)})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return
	}
	job, ok := s.loadJob(w, r, jobID)
	if !ok {
		return
	}

	resp := resultResponse{JobID: job.ID, Status: string(job.Status)}
	switch job.Status {
	case models.StatusCompleted:
		if _, err := os.Stat(job.OutputPath); err == nil {
			resp.ResultURL = "/api/download/" + job.ID
			resp.CompletedAt = job.UpdatedAt.Format(time.RFC3339)
		} else {
			resp.Error = "result file not found"
		}
	case models.StatusFailed:
		resp.Error = job.Error
	case models.StatusProcessing:
		resp.StartedAt = job.UpdatedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if job.Status != models.StatusCompleted || job.OutputPath == "" {
		writeError(w, http.StatusNotFound, "result not available")
		return
	}
	if _, err := os.Stat(job.OutputPath); err != nil {
		writeError(w, http.StatusNotFound, "result not available")
		return
	}
	http.ServeFile(w, r, job.OutputPath)
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request, jobID string) (models.Job, bool) {
	job, err := s.jobs.Get(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return models.Job{}, false
	}
	if err != nil {
		s.logger.Error("load job failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve job")
		return models.Job{}, false
	}
	return job, true
}

func saveUpload(src io.Reader, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return fmt.Errorf("copy upload: %w", err)
	}
	return dst.Close()
}

// clientFromRequest keys rate limiting by caller IP. RealIP has already
// applied X-Forwarded-For / X-Real-IP.
func clientFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
