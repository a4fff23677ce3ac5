package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/reelsmith/internal/compose"
	"github.com/maauso/reelsmith/internal/job"
	"github.com/maauso/reelsmith/internal/render"
)

// maxBodyBytes bounds request bodies; word lists are the largest payloads.
const maxBodyBytes = 4 << 20

// Renderer submits render requests.
type Renderer interface {
	Compose(ctx context.Context, req render.ComposeRequest, wait bool) (*job.Job, error)
	Overlay(ctx context.Context, req render.OverlayRequest, wait bool) (*job.Job, error)
	Merge(ctx context.Context, req render.MergeRequest, wait bool) (*job.Job, error)
}

// JobReader looks up jobs by ID.
type JobReader interface {
	Get(ctx context.Context, id string) (*job.Job, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	renderer    Renderer
	jobs        JobReader
	validator   *validator.Validate
	logger      *slog.Logger
	waitTimeout time.Duration
	depth       func() int
	assets      func() ([]string, error)
	allowLocal  bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithWaitTimeout bounds how long a synchronous request waits for its job.
// When it expires the client receives 202 with the job ID instead.
func WithWaitTimeout(d time.Duration) HandlerOption {
	return func(h *Handlers) {
		h.waitTimeout = d
	}
}

// WithQueueDepth reports the queue depth on the health endpoint.
func WithQueueDepth(fn func() int) HandlerOption {
	return func(h *Handlers) {
		h.depth = fn
	}
}

// WithLocalSources accepts file:// URLs for request sources.
func WithLocalSources(allow bool) HandlerOption {
	return func(h *Handlers) {
		h.allowLocal = allow
	}
}

// WithAssetLister exposes the bundled overlay images.
func WithAssetLister(fn func() ([]string, error)) HandlerOption {
	return func(h *Handlers) {
		h.assets = fn
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(renderer Renderer, jobs JobReader, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		renderer:    renderer,
		jobs:        jobs,
		logger:      logger,
		waitTimeout: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(h)
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("resolution", func(fl validator.FieldLevel) bool {
		_, err := compose.ParseResolution(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("source_url", func(fl validator.FieldLevel) bool {
		return isSourceURL(fl.Field().String(), h.allowLocal)
	})
	h.validator = v
	return h
}

// isSourceURL accepts absolute http(s) URLs, and file:// URLs when local
// sources are allowed.
func isSourceURL(raw string, allowLocal bool) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https":
		return u.Host != ""
	case "file":
		return allowLocal && u.Path != ""
	}
	return false
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.depth != nil {
		resp.QueueDepth = h.depth()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Compose handles POST /v1/compose requests.
func (h *Handlers) Compose(w http.ResponseWriter, r *http.Request) {
	var req ComposeRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.submit(w, r, job.TypeCompose, func(ctx context.Context, wait bool) (*job.Job, error) {
		return h.renderer.Compose(ctx, req.toDomain(), wait)
	})
}

// Overlay handles POST /v1/overlay requests.
func (h *Handlers) Overlay(w http.ResponseWriter, r *http.Request) {
	var req OverlayRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.submit(w, r, job.TypeOverlay, func(ctx context.Context, wait bool) (*job.Job, error) {
		return h.renderer.Overlay(ctx, req.toDomain(), wait)
	})
}

// Merge handles POST /v1/merge requests.
func (h *Handlers) Merge(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.submit(w, r, job.TypeMerge, func(ctx context.Context, wait bool) (*job.Job, error) {
		return h.renderer.Merge(ctx, req.toDomain(), wait)
	})
}

// GetJob handles GET /v1/jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	resp := JobResponse{
		ID:          found.ID,
		Type:        string(found.Type),
		Status:      string(found.Status),
		Attempts:    found.Attempts,
		MaxAttempts: found.MaxAttempts,
		Error:       found.Error,
		Code:        string(render.KindOfMessage(found.Error)),
		CreatedAt:   found.CreatedAt,
		UpdatedAt:   found.UpdatedAt,
	}
	if !found.CompletedAt.IsZero() {
		completed := found.CompletedAt
		resp.CompletedAt = &completed
	}
	if found.Status == job.StatusCompleted {
		if res, err := render.DecodeResult(found); err == nil {
			resp.URL = res.URL
			resp.Duration = res.Duration
		} else {
			h.logger.Error("failed to decode job result",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Assets handles GET /v1/assets requests.
func (h *Handlers) Assets(w http.ResponseWriter, r *http.Request) {
	if h.assets == nil {
		writeJSON(w, http.StatusOK, AssetsResponse{Assets: []string{}})
		return
	}
	names, err := h.assets()
	if err != nil {
		h.logger.Error("failed to list assets", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list assets", "INTERNAL_ERROR")
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, AssetsResponse{Assets: names})
}

// decode reads and validates a JSON body. It writes the error response and
// returns false on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), string(render.KindValidation))
		return false
	}
	return true
}

// submit runs a render submission. With ?async=true it returns 202 as soon
// as the job is queued; otherwise it waits for the result.
func (h *Handlers) submit(w http.ResponseWriter, r *http.Request, typ job.Type, fn func(context.Context, bool) (*job.Job, error)) {
	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))

	ctx := r.Context()
	if !async && h.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.waitTimeout)
		defer cancel()
	}

	j, err := fn(ctx, !async)
	if err != nil {
		if j != nil && errors.Is(err, context.DeadlineExceeded) {
			h.logger.Info("render still running, returning job ID",
				slog.String("job_id", j.ID),
				slog.String("type", string(typ)),
			)
			writeJSON(w, http.StatusAccepted, JobAcceptedResponse{ID: j.ID, Status: string(j.Status)})
			return
		}
		h.writeRenderError(w, typ, err)
		return
	}

	if async {
		writeJSON(w, http.StatusAccepted, JobAcceptedResponse{ID: j.ID, Status: string(j.Status)})
		return
	}

	res, err := render.DecodeResult(j)
	if err != nil {
		h.logger.Error("failed to decode job result",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read render result", string(render.KindInternal))
		return
	}
	writeJSON(w, http.StatusOK, ResultResponse{ID: j.ID, URL: res.URL, Duration: res.Duration})
}

// writeRenderError maps render and queue errors to HTTP responses.
func (h *Handlers) writeRenderError(w http.ResponseWriter, typ job.Type, err error) {
	var jobErr *render.JobError
	switch {
	case errors.Is(err, render.ErrValidation) && !errors.As(err, &jobErr):
		writeError(w, http.StatusBadRequest, err.Error(), string(render.KindValidation))

	case errors.Is(err, job.ErrQueueFull), errors.Is(err, job.ErrQueueClosed), errors.Is(err, job.ErrQueueNotStarted):
		h.logger.Warn("render rejected",
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, err.Error(), "QUEUE_UNAVAILABLE")

	case errors.As(err, &jobErr):
		status := http.StatusInternalServerError
		if jobErr.Kind == render.KindValidation {
			status = http.StatusBadRequest
		}
		writeError(w, status, jobErr.Message, string(jobErr.Kind))

	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
		h.logger.Info("client cancelled render request", slog.String("type", string(typ)))

	default:
		h.logger.Error("render submission failed",
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to submit render", string(render.KindInternal))
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
