// Package render turns compose, overlay and merge requests into queued jobs
// and runs each job through download, probe, plan, encode and publish.
package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/maauso/reelsmith/internal/asset"
	"github.com/maauso/reelsmith/internal/caption"
	"github.com/maauso/reelsmith/internal/compose"
	"github.com/maauso/reelsmith/internal/job"
	"github.com/maauso/reelsmith/internal/media"
	"github.com/maauso/reelsmith/internal/storage"
)

// ErrNotAttached is returned when a request is submitted before a queue has
// been attached to the service.
var ErrNotAttached = errors.New("render: no queue attached")

// Queue is the part of the job queue the service submits to.
type Queue interface {
	Enqueue(ctx context.Context, typ job.Type, payload json.RawMessage) (*job.Job, error)
	Await(ctx context.Context, id string) (*job.Job, error)
}

// BackgroundCache resolves shared background clips to local paths.
type BackgroundCache interface {
	Get(ctx context.Context, key, rawURL string) (string, error)
}

// Service runs render jobs.
type Service struct {
	queue       Queue
	storage     storage.Storage
	fetcher     asset.Downloader
	backgrounds BackgroundCache
	bundle      *asset.Bundle
	engine      media.Runner
	prober      media.ProbeRunner
	presets     caption.Presets
	encode      compose.EncodeOptions
	logger      *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDownloader sets the downloader for per-job inputs.
func WithDownloader(d asset.Downloader) ServiceOption {
	return func(s *Service) {
		s.fetcher = d
	}
}

// WithBackgroundCache routes compose backgrounds through a shared cache.
func WithBackgroundCache(c BackgroundCache) ServiceOption {
	return func(s *Service) {
		s.backgrounds = c
	}
}

// WithBundle sets the bundled overlay images.
func WithBundle(b *asset.Bundle) ServiceOption {
	return func(s *Service) {
		s.bundle = b
	}
}

// WithPresets sets the caption style presets.
func WithPresets(p caption.Presets) ServiceOption {
	return func(s *Service) {
		s.presets = p
	}
}

// WithEncodeOptions sets the video encoder options.
func WithEncodeOptions(o compose.EncodeOptions) ServiceOption {
	return func(s *Service) {
		s.encode = o
	}
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a render service. Attach a queue before submitting.
func NewService(store storage.Storage, engine media.Runner, prober media.ProbeRunner, opts ...ServiceOption) *Service {
	s := &Service{
		storage: store,
		engine:  engine,
		prober:  prober,
		presets: caption.Presets{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fetcher == nil {
		s.fetcher = asset.NewFetcher(asset.WithFetchLogger(s.logger))
	}
	if s.bundle == nil {
		s.bundle = asset.NewBundle("")
	}
	return s
}

// Attach sets the queue requests are submitted to. The queue in turn calls
// Handle, so it is wired after both exist.
func (s *Service) Attach(q Queue) {
	s.queue = q
}

// Compose validates and submits a composition. With wait set it blocks
// until the job is terminal and returns a *JobError if it failed. If the
// wait itself is interrupted the queued job is returned with the error.
func (s *Service) Compose(ctx context.Context, req ComposeRequest, wait bool) (*job.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.presets.Resolve(req.Captions.Preset, req.Captions.Style); err != nil {
		return nil, fmt.Errorf("%w: captions.preset: %w", ErrValidation, err)
	}
	return s.submit(ctx, job.TypeCompose, req, wait)
}

// Overlay validates and submits an overlay.
func (s *Service) Overlay(ctx context.Context, req OverlayRequest, wait bool) (*job.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Asset != "" {
		if _, err := s.bundle.Resolve(req.Asset); err != nil {
			return nil, fmt.Errorf("%w: asset: %w", ErrValidation, err)
		}
	}
	return s.submit(ctx, job.TypeOverlay, req, wait)
}

// Merge validates and submits a merge.
func (s *Service) Merge(ctx context.Context, req MergeRequest, wait bool) (*job.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.submit(ctx, job.TypeMerge, req, wait)
}

func (s *Service) submit(ctx context.Context, typ job.Type, req any, wait bool) (*job.Job, error) {
	if s.queue == nil {
		return nil, ErrNotAttached
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("render: encode %s request: %w", typ, err)
	}
	j, err := s.queue.Enqueue(ctx, typ, payload)
	if err != nil {
		return nil, err
	}
	if !wait {
		return j, nil
	}

	done, err := s.queue.Await(ctx, j.ID)
	if err != nil {
		// The job stays queued; callers can poll it by ID.
		return j, err
	}
	if done.Status == job.StatusFailed {
		return done, &JobError{JobID: done.ID, Kind: KindOfMessage(done.Error), Message: done.Error}
	}
	return done, nil
}

// DecodeResult reads the result of a completed job.
func DecodeResult(j *job.Job) (*Result, error) {
	if len(j.Result) == 0 {
		return nil, fmt.Errorf("render: job %s has no result", j.ID)
	}
	var r Result
	if err := json.Unmarshal(j.Result, &r); err != nil {
		return nil, fmt.Errorf("render: decode job %s result: %w", j.ID, err)
	}
	return &r, nil
}

// Handle runs one attempt of a job. It implements job.Handler.
func (s *Service) Handle(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	logger := s.logger.With(slog.String("job_id", j.ID), slog.String("type", string(j.Type)))

	var (
		res *Result
		err error
	)
	switch j.Type {
	case job.TypeCompose:
		var req ComposeRequest
		if err = decodePayload(j, &req); err == nil {
			res, err = s.runCompose(ctx, j.ID, req, logger)
		}
	case job.TypeOverlay:
		var req OverlayRequest
		if err = decodePayload(j, &req); err == nil {
			res, err = s.runOverlay(ctx, j.ID, req, logger)
		}
	case job.TypeMerge:
		var req MergeRequest
		if err = decodePayload(j, &req); err == nil {
			res, err = s.runMerge(ctx, j.ID, req, logger)
		}
	default:
		err = job.Permanent(fmt.Errorf("%w: %q", job.ErrUnknownType, j.Type))
	}
	if err != nil {
		return nil, classify(err)
	}

	out, err := json.Marshal(res)
	if err != nil {
		return nil, job.Permanent(fmt.Errorf("render: encode result: %w", err))
	}
	return out, nil
}

func decodePayload(j *job.Job, dst any) error {
	if err := json.Unmarshal(j.Payload, dst); err != nil {
		return fmt.Errorf("%w: payload: %w", ErrValidation, err)
	}
	return nil
}

// outputKey builds the object key for a job's output.
func outputKey(prefix, jobID string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return jobID + ".mp4"
	}
	return path.Join(prefix, jobID+".mp4")
}
