package render

import (
	"errors"
	"fmt"
	"strings"

	"github.com/maauso/reelsmith/internal/asset"
	"github.com/maauso/reelsmith/internal/caption"
	"github.com/maauso/reelsmith/internal/compose"
	"github.com/maauso/reelsmith/internal/job"
	"github.com/maauso/reelsmith/internal/media"
	"github.com/maauso/reelsmith/internal/storage"
)

// Error taxonomy. Every failure a render job reports wraps exactly one of
// these, and its message starts with the sentinel's text.
var (
	// ErrValidation marks caller input problems. They are never retried.
	ErrValidation = errors.New("validation failed")
	// ErrAssetUnavailable marks a remote input that could not be downloaded.
	ErrAssetUnavailable = errors.New("asset unavailable")
	// ErrProbeFailed marks a probe that returned no usable stream.
	ErrProbeFailed = errors.New("probe failed")
	// ErrEngineFailed marks a non-zero exit or timeout of the media engine.
	ErrEngineFailed = errors.New("engine failed")
	// ErrUploadFailed marks a failed publish to object storage.
	ErrUploadFailed = errors.New("upload failed")
)

// Kind is a stable, machine-readable error category.
type Kind string

const (
	KindNone             Kind = ""
	KindValidation       Kind = "VALIDATION_ERROR"
	KindAssetUnavailable Kind = "ASSET_UNAVAILABLE"
	KindProbeFailed      Kind = "PROBE_FAILURE"
	KindEngineFailed     Kind = "ENGINE_FAILURE"
	KindUploadFailed     Kind = "UPLOAD_FAILURE"
	KindInternal         Kind = "INTERNAL_ERROR"
)

var kinds = []struct {
	kind Kind
	err  error
}{
	{KindValidation, ErrValidation},
	{KindAssetUnavailable, ErrAssetUnavailable},
	{KindProbeFailed, ErrProbeFailed},
	{KindEngineFailed, ErrEngineFailed},
	{KindUploadFailed, ErrUploadFailed},
}

// KindOf classifies err. Errors from the collaborating packages are
// recognised as well as the render sentinels.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	err = classify(err)
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// KindOfMessage recovers the kind of a stored job error message.
func KindOfMessage(msg string) Kind {
	if msg == "" {
		return KindNone
	}
	for _, k := range kinds {
		if strings.HasPrefix(msg, k.err.Error()) {
			return k.kind
		}
	}
	return KindInternal
}

// JobError reports a job that ended in FAILED.
type JobError struct {
	JobID   string
	Kind    Kind
	Message string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// Unwrap exposes the sentinel matching the job's error kind.
func (e *JobError) Unwrap() error {
	for _, k := range kinds {
		if k.kind == e.Kind {
			return k.err
		}
	}
	return nil
}

// classify wraps err with its render sentinel. Validation failures are also
// marked permanent so the queue does not retry them.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			if k.kind == KindValidation {
				return job.Permanent(err)
			}
			return err
		}
	}

	switch {
	case isInputError(err):
		return job.Permanent(fmt.Errorf("%w: %w", ErrValidation, err))
	case errors.Is(err, asset.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrAssetUnavailable, err)
	case errors.Is(err, media.ErrProbeFailed), errors.Is(err, media.ErrNoVideoStream):
		return fmt.Errorf("%w: %w", ErrProbeFailed, err)
	case errors.Is(err, media.ErrEngineFailed):
		return fmt.Errorf("%w: %w", ErrEngineFailed, err)
	case errors.Is(err, storage.ErrUploadFailed):
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	return err
}

// isInputError reports planning errors caused by the request itself, such
// as trims past the probed end of a clip.
func isInputError(err error) bool {
	for _, target := range []error{
		asset.ErrUnknownAsset,
		asset.ErrLocalSourceDenied,
		caption.ErrInvalidTimestamps,
		caption.ErrUnknownPreset,
		compose.ErrInvalidSize,
		compose.ErrInvalidDuration,
		compose.ErrInvalidTrim,
		compose.ErrInvalidTransition,
		compose.ErrInvalidOverlay,
		compose.ErrInvalidWatermark,
		compose.ErrNoClips,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// invalid builds a validation error for a request field.
func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrValidation, field, fmt.Sprintf(format, args...))
}
