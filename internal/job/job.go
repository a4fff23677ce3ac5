// Package job provides the Job aggregate for render jobs, its state machine,
// persistence ports and the worker queue that drives jobs to completion.
package job

import (
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/maauso/reelsmith/internal/job/id"
)

// Type identifies which render pipeline handles a job.
type Type string

const (
	// TypeCompose renders a captioned composition.
	TypeCompose Type = "compose"
	// TypeOverlay composites an image onto a clip.
	TypeOverlay Type = "overlay"
	// TypeMerge concatenates clips.
	TypeMerge Type = "merge"
)

// IsValid returns true if the type is known.
func (t Type) IsValid() bool {
	return t == TypeCompose || t == TypeOverlay || t == TypeMerge
}

// Status represents the current state of a Job.
type Status string

const (
	// StatusQueued indicates the job is waiting for a worker.
	StatusQueued Status = "QUEUED"
	// StatusActive indicates a worker is running the job.
	StatusActive Status = "ACTIVE"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusRetrying indicates the last attempt failed and another is scheduled.
	StatusRetrying Status = "RETRYING"
	// StatusFailed indicates the job failed terminally.
	StatusFailed Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusQueued:    {StatusActive, StatusFailed},
	StatusActive:    {StatusCompleted, StatusRetrying, StatusFailed},
	StatusRetrying:  {StatusActive, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// Job represents one render request moving through the queue.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Type selects the render pipeline.
	Type Type
	// Payload is the validated request, encoded as JSON.
	Payload json.RawMessage
	// Status is the current job state.
	Status Status
	// Attempts counts started attempts.
	Attempts int
	// MaxAttempts bounds Attempts.
	MaxAttempts int
	// Result is the pipeline output, encoded as JSON.
	Result json.RawMessage
	// Error holds the last attempt's error message.
	Error string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when the latest attempt started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
	// NextAttemptAt is when a retrying job runs again.
	NextAttemptAt time.Time
}

// New creates a new QUEUED Job with a generated ID.
func New(typ Type, payload json.RawMessage, maxAttempts int) *Job {
	return NewWithID(id.Generate(), typ, payload, maxAttempts)
}

// NewWithID creates a new QUEUED Job with the specified ID.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string, typ Type, payload json.RawMessage, maxAttempts int) *Job {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	now := time.Now()
	return &Job{
		ID:          jobID,
		Type:        typ,
		Payload:     payload,
		Status:      StatusQueued,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusActive:
		j.StartedAt = j.UpdatedAt
		j.NextAttemptAt = time.Time{}
		j.Attempts++
	case StatusCompleted, StatusFailed:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start begins a new attempt.
func (j *Job) Start() error {
	return j.TransitionTo(StatusActive)
}

// Complete records result and transitions the job to COMPLETED.
func (j *Job) Complete(result json.RawMessage) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Result = result
	j.Error = ""
	return nil
}

// Retry records the attempt's error and schedules the next attempt at next.
func (j *Job) Retry(errMsg string, next time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusRetrying); err != nil {
		return err
	}
	j.Error = errMsg
	j.NextAttemptAt = next
	return nil
}

// Fail transitions the job to FAILED state with an error message.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// AttemptsLeft reports whether another attempt may be started.
func (j *Job) AttemptsLeft() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Attempts < j.MaxAttempts
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status.IsTerminal()
}

// IsTerminal returns true for COMPLETED and FAILED.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:            j.ID,
		Type:          j.Type,
		Payload:       slices.Clone(j.Payload),
		Status:        j.Status,
		Attempts:      j.Attempts,
		MaxAttempts:   j.MaxAttempts,
		Result:        slices.Clone(j.Result),
		Error:         j.Error,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
		NextAttemptAt: j.NextAttemptAt,
	}
}
