// Package storage provides per-job scratch workspaces and publishing of
// finished renders. It defines the Storage interface (port) and
// implementations for local disk and S3.
package storage

import (
	"context"
	"errors"
)

// ErrUploadFailed is returned when a finished file cannot be published.
var ErrUploadFailed = errors.New("storage: upload failed")

// Storage defines scratch space and publishing for render jobs.
type Storage interface {
	// NewWorkspace creates an isolated, uniquely named directory for one job.
	// The caller must call Cleanup on every exit path.
	NewWorkspace(ctx context.Context, prefix string) (*Workspace, error)

	// Publish stores the file at localPath under key and returns its URL.
	Publish(ctx context.Context, localPath, contentType, key string) (url string, err error)
}
