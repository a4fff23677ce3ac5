// Package id provides unique identifier generation for jobs.
package id

import "github.com/google/uuid"

// Generate creates a new unique job ID.
// Format: job-<uuid>
// Example: job-7b1d1a52-6c1e-4b8e-9a35-0f3c1c7d9e21
func Generate() string {
	return "job-" + uuid.NewString()
}
