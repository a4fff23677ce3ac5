// Package media runs the external ffmpeg and ffprobe binaries.
package media

import "context"

// Runner executes a planned ffmpeg invocation.
type Runner interface {
	// Run executes ffmpeg with args. It succeeds only when ffmpeg exits
	// zero and output exists and is not empty.
	Run(ctx context.Context, args []string, output string) error
}

// ProbeRunner reads media facts for a local file.
type ProbeRunner interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
}

var (
	_ Runner      = (*Engine)(nil)
	_ ProbeRunner = (*Prober)(nil)
)
