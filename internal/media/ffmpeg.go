package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// DefaultTimeout bounds a single ffmpeg invocation.
const DefaultTimeout = 10 * time.Minute

// stderrTail is how much of ffmpeg's stderr is kept for error reports.
const stderrTail = 8 << 10

// Static errors for engine operations.
var (
	// ErrEngineFailed is returned when ffmpeg exits non-zero or produces no output.
	ErrEngineFailed = errors.New("media: ffmpeg failed")
	// ErrEngineTimeout is returned when ffmpeg exceeds its wall-clock limit.
	ErrEngineTimeout = errors.New("media: ffmpeg timed out")
	// ErrEmptyOutput is returned when ffmpeg exits zero without writing output.
	ErrEmptyOutput = errors.New("media: ffmpeg produced no output")
)

// Engine runs ffmpeg with a hard wall-clock limit.
type Engine struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	timeout    time.Duration
	logger     *slog.Logger
	observe    func(time.Duration, error)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTimeout sets the per-invocation timeout.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver registers a callback invoked after every run with its
// duration and result.
func WithObserver(fn func(time.Duration, error)) EngineOption {
	return func(e *Engine) {
		e.observe = fn
	}
}

// NewEngine creates an Engine.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewEngine(ffmpegPath string, opts ...EngineOption) *Engine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	e := &Engine{
		ffmpegPath: ffmpegPath,
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Timeout returns the configured per-invocation timeout.
func (e *Engine) Timeout() time.Duration {
	return e.timeout
}

// Run executes ffmpeg with args and verifies that output exists and is not
// empty. Failures are returned as *FFmpegError wrapping ErrEngineFailed, and
// additionally ErrEngineTimeout when the time limit was hit.
func (e *Engine) Run(ctx context.Context, args []string, output string) (err error) {
	start := time.Now()
	defer func() {
		if e.observe != nil {
			e.observe(time.Since(start), err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(runCtx, e.ffmpegPath, args...)
	cmd.WaitDelay = 5 * time.Second

	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr

	e.logger.Debug("running ffmpeg", slog.Int("args", len(args)), slog.String("output", output))

	if runErr := cmd.Run(); runErr != nil {
		switch {
		case ctx.Err() != nil:
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return &FFmpegError{
				Args:   args,
				Stderr: stderr.String(),
				Err:    fmt.Errorf("%w after %s: %w", ErrEngineFailed, e.timeout, ErrEngineTimeout),
			}
		default:
			return &FFmpegError{
				Args:   args,
				Stderr: stderr.String(),
				Err:    fmt.Errorf("%w: %w", ErrEngineFailed, runErr),
			}
		}
	}

	info, statErr := os.Stat(output)
	if statErr != nil || info.Size() == 0 {
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    fmt.Errorf("%w: %w", ErrEngineFailed, ErrEmptyOutput),
		}
	}

	e.logger.Debug("ffmpeg finished",
		slog.String("output", output),
		slog.Int64("bytes", info.Size()),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// FFmpegError represents an error from running ffmpeg, including the tail
// of its stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}
