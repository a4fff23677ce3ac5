package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Queue errors.
var (
	// ErrQueueFull is returned when the intake buffer is saturated.
	ErrQueueFull = errors.New("job queue is full")
	// ErrQueueClosed is returned when enqueuing after Stop.
	ErrQueueClosed = errors.New("job queue is closed")
	// ErrQueueNotStarted is returned when enqueuing before Start.
	ErrQueueNotStarted = errors.New("job queue not started")
	// ErrUnknownType is returned for jobs no handler accepts.
	ErrUnknownType = errors.New("unknown job type")
)

// Handler runs one attempt of a job and returns its JSON result.
type Handler interface {
	Handle(ctx context.Context, j *Job) (json.RawMessage, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, j *Job) (json.RawMessage, error)

// Handle calls f(ctx, j).
func (f HandlerFunc) Handle(ctx context.Context, j *Job) (json.RawMessage, error) {
	return f(ctx, j)
}

// Observer receives job lifecycle events, typically for metrics.
type Observer interface {
	JobStarted(t Type)
	JobRetried(t Type)
	JobFinished(t Type, status Status, d time.Duration, err error)
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Options configures a Queue.
type Options struct {
	// Concurrency is the number of workers.
	Concurrency int
	// Capacity bounds jobs waiting for a worker.
	Capacity int
	// MaxAttempts bounds attempts per job.
	MaxAttempts int
	// BaseBackoff is the delay before the second attempt; it doubles after.
	BaseBackoff time.Duration
	// MaxBackoff caps the retry delay. Zero means no cap.
	MaxBackoff time.Duration
	// Retention is how long terminal jobs are kept. Zero keeps them forever.
	Retention time.Duration
	// JanitorInterval is how often retention runs.
	JanitorInterval time.Duration
	// ShutdownGrace bounds how long Stop waits before cancelling in-flight jobs.
	ShutdownGrace time.Duration
}

// DefaultOptions returns the queue defaults.
func DefaultOptions() Options {
	return Options{
		Concurrency:     2,
		Capacity:        100,
		MaxAttempts:     3,
		BaseBackoff:     2 * time.Second,
		MaxBackoff:      time.Minute,
		Retention:       24 * time.Hour,
		JanitorInterval: 10 * time.Minute,
		ShutdownGrace:   30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.Capacity <= 0 {
		o.Capacity = d.Capacity
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = d.BaseBackoff
	}
	if o.JanitorInterval <= 0 {
		o.JanitorInterval = d.JanitorInterval
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = d.ShutdownGrace
	}
	return o
}

// Backoff returns the delay before attempt n+1 after n failed attempts.
func (o Options) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := o.BaseBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if o.MaxBackoff > 0 && d >= o.MaxBackoff {
			return o.MaxBackoff
		}
	}
	if o.MaxBackoff > 0 && d > o.MaxBackoff {
		return o.MaxBackoff
	}
	return d
}

// QueueOption configures optional Queue collaborators.
type QueueOption func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithObserver registers a lifecycle observer.
func WithObserver(o Observer) QueueOption {
	return func(q *Queue) { q.observer = o }
}

// Queue is a fixed-size worker pool over a bounded intake channel. Job state
// lives in the Repository; the channel carries IDs only.
type Queue struct {
	repo     Repository
	handler  Handler
	opts     Options
	logger   *slog.Logger
	observer Observer

	tasks  chan string
	stopCh chan struct{}
	wg     sync.WaitGroup

	runCtx    context.Context
	cancelRun context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool
	waiters map[string][]chan struct{}
}

// NewQueue creates a Queue. Call Start before Enqueue.
func NewQueue(repo Repository, handler Handler, opts Options, qopts ...QueueOption) *Queue {
	opts = opts.withDefaults()
	q := &Queue{
		repo:    repo,
		handler: handler,
		opts:    opts,
		logger:  slog.Default(),
		tasks:   make(chan string, opts.Capacity),
		stopCh:  make(chan struct{}),
		waiters: make(map[string][]chan struct{}),
	}
	for _, opt := range qopts {
		opt(q)
	}
	q.logger = q.logger.With(slog.String("component", "job-queue"))
	return q
}

// Options returns the effective options.
func (q *Queue) Options() Options {
	return q.opts
}

// Depth returns the number of jobs waiting for a worker.
func (q *Queue) Depth() int {
	return len(q.tasks)
}

// Start launches the workers and the retention janitor, then resumes
// unfinished jobs left in the repository by a previous process.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return errors.New("job queue already started")
	}
	q.started = true
	q.runCtx, q.cancelRun = context.WithCancel(context.WithoutCancel(ctx))
	q.mu.Unlock()

	for i := 0; i < q.opts.Concurrency; i++ {
		q.wg.Add(1)
		go func(worker int) {
			defer q.wg.Done()
			q.work(worker)
		}(i)
	}

	if q.opts.Retention > 0 {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.janitor()
		}()
	}

	q.logger.Info("job queue started",
		slog.Int("concurrency", q.opts.Concurrency),
		slog.Int("capacity", q.opts.Capacity),
		slog.Int("max_attempts", q.opts.MaxAttempts),
	)
	return q.resume(ctx)
}

// Stop stops accepting jobs, lets in-flight attempts finish within the
// shutdown grace period and then cancels them.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.stopCh)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	grace := time.NewTimer(q.opts.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-done:
		q.cancelRun()
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}
	q.logger.Warn("cancelling in-flight jobs")
	q.cancelRun()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop job queue: %w", ctx.Err())
	}
}

// Enqueue persists a new job and hands it to the workers. It returns
// ErrQueueFull without keeping the job when the intake buffer is saturated.
func (q *Queue) Enqueue(ctx context.Context, typ Type, payload json.RawMessage) (*Job, error) {
	if !typ.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if err := q.accepting(); err != nil {
		return nil, err
	}

	j := New(typ, payload, q.opts.MaxAttempts)
	if err := q.repo.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	select {
	case q.tasks <- j.ID:
	default:
		if err := q.repo.Delete(ctx, j.ID); err != nil {
			q.logger.Warn("failed to drop rejected job",
				slog.String("job_id", j.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, ErrQueueFull
	}

	q.logger.Info("job enqueued",
		slog.String("job_id", j.ID),
		slog.String("type", string(typ)),
		slog.Int("depth", len(q.tasks)),
	)
	return j.Clone(), nil
}

// Get returns the current state of a job.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.repo.FindByID(ctx, id)
}

// Await blocks until the job reaches a terminal state or ctx is done.
func (q *Queue) Await(ctx context.Context, id string) (*Job, error) {
	ch := q.subscribe(id)
	defer q.unsubscribe(id, ch)

	j, err := q.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status.IsTerminal() {
		return j, nil
	}

	select {
	case <-ch:
		return q.repo.FindByID(context.WithoutCancel(ctx), id)
	case <-ctx.Done():
		return nil, fmt.Errorf("await job %s: %w", id, ctx.Err())
	}
}

func (q *Queue) accepting() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case q.stopped:
		return ErrQueueClosed
	case !q.started:
		return ErrQueueNotStarted
	}
	return nil
}

func (q *Queue) subscribe(id string) chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch := make(chan struct{})
	q.waiters[id] = append(q.waiters[id], ch)
	return ch
}

func (q *Queue) unsubscribe(id string, ch chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	chans := q.waiters[id]
	for i, c := range chans {
		if c == ch {
			chans = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(chans) == 0 {
		delete(q.waiters, id)
		return
	}
	q.waiters[id] = chans
}

func (q *Queue) notify(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.waiters[id] {
		close(ch)
	}
	delete(q.waiters, id)
}

func (q *Queue) work(worker int) {
	for {
		select {
		case <-q.stopCh:
			return
		case id := <-q.tasks:
			q.process(worker, id)
		}
	}
}

// process runs one attempt of the job with the given ID.
func (q *Queue) process(worker int, id string) {
	ctx := q.runCtx
	j, err := q.repo.FindByID(ctx, id)
	if err != nil {
		q.logger.Error("failed to load job",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	if j.GetStatus().IsTerminal() {
		q.notify(id)
		return
	}

	if err := j.Start(); err != nil {
		q.logger.Error("failed to start job",
			slog.String("job_id", id),
			slog.String("status", string(j.GetStatus())),
			slog.String("error", err.Error()),
		)
		return
	}
	q.save(j)
	if q.observer != nil {
		q.observer.JobStarted(j.Type)
	}

	logger := q.logger.With(
		slog.String("job_id", j.ID),
		slog.String("type", string(j.Type)),
		slog.Int("attempt", j.Attempts),
		slog.Int("worker", worker),
	)
	logger.Info("job attempt started")

	start := time.Now()
	result, runErr := q.run(ctx, j)
	elapsed := time.Since(start)

	switch {
	case runErr == nil:
		_ = j.Complete(result)
		q.save(j)
		logger.Info("job completed", slog.Duration("duration", elapsed))
		q.finished(j, elapsed, nil)

	case IsPermanent(runErr) || !j.AttemptsLeft():
		_ = j.Fail(runErr.Error())
		q.save(j)
		logger.Error("job failed",
			slog.Duration("duration", elapsed),
			slog.Bool("permanent", IsPermanent(runErr)),
			slog.String("error", runErr.Error()),
		)
		q.finished(j, elapsed, runErr)

	default:
		delay := q.opts.Backoff(j.Attempts)
		_ = j.Retry(runErr.Error(), time.Now().Add(delay))
		q.save(j)
		logger.Warn("job attempt failed, retrying",
			slog.Duration("duration", elapsed),
			slog.Duration("backoff", delay),
			slog.String("error", runErr.Error()),
		)
		if q.observer != nil {
			q.observer.JobRetried(j.Type)
		}
		q.scheduleRetry(j.ID, delay)
	}
}

// run invokes the handler, turning panics into permanent failures.
func (q *Queue) run(ctx context.Context, j *Job) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return q.handler.Handle(ctx, j.Clone())
}

func (q *Queue) finished(j *Job, d time.Duration, err error) {
	if q.observer != nil {
		q.observer.JobFinished(j.Type, j.GetStatus(), d, err)
	}
	q.notify(j.ID)
}

func (q *Queue) save(j *Job) {
	if err := q.repo.Save(context.WithoutCancel(q.runCtx), j); err != nil {
		q.logger.Error("failed to save job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (q *Queue) scheduleRetry(id string, delay time.Duration) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-q.stopCh:
			return
		case <-timer.C:
		}
		select {
		case q.tasks <- id:
		case <-q.stopCh:
		}
	}()
}

// resume re-enqueues jobs a previous process left unfinished. Attempts that
// were ACTIVE when the process died count as failed attempts. RETRYING jobs
// keep their backoff and run at NextAttemptAt.
func (q *Queue) resume(ctx context.Context) error {
	jobs, err := q.repo.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("list unfinished jobs: %w", err)
	}
	resumed := 0
	for i := len(jobs) - 1; i >= 0; i-- {
		j := jobs[i]
		switch j.Status {
		case StatusActive:
			if j.AttemptsLeft() {
				_ = j.Retry("interrupted by restart", time.Now())
			} else {
				_ = j.Fail("interrupted by restart")
				q.save(j)
				continue
			}
			q.save(j)
		case StatusRetrying:
			if delay := time.Until(j.NextAttemptAt); delay > 0 {
				q.scheduleRetry(j.ID, delay)
				resumed++
				continue
			}
		case StatusQueued:
		default:
			continue
		}
		select {
		case q.tasks <- j.ID:
			resumed++
		default:
			_ = j.Fail(ErrQueueFull.Error())
			q.save(j)
		}
	}
	if resumed > 0 {
		q.logger.Info("resumed unfinished jobs", slog.Int("count", resumed))
	}
	return nil
}

func (q *Queue) janitor() {
	ticker := time.NewTicker(q.opts.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.Purge(q.runCtx)
		}
	}
}

// Purge deletes terminal jobs older than the retention window.
func (q *Queue) Purge(ctx context.Context) int {
	if q.opts.Retention <= 0 {
		return 0
	}
	n, err := q.repo.DeleteFinishedBefore(ctx, time.Now().Add(-q.opts.Retention))
	if err != nil {
		q.logger.Warn("job retention failed", slog.String("error", err.Error()))
		return 0
	}
	if n > 0 {
		q.logger.Info("purged finished jobs", slog.Int("count", n))
	}
	return n
}
