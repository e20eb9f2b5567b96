// Package job implements the cooperative job and task execution model.
//
// A Job wraps one unit of work and drives it through an explicit state
// machine (see state.go). Work observes cancellation through its context;
// Stop cancels that context and waits, bounded, for the work to settle.
package job

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/errors"
	"github.com/ajitpratap0/datapkg/pkg/logger"
)

// Result is what a unit of work produces. A nonzero ExitCode moves the job to ERROR.
type Result[T any] struct {
	ExitCode int
	Value    T
}

// Work is the body of a job. It must return promptly once ctx is cancelled.
type Work[T any] func(ctx context.Context) (Result[T], error)

// Listener is notified after every state change.
type Listener func(id string, from, to State)

// Option configures a Job.
type Option func(*options)

type options struct {
	stopTimeout time.Duration
	logger      *zap.Logger
	listeners   []Listener
	id          string
}

// WithStopTimeout overrides config.DefaultStopTimeout.
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}

// WithLogger sets the job's logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithListener registers a state change listener.
func WithListener(l Listener) Option {
	return func(o *options) { o.listeners = append(o.listeners, l) }
}

// WithID fixes the job id instead of generating one.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// Job runs one Work function at most once.
type Job[T any] struct {
	id   string
	name string
	work Work[T]
	opts options

	mu            sync.Mutex
	state         State
	stopRequested bool
	cancel        context.CancelFunc
	done          chan struct{}
	logger        *zap.Logger
}

// New creates a job in INIT.
func New[T any](name string, work Work[T], opts ...Option) *Job[T] {
	o := options{stopTimeout: config.DefaultStopTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if o.logger == nil {
		o.logger = logger.Get()
	}

	return &Job[T]{
		id:     o.id,
		name:   name,
		work:   work,
		opts:   o,
		state:  StateInit,
		done:   make(chan struct{}),
		logger: o.logger.With(zap.String("job_id", o.id), zap.String("job", name)),
	}
}

// ID returns the job id.
func (j *Job[T]) ID() string { return j.id }

// State returns the current state.
func (j *Job[T]) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Done is closed once the job reaches a terminal state after Execute.
func (j *Job[T]) Done() <-chan struct{} { return j.done }

// Execute runs the work. The final state is ERROR when the exit code is
// nonzero, STOPPED when Stop was called while running, otherwise COMPLETED.
// A returned error without an exit code is mapped through errors.ExitCode.
func (j *Job[T]) Execute(ctx context.Context) (Result[T], error) {
	var zero Result[T]

	workCtx, cancel := context.WithCancel(logger.ContextWith(ctx, logger.JobIDKey, j.id))

	j.mu.Lock()
	if err := j.fire(EventStart); err != nil {
		j.mu.Unlock()
		cancel()
		return zero, err
	}
	j.cancel = cancel
	j.mu.Unlock()

	defer close(j.done)
	defer cancel()

	j.logger.Info("job started")
	start := time.Now()

	res, err := j.run(workCtx)
	if err != nil && res.ExitCode == 0 {
		res.ExitCode = errors.ExitCode(err)
	}

	j.mu.Lock()
	event := EventComplete
	if res.ExitCode != 0 {
		event = EventFail
	}
	if ferr := j.fire(event); ferr != nil {
		j.mu.Unlock()
		return res, ferr
	}
	final := j.state
	j.mu.Unlock()

	fields := []zap.Field{
		zap.String("state", string(final)),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		j.logger.Error("job finished", append(fields, zap.Error(err))...)
	} else {
		j.logger.Info("job finished", fields...)
	}
	return res, err
}

// run converts a panic in the work into an internal error so the state
// machine still reaches a terminal state.
func (j *Job[T]) run(ctx context.Context) (res Result[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = errors.Wrap(e, errors.ErrorTypeInternal, "job panicked")
			} else {
				err = errors.Newf(errors.ErrorTypeInternal, "job panicked: %v", r)
			}
			res.ExitCode = 1
		}
	}()
	return j.work(ctx)
}

// Stop requests cancellation and waits until the work settles, the stop
// timeout elapses or ctx ends. A job that never started moves directly to
// STOPPED. Stopping a job that is already stopping only waits again.
// Termination is not guaranteed: on timeout Stop returns a timeout error and
// the job stays in STOPPING until its work returns.
func (j *Job[T]) Stop(ctx context.Context) error {
	j.mu.Lock()
	switch j.state {
	case StateStopping:
	case StateInit:
		err := j.fire(EventStop)
		j.mu.Unlock()
		return err
	default:
		if err := j.fire(EventStop); err != nil {
			j.mu.Unlock()
			return err
		}
		j.stopRequested = true
		j.cancel()
	}
	done := j.done
	j.mu.Unlock()

	timer := time.NewTimer(j.opts.stopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		j.logger.Warn("job did not stop in time", zap.Duration("timeout", j.opts.stopTimeout))
		return errors.New(errors.ErrorTypeTimeout, "job did not stop within the stop timeout").
			WithDetail("timeout", j.opts.stopTimeout.String())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopRequested reports whether Stop was called while the job was running.
func (j *Job[T]) StopRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stopRequested
}

// fire applies e. Callers hold j.mu.
func (j *Job[T]) fire(e Event) error {
	from := j.state
	to, err := Next(from, e)
	if err != nil {
		return err
	}
	j.state = to
	j.logger.Debug("job state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	for _, l := range j.opts.listeners {
		l(j.id, from, to)
	}
	return nil
}
