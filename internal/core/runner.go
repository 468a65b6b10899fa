package core

import (
	"context"
	"errors"

	"TroveLedger/internal/event"

	"github.com/rs/zerolog"
)

// ErrRunnerStopped is returned to callers whose work was queued but the
// runner exited before executing it.
var ErrRunnerStopped = errors.New("core: runner stopped")

type task struct {
	fn   func(*DeterministicCore) error
	done chan error
}

// Runner owns the core goroutine. Streamed commands, synchronous submits and
// ad-hoc tasks (checkpoints, views) all execute on it one at a time.
type Runner struct {
	core    *DeterministicCore
	tasks   chan task
	stopped chan struct{}
	logger  zerolog.Logger
}

func NewRunner(core *DeterministicCore, logger zerolog.Logger) *Runner {
	return &Runner{
		core:    core,
		tasks:   make(chan task),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

// Run processes commands from events and queued tasks until ctx is done or
// events is closed. Command errors are logged; the stream keeps going.
func (r *Runner) Run(ctx context.Context, events <-chan event.Event) error {
	defer close(r.stopped)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.core.ProcessEvent(evt); err != nil {
				r.logger.Warn().Err(err).
					Str("event_type", evt.EventType().String()).
					Str("key", evt.IdempotencyKey()).
					Msg("process event")
			}

		case t := <-r.tasks:
			t.done <- t.fn(r.core)
		}
	}
}

// Do runs fn on the core goroutine and waits for its result.
func (r *Runner) Do(ctx context.Context, fn func(*DeterministicCore) error) error {
	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case r.tasks <- t:
	case <-r.stopped:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit processes one command synchronously and returns its outcome,
// including protocol rejections.
func (r *Runner) Submit(ctx context.Context, evt event.Event) error {
	return r.Do(ctx, func(c *DeterministicCore) error {
		return c.ProcessEvent(evt)
	})
}
