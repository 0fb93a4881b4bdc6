package browse

import (
	"context"
	"sync"
)

// Task is a unit of background work started by an orchestrator.
type Task struct {
	done   chan struct{}
	cancel context.CancelFunc
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel stops the task. Unless a newer load has superseded it, the task
// publishes an Error result with MsgCancelled.
func (t *Task) Cancel() { t.cancel() }

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runner owns the background tasks of one orchestrator. Closing it cancels
// every task and waits for them.
type runner struct {
	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newRunner() *runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &runner{base: ctx, cancel: cancel}
}

func (r *runner) spawn(fn func(ctx context.Context)) *Task {
	ctx, cancel := context.WithCancel(r.base)
	t := &Task{done: make(chan struct{}), cancel: cancel}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		close(t.done)
		return t
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer close(t.done)
		defer cancel()
		fn(ctx)
	}()
	return t
}

func (r *runner) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}

// slot serializes loads of one published value: starting a load supersedes
// the previous one, and only the newest load may publish. With keepStale set,
// Loading and Error results carry the data of the last successful load.
type slot[T any] struct {
	Observable[T]
	keepStale bool

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

func (s *slot[T]) withStale(r Result[T]) Result[T] {
	if !s.keepStale {
		return r
	}
	return r.retain(s.Current())
}

// begin cancels the previous load, publishes Loading and returns the context
// and generation of the new load. release must be called when done.
func (s *slot[T]) begin(ctx context.Context, base context.Context) (_ context.Context, gen uint64, release func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(base, cancel)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen = s.gen
	s.cancel = cancel
	s.publish(s.withStale(Loading[T]()))
	s.mu.Unlock()

	return ctx, gen, func() {
		stop()
		cancel()
	}
}

// finish publishes r if the load identified by gen is still current and
// returns the published result. A load that failed after its context was
// cancelled publishes MsgCancelled instead, so that Loading is always
// followed by Success or Error. A completed Success is published as is.
// The boolean reports whether anything was published.
func (s *slot[T]) finish(ctx context.Context, gen uint64, r Result[T]) (Result[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.IsError() && ctx.Err() != nil {
		r = Failure[T](MsgCancelled)
	}
	if gen != s.gen {
		return r, false
	}
	r = s.withStale(r)
	s.publish(r)
	s.cancel = nil
	return r, true
}
