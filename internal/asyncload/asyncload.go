// Package asyncload implements the worker-thread pool spec.md §5
// describes for asynchronous sound-bank loading: "Additional worker
// threads load sound files asynchronously and are joined via a polling
// try_finalize_* API; they do not touch live layers." Decoding the
// sound-bank asset itself (the flatbuffer-generated schema) is out of
// scope (spec.md §1 Non-goals); this package only supplies the
// concurrency-bounded execution and polling-completion mechanism around
// a caller-supplied load function.
package asyncload

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// LoadFunc performs one asynchronous load and returns its decoded
// result (an opaque value the caller type-asserts back) or an error.
type LoadFunc func() (any, error)

type result struct {
	value any
	err   error
}

// Loader bounds the number of concurrently running load tasks and lets
// the caller poll for completion instead of blocking, so the game
// thread's per-frame update never waits on I/O.
type Loader struct {
	sem *semaphore.Weighted

	mu      sync.Mutex
	pending map[uint32]struct{}
	done    map[uint32]result

	group errgroup.Group
}

// New creates a Loader that runs at most maxConcurrent tasks at once.
func New(maxConcurrent int64) *Loader {
	return &Loader{
		sem:     semaphore.NewWeighted(maxConcurrent),
		pending: make(map[uint32]struct{}),
		done:    make(map[uint32]result),
	}
}

// Submit schedules fn on a worker goroutine, keyed by id (a caller-chosen
// handle, typically the sound bank id being loaded). It does not block:
// the worker goroutine waits for a slot from the concurrency semaphore
// and then runs the load in the background. If ctx ends before a slot is
// free, fn never runs and TryFinalize reports ctx's error. Submitting a
// second task under an id still pending from a prior Submit is rejected.
func (l *Loader) Submit(ctx context.Context, id uint32, fn LoadFunc) error {
	l.mu.Lock()
	if _, busy := l.pending[id]; busy {
		l.mu.Unlock()
		return ErrAlreadyPending
	}
	l.pending[id] = struct{}{}
	l.mu.Unlock()

	l.group.Go(func() error {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			l.mu.Lock()
			delete(l.pending, id)
			l.done[id] = result{err: err}
			l.mu.Unlock()
			return nil
		}
		defer l.sem.Release(1)
		value, err := fn()
		l.mu.Lock()
		delete(l.pending, id)
		l.done[id] = result{value: value, err: err}
		l.mu.Unlock()
		return nil
	})
	return nil
}

// TryFinalize polls whether id's load has completed, the
// try_finalize_* pattern spec.md §5 calls for. ok is false while the
// task is still pending or unknown; once true, the result is consumed
// and a second TryFinalize for the same id returns ok=false.
func (l *Loader) TryFinalize(id uint32) (value any, err error, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, found := l.done[id]
	if !found {
		return nil, nil, false
	}
	delete(l.done, id)
	return r.value, r.err, true
}

// Pending reports whether id has a submitted task that has not finished
// running; a finished task is no longer pending even before TryFinalize
// consumes its result.
func (l *Loader) Pending(id uint32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pending[id]
	return ok
}

// Wait blocks until every submitted task has returned. Only used at
// engine deinitialize, never from the audio thread or a per-frame poll.
func (l *Loader) Wait() error {
	return l.group.Wait()
}
