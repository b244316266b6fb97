package cache

import (
	"context"
	"sync"
	"sync/atomic"
)

// Slot caches one lazily fetched value. The zero value is an empty,
// usable slot.
//
// The first Get runs the fetch; concurrent Gets on an unpopulated slot
// join the in-flight fetch instead of starting their own, so the fetch
// runs at most once per population. A failed fetch leaves the slot
// unpopulated and the error is reported to every caller that joined the
// attempt; the next Get retries. Invalidate discards the value so the
// next Get fetches again.
//
// A fetch that completes after a racing Invalidate still hands its
// result to the callers that joined it, but the result is not stored:
// those callers asked before the invalidation, while the slot must not
// resurrect data fetched from the pre-invalidation world.
type Slot[T any] struct {
	mu      sync.Mutex
	gen     uint64
	val     atomic.Pointer[T]
	pending *inflight[T]
}

type inflight[T any] struct {
	done chan struct{}
	val  *T
	err  error
}

// Get returns the cached value, fetching it on first use. When another
// goroutine is already fetching, Get waits for that fetch; if ctx is
// cancelled while waiting, Get returns ctx.Err() and the in-flight
// fetch continues for the remaining waiters.
func (s *Slot[T]) Get(ctx context.Context, fetch func(context.Context) (T, error)) (T, error) {
	if p := s.val.Load(); p != nil {
		return *p, nil
	}
	var zero T

	s.mu.Lock()
	if p := s.val.Load(); p != nil {
		s.mu.Unlock()
		return *p, nil
	}
	if fl := s.pending; fl != nil {
		s.mu.Unlock()
		select {
		case <-fl.done:
			if fl.err != nil {
				return zero, fl.err
			}
			return *fl.val, nil
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	fl := &inflight[T]{done: make(chan struct{})}
	s.pending = fl
	gen := s.gen
	s.mu.Unlock()

	v, err := fetch(ctx)

	s.mu.Lock()
	if err == nil && s.gen == gen {
		s.val.Store(&v)
	}
	if s.pending == fl {
		s.pending = nil
	}
	s.mu.Unlock()

	if err != nil {
		fl.err = err
	} else {
		fl.val = &v
	}
	close(fl.done)

	if err != nil {
		return zero, err
	}
	return v, nil
}

// Peek returns the cached value without triggering a fetch.
func (s *Slot[T]) Peek() (T, bool) {
	if p := s.val.Load(); p != nil {
		return *p, true
	}
	var zero T
	return zero, false
}

// Populated reports whether the slot currently holds a value.
func (s *Slot[T]) Populated() bool {
	return s.val.Load() != nil
}

// Set stores a value directly, superseding any fetch in flight. Used to
// seed a slot whose value arrived embedded in a parent fetch.
func (s *Slot[T]) Set(v T) {
	s.mu.Lock()
	s.gen++
	s.val.Store(&v)
	s.mu.Unlock()
}

// Invalidate discards the cached value. The next Get fetches again; a
// fetch already in flight completes for its waiters but its result is
// not stored.
func (s *Slot[T]) Invalidate() {
	s.mu.Lock()
	s.gen++
	s.val.Store(nil)
	s.mu.Unlock()
}
