package transport

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Slots is the session cap shared by every transport.  A nil *Slots is
// unlimited.
type Slots struct {
	size int
	sem  *semaphore.Weighted
}

// NewSlots returns a cap of n concurrent sessions, or nil when n <= 0.
func NewSlots(n int) *Slots {
	if n <= 0 {
		return nil
	}
	return &Slots{size: n, sem: semaphore.NewWeighted(int64(n))}
}

// Size is the cap, 0 for unlimited.
func (s *Slots) Size() int {
	if s == nil {
		return 0
	}
	return s.size
}

// Acquire blocks until a slot frees or ctx is done.
func (s *Slots) Acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.sem.Acquire(ctx, 1)
}

// TryAcquire takes a slot without waiting.
func (s *Slots) TryAcquire() bool {
	if s == nil {
		return true
	}
	return s.sem.TryAcquire(1)
}

func (s *Slots) Release() {
	if s == nil {
		return
	}
	s.sem.Release(1)
}
