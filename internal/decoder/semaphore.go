package decoder

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Semaphore serializes exclusive runtime access to a single permit,
// matching the source's runtime_semaphore: one decode holds the LM at a
// time, others queue FIFO.
type Semaphore struct {
	weighted *semaphore.Weighted
}

// NewSemaphore builds a single-permit runtime semaphore.
func NewSemaphore() *Semaphore {
	return &Semaphore{weighted: semaphore.NewWeighted(1)}
}

// Acquire blocks until the permit is available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	return s.weighted.Acquire(ctx, 1)
}

// Release returns the permit.
func (s *Semaphore) Release() {
	s.weighted.Release(1)
}
