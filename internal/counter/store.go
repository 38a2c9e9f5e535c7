package counter

import (
	"errors"
	"fmt"
	"log"
	"time"
)

const DefaultMaxRetries = 5

// ConflictExhaustedError reports that every CAS retry lost to a concurrent
// allocator.
type ConflictExhaustedError struct {
	Retries int
}

func (e *ConflictExhaustedError) Error() string {
	return fmt.Sprintf("counter allocation failed after %d retries", e.Retries)
}

// Store allocates from the two independent sequences. Each allocation is a
// read-increment-swap retried from a fresh read on conflict, bounded by
// maxRetries. The caller blocks until success or exhaustion.
type Store struct {
	ref        RefStore
	maxRetries int
	logger     *log.Logger
}

func NewStore(ref RefStore, maxRetries int, logger *log.Logger) *Store {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Store{ref: ref, maxRetries: maxRetries, logger: logger}
}

// AllocateSpecNumber returns the next spec sequence value (pre-increment, so
// a fresh store yields 0).
func (s *Store) AllocateSpecNumber() (int, error) {
	return s.allocate("spec")
}

// AllocateStandaloneNumber returns the next standalone-task sequence value.
func (s *Store) AllocateStandaloneNumber() (int, error) {
	return s.allocate("standalone")
}

func (s *Store) allocate(kind string) (int, error) {
	for i := 0; i < s.maxRetries; i++ {
		state, token, err := s.ref.Read()
		if err != nil {
			return 0, fmt.Errorf("read counter state: %w", err)
		}

		var n int
		switch kind {
		case "spec":
			n = state.SpecSeq
			state.SpecSeq = n + 1
		case "standalone":
			n = state.TaskSeq
			state.TaskSeq = n + 1
		}
		state.UpdatedAt = time.Now().UTC()

		err = s.ref.CompareAndSwap(token, state)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, ErrConflict) {
			return 0, fmt.Errorf("swap counter state: %w", err)
		}
		s.logger.Printf("counter allocate kind=%s conflict attempt=%d", kind, i+1)
	}
	return 0, &ConflictExhaustedError{Retries: s.maxRetries}
}
