// Package counter implements the monotonic identifier sequences over an
// optimistic-concurrency file ref.
package counter

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/taskledger/taskledger/internal/lock"
	"github.com/taskledger/taskledger/internal/model"
	"github.com/taskledger/taskledger/internal/storage"
)

// ErrConflict reports a token mismatch in CompareAndSwap; the caller retries
// from a fresh Read.
var ErrConflict = errors.New("counter ref conflict")

// RefStore is an optimistic-concurrency ref over the counter state: read the
// current value with a token, attempt a token-guarded write, conflict on
// token mismatch. Any key-value primitive with compare-and-swap semantics can
// implement it.
type RefStore interface {
	// Read returns the current state and its token. A missing ref reads as
	// the zero state with the zero token, so the first swap creates it.
	Read() (model.CounterState, string, error)

	// CompareAndSwap writes state iff the ref still carries token.
	CompareAndSwap(token string, state model.CounterState) error

	// Init creates the ref with the given state when absent. Existing state
	// is left untouched.
	Init(state model.CounterState) error

	// Exists reports whether the ref has been created.
	Exists() (bool, error)
}

// FileRef backs the ref with counters.json. The token is a version integer
// embedded in the file and bumped on every swap; a flock around the swap
// keeps the compare and the rename from interleaving across processes.
type FileRef struct {
	path     string
	lockPath string
}

func NewFileRef(path, lockPath string) *FileRef {
	return &FileRef{path: path, lockPath: lockPath}
}

type counterFile struct {
	Version   int       `json:"version"`
	SpecSeq   int       `json:"spec_seq"`
	TaskSeq   int       `json:"task_seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *FileRef) Read() (model.CounterState, string, error) {
	cf, err := r.load()
	if err != nil {
		return model.CounterState{}, "", err
	}
	return model.CounterState{
		SpecSeq:   cf.SpecSeq,
		TaskSeq:   cf.TaskSeq,
		UpdatedAt: cf.UpdatedAt,
	}, strconv.Itoa(cf.Version), nil
}

func (r *FileRef) CompareAndSwap(token string, state model.CounterState) error {
	fl := lock.NewFileLock(r.lockPath)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("lock counter ref: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	cf, err := r.load()
	if err != nil {
		return err
	}
	if strconv.Itoa(cf.Version) != token {
		return fmt.Errorf("ref at version %d, caller held %s: %w", cf.Version, token, ErrConflict)
	}

	next := counterFile{
		Version:   cf.Version + 1,
		SpecSeq:   state.SpecSeq,
		TaskSeq:   state.TaskSeq,
		UpdatedAt: state.UpdatedAt,
	}
	if err := storage.AtomicWriteJSON(r.path, next); err != nil {
		return fmt.Errorf("swap counter ref: %w", err)
	}
	return nil
}

func (r *FileRef) Init(state model.CounterState) error {
	fl := lock.NewFileLock(r.lockPath)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("lock counter ref: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	if _, err := os.Stat(r.path); err == nil {
		return nil
	}
	cf := counterFile{
		Version:   1,
		SpecSeq:   state.SpecSeq,
		TaskSeq:   state.TaskSeq,
		UpdatedAt: state.UpdatedAt,
	}
	if err := storage.AtomicWriteJSON(r.path, cf); err != nil {
		return fmt.Errorf("init counter ref: %w", err)
	}
	return nil
}

func (r *FileRef) Exists() (bool, error) {
	if _, err := os.Stat(r.path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *FileRef) load() (counterFile, error) {
	var cf counterFile
	if err := storage.ReadJSON(r.path, &cf); err != nil {
		if os.IsNotExist(err) {
			return counterFile{}, nil
		}
		return counterFile{}, fmt.Errorf("read counter ref: %w", err)
	}
	return cf, nil
}
