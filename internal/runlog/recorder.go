// Package runlog is the stateful ledger integration: a supervising run loop
// that owns a task from start to close in one process drives the five
// lifecycle hooks here.
package runlog

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskledger/taskledger/internal/ledger"
	"github.com/taskledger/taskledger/internal/model"
)

// ErrTaskActive guards against double-starting the same task ID in one
// process. This is a programming-error-class fault, surfaced to the caller.
var ErrTaskActive = errors.New("task already active")

// ErrTaskFinalized rejects attempts arriving after the task closed. The
// outcome is set exactly once; a late attempt would desync it from the
// attempt list.
var ErrTaskFinalized = errors.New("task already finalized")

type Recorder struct {
	writer *ledger.Writer
	reader *ledger.Reader
	logger *log.Logger

	mu     sync.Mutex
	active map[string]*model.LedgerEntry
}

func NewRecorder(writer *ledger.Writer, reader *ledger.Reader, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.Default()
	}
	return &Recorder{
		writer: writer,
		reader: reader,
		logger: logger,
		active: make(map[string]*model.LedgerEntry),
	}
}

// StartOptions carries the lineage captured at task start.
type StartOptions struct {
	EpicID   string
	SpecFile string
	PlanFile string
}

// AttemptInfo describes one finished execution try.
type AttemptInfo struct {
	RunID         string
	Harness       string
	Model         string
	StartedAt     time.Time
	EndedAt       time.Time
	Success       bool
	ErrorCategory string
	ErrorSummary  string
	Tokens        model.TokenUsage
	CostUSD       float64
	Log           string
}

// CloseInfo carries the close-time details that only the supervisor knows.
type CloseInfo struct {
	FilesChanged []string
	Commits      []string
	Approach     string
	Decisions    string
	Lessons      string
	Actor        string
}

// OnTaskStart snapshots the task, opens lineage, seeds the workflow stage,
// and persists the new entry. Fails with ErrTaskActive when the task is
// already tracked in memory.
func (r *Recorder) OnTaskStart(task model.Task, runID string, opts StartOptions) (*model.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[task.ID]; ok {
		return nil, fmt.Errorf("task %s: %w", task.ID, ErrTaskActive)
	}

	now := time.Now().UTC()
	entry := model.NewEntry(task, model.Lineage{
		SpecFile: opts.SpecFile,
		PlanFile: opts.PlanFile,
		EpicID:   opts.EpicID,
	}, now)
	entry.AppendTransition(model.StageInDevelopment, "runloop", "task started run="+runID, now)

	if err := r.writer.CreateEntry(entry); err != nil {
		return nil, err
	}

	r.active[task.ID] = entry
	r.logger.Printf("runlog task_start id=%s run=%s", task.ID, runID)
	return entry, nil
}

// OnAttemptStart persists the prompt artifact for an upcoming attempt. It
// does not require an active entry, so attempts can attach to tasks this
// process did not start.
func (r *Recorder) OnAttemptStart(taskID string, attemptNumber int, prompt string) error {
	_, err := r.writer.WriteAttemptArtifact(taskID, attemptNumber, ledger.ArtifactPrompt, prompt)
	return err
}

// OnAttemptEnd records one finished attempt: writes the log artifact, appends
// the attempt to the tracked entry (loading from disk when untracked), and
// recomputes the aggregates from the full attempt list before persisting.
func (r *Recorder) OnAttemptEnd(taskID string, info AttemptInfo) (*model.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.lookupLocked(taskID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("attempt end for task %s: %w", taskID, ledger.ErrNotFound)
	}
	if entry.Finalized() {
		return nil, fmt.Errorf("attempt end for task %s: %w", taskID, ErrTaskFinalized)
	}

	if info.RunID == "" {
		info.RunID = uuid.NewString()
	}

	attempt := model.Attempt{
		Number:        entry.NextAttemptNumber(),
		RunID:         info.RunID,
		StartedAt:     info.StartedAt,
		EndedAt:       info.EndedAt,
		Harness:       info.Harness,
		Model:         info.Model,
		Success:       info.Success,
		ErrorCategory: info.ErrorCategory,
		ErrorSummary:  info.ErrorSummary,
		Tokens:        info.Tokens,
		CostUSD:       info.CostUSD,
		DurationSec:   info.EndedAt.Sub(info.StartedAt).Seconds(),
	}
	if attempt.DurationSec < 0 {
		attempt.DurationSec = 0
	}

	if _, err := r.writer.WriteAttemptArtifact(taskID, attempt.Number, ledger.ArtifactLog, info.Log); err != nil {
		return nil, err
	}
	if err := entry.AppendAttempt(attempt); err != nil {
		return nil, err
	}
	if err := r.writer.UpdateEntry(entry); err != nil {
		return nil, err
	}

	r.logger.Printf("runlog attempt_end id=%s attempt=%d success=%v cost=%.4f",
		taskID, attempt.Number, attempt.Success, attempt.CostUSD)
	return &entry.Attempts[len(entry.Attempts)-1], nil
}

// OnTaskClose finalizes the entry: outcome aggregates, escalation detection,
// drift comparison against the start-time snapshot, a final state-history
// transition. The task is evicted from the in-memory cache. Returns nil when
// no entry exists in memory or on disk.
func (r *Recorder) OnTaskClose(taskID string, success, partial bool, currentTask *model.Task, info CloseInfo) (*model.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.lookupLocked(taskID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	delete(r.active, taskID)

	if entry.Finalized() {
		return entry, nil
	}

	now := time.Now().UTC()
	outcome := model.Outcome{
		Success:      success,
		Partial:      partial,
		FilesChanged: info.FilesChanged,
		Commits:      info.Commits,
		Approach:     info.Approach,
		Decisions:    info.Decisions,
		Lessons:      info.Lessons,
	}
	if err := entry.Finalize(outcome, now); err != nil {
		return nil, err
	}

	if currentTask != nil {
		entry.TaskChanged = model.DiffTask(entry.TaskSnapshot, *currentTask)
	}

	actor := info.Actor
	if actor == "" {
		actor = "runloop"
	}
	stage := model.StageDone
	reason := "task closed"
	if !success {
		stage = model.StageReview
		reason = "task closed without success"
	}
	entry.AppendTransition(stage, actor, reason, now)

	if err := r.writer.UpdateEntry(entry); err != nil {
		return nil, err
	}

	if entry.Lineage.EpicID != "" {
		// The epic file is derived state; a failed rollup must not undo a
		// committed close.
		if _, err := r.writer.RollupEpic(entry.Lineage.EpicID); err != nil {
			r.logger.Printf("runlog epic_rollup id=%s epic=%s error=%v",
				taskID, entry.Lineage.EpicID, err)
		}
	}

	r.logger.Printf("runlog task_close id=%s success=%v attempts=%d escalated=%v",
		taskID, success, entry.Outcome.TotalAttempts, entry.Outcome.Escalated)
	return entry, nil
}

// lookupLocked returns the tracked entry or falls back to canonical storage.
func (r *Recorder) lookupLocked(taskID string) (*model.LedgerEntry, error) {
	if entry, ok := r.active[taskID]; ok {
		return entry, nil
	}
	return r.reader.GetTask(taskID)
}
