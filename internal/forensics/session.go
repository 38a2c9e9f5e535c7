package forensics

import (
	"fmt"
	"log"
	"time"

	"github.com/taskledger/taskledger/internal/ledger"
	"github.com/taskledger/taskledger/internal/model"
)

// Recorder turns a finished session's forensics log into a ledger entry. It
// holds no in-memory task state; everything it needs comes from the log and
// the ledger on disk, so replaying the same session twice converges on the
// same persisted entry.
type Recorder struct {
	writer *ledger.Writer
	reader *ledger.Reader
	logger *log.Logger
}

func NewRecorder(writer *ledger.Writer, reader *ledger.Reader, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.Default()
	}
	return &Recorder{writer: writer, reader: reader, logger: logger}
}

// OnSessionEnd replays the forensics log at path and synthesizes (or
// completes) the ledger entry for the claimed task. Sessions that never
// claimed a task leave no entry and return (nil, nil). When task is non-nil
// it supplies the snapshot for a newly created entry; a nil task falls back
// to an ID-only snapshot.
func (r *Recorder) OnSessionEnd(sessionID, path string, task *model.Task) (*model.LedgerEntry, error) {
	state, err := ReadForensics(path)
	if err != nil {
		return nil, err
	}
	if state.MalformedLines > 0 {
		r.logger.Printf("forensics session=%s malformed_lines=%d", sessionID, state.MalformedLines)
	}
	if state.TaskID == "" {
		r.logger.Printf("forensics session=%s no task claim, skipping", sessionID)
		return nil, nil
	}

	entry, err := r.reader.GetTask(state.TaskID)
	if err != nil {
		return nil, err
	}
	if entry != nil && entry.Finalized() {
		// An earlier replay (or the stateful integration) already closed
		// this task; a repeated session end must not change it.
		return entry, nil
	}

	now := time.Now().UTC()
	created := entry == nil
	if created {
		// Without a live task the ID is all we know; it doubles as the title
		// so the entry still passes validation.
		snapshot := model.Task{ID: state.TaskID, Title: state.TaskID}
		if task != nil {
			snapshot = *task
		}
		entry = model.NewEntry(snapshot, model.Lineage{}, now)
		entry.AppendTransition(model.StageInDevelopment, "session",
			"replayed from session "+sessionID, now)
	}

	attempt := synthesizeAttempt(entry, sessionID, state)
	if err := entry.AppendAttempt(attempt); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	outcome := model.Outcome{
		Success:      state.Closed,
		FilesChanged: state.ChangedPaths(),
		Commits:      state.Commits,
	}
	if err := entry.Finalize(outcome, now); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	stage := model.StageDone
	reason := "session ended, task closed"
	if !state.Closed {
		stage = model.StageReview
		reason = "session ended without task close"
	}
	entry.AppendTransition(stage, "session", reason, now)

	if created {
		err = r.writer.CreateEntry(entry)
	} else {
		err = r.writer.UpdateEntry(entry)
	}
	if err != nil {
		return nil, err
	}

	if entry.Lineage.EpicID != "" {
		if _, err := r.writer.RollupEpic(entry.Lineage.EpicID); err != nil {
			r.logger.Printf("forensics epic_rollup session=%s epic=%s error=%v",
				sessionID, entry.Lineage.EpicID, err)
		}
	}

	r.logger.Printf("forensics session_end session=%s task=%s closed=%v files=%d",
		sessionID, state.TaskID, state.Closed, len(outcome.FilesChanged))
	return entry, nil
}

// synthesizeAttempt reconstructs the single attempt a session represents.
// The span runs claim to close; a session that started before claiming or
// ended without closing falls back to the session boundaries.
func synthesizeAttempt(entry *model.LedgerEntry, sessionID string, state *SessionState) model.Attempt {
	started := state.ClaimedAt
	if started.IsZero() {
		started = state.StartedAt
	}
	ended := state.ClosedAt
	if ended.IsZero() {
		ended = state.EndedAt
	}

	attempt := model.Attempt{
		Number:    entry.NextAttemptNumber(),
		RunID:     sessionID,
		StartedAt: started,
		EndedAt:   ended,
		Success:   state.Closed,
	}
	if !started.IsZero() && !ended.IsZero() && ended.After(started) {
		attempt.DurationSec = ended.Sub(started).Seconds()
	}
	if !state.Closed {
		attempt.ErrorCategory = "session_abandoned"
		attempt.ErrorSummary = "session ended without task close"
	}
	return attempt
}
