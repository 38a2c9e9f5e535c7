package forensics

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/taskledger/taskledger/internal/storage"
)

func marshalEvent(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return append(data, '\n'), nil
}

// ReadForensics replays one session log into its reduced state. Replay is a
// pure fold over the lines: the first session_start and task_claim win, the
// last session_end wins, and malformed lines are skipped and counted so a
// partially corrupted log still yields a usable state.
func ReadForensics(path string) (*SessionState, error) {
	state := &SessionState{}

	err := storage.ReadLines(path, func(lineno int, line []byte) error {
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil || ev.Type == "" {
			state.MalformedLines++
			return nil
		}
		state.apply(ev)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("forensics log %s: %w", path, err)
		}
		return nil, fmt.Errorf("read forensics log: %w", err)
	}
	return state, nil
}

func (s *SessionState) apply(ev Event) {
	switch ev.Type {
	case EventSessionStart:
		if s.StartedAt.IsZero() {
			s.StartedAt = ev.Timestamp
			s.SessionID = ev.SessionID
		}
	case EventTaskClaim:
		if s.TaskID == "" {
			s.TaskID = ev.TaskID
			s.ClaimedAt = ev.Timestamp
		}
	case EventFileWrite:
		s.FileWrites = append(s.FileWrites, FileWrite{Path: ev.Path, Category: ev.Category})
	case EventGitCommit:
		s.Commits = append(s.Commits, ev.Message)
	case EventTaskClose:
		if !s.Closed {
			s.Closed = true
			s.ClosedAt = ev.Timestamp
			s.CloseReason = ev.Reason
		}
	case EventSessionEnd:
		s.EndedAt = ev.Timestamp
		if s.SessionID == "" {
			s.SessionID = ev.SessionID
		}
	}
}

// ChangedPaths returns the distinct written paths in first-write order.
func (s *SessionState) ChangedPaths() []string {
	seen := make(map[string]bool)
	var paths []string
	for _, w := range s.FileWrites {
		if w.Path == "" || seen[w.Path] {
			continue
		}
		seen[w.Path] = true
		paths = append(paths, w.Path)
	}
	return paths
}
