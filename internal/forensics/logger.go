package forensics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskledger/taskledger/internal/ledger"
)

// Logger appends events to one session's forensics log. Each event is synced
// to disk before Append returns, so a killed hook process loses at most the
// event it was writing.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	sessionID string
}

// OpenLogger opens (or creates) the log for sessionID under the ledger root,
// minting a session id when none is given.
func OpenLogger(root, sessionID string) (*Logger, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	path := ledger.SessionPath(root, sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open forensics log: %w", err)
	}
	return &Logger{file: f, path: path, sessionID: sessionID}, nil
}

func (l *Logger) SessionID() string { return l.sessionID }
func (l *Logger) Path() string      { return l.path }

// Append writes one event line, stamping the timestamp and session id when
// unset.
func (l *Logger) Append(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.SessionID == "" {
		ev.SessionID = l.sessionID
	}

	data, err := marshalEvent(ev)
	if err != nil {
		return err
	}
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync forensics log: %w", err)
	}
	return nil
}

func (l *Logger) SessionStart() error {
	return l.Append(Event{Type: EventSessionStart})
}

func (l *Logger) TaskClaim(taskID string) error {
	return l.Append(Event{Type: EventTaskClaim, TaskID: taskID})
}

func (l *Logger) FileWrite(path, category string) error {
	return l.Append(Event{Type: EventFileWrite, Path: path, Category: category})
}

func (l *Logger) GitCommit(message string) error {
	return l.Append(Event{Type: EventGitCommit, Message: message})
}

func (l *Logger) TaskClose(reason string) error {
	return l.Append(Event{Type: EventTaskClose, Reason: reason})
}

func (l *Logger) SessionEnd() error {
	return l.Append(Event{Type: EventSessionEnd})
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
