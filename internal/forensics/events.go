// Package forensics is the stateless ledger integration: external lifecycle
// hooks append typed events to a per-session log, and session end replays the
// log to synthesize a ledger entry without any shared memory.
package forensics

import "time"

const (
	EventSessionStart = "session_start"
	EventTaskClaim    = "task_claim"
	EventFileWrite    = "file_write"
	EventGitCommit    = "git_commit"
	EventTaskClose    = "task_close"
	EventSessionEnd   = "session_end"
)

// Event is one line of a forensics log.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Path      string    `json:"path,omitempty"`
	Category  string    `json:"category,omitempty"`
	Message   string    `json:"message,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// FileWrite is one accumulated file_write event after replay.
type FileWrite struct {
	Path     string
	Category string
}

// SessionState is the reduced state of one replayed forensics log.
type SessionState struct {
	SessionID string
	StartedAt time.Time
	EndedAt   time.Time

	TaskID      string
	ClaimedAt   time.Time
	ClosedAt    time.Time
	Closed      bool
	CloseReason string

	FileWrites []FileWrite
	Commits    []string

	// MalformedLines counts skipped lines that failed to parse.
	MalformedLines int
}
