// Package model defines the data structures for the ledger's entries, index,
// counters, and configuration.
package model

import (
	"fmt"
	"time"
)

// Lineage references the planning artifacts a task originated from.
// Set once at entry creation, never mutated.
type Lineage struct {
	SpecFile string `json:"spec_file,omitempty"`
	PlanFile string `json:"plan_file,omitempty"`
	EpicID   string `json:"epic_id,omitempty"`
}

// TaskSnapshot is a frozen copy of the task definition as it existed when work
// began. Used only for drift comparison at close.
type TaskSnapshot struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

type TokenUsage struct {
	Input         int `json:"input"`
	Output        int `json:"output"`
	CacheRead     int `json:"cache_read"`
	CacheCreation int `json:"cache_creation"`
}

func (u TokenUsage) Total() int {
	return u.Input + u.Output + u.CacheRead + u.CacheCreation
}

func (u *TokenUsage) Add(v TokenUsage) {
	u.Input += v.Input
	u.Output += v.Output
	u.CacheRead += v.CacheRead
	u.CacheCreation += v.CacheCreation
}

// Attempt is one bounded execution try within a task.
type Attempt struct {
	Number        int        `json:"number"`
	RunID         string     `json:"run_id,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       time.Time  `json:"ended_at,omitzero"`
	Harness       string     `json:"harness,omitempty"`
	Model         string     `json:"model,omitempty"`
	Success       bool       `json:"success"`
	ErrorCategory string     `json:"error_category,omitempty"`
	ErrorSummary  string     `json:"error_summary,omitempty"`
	Tokens        TokenUsage `json:"tokens"`
	CostUSD       float64    `json:"cost_usd"`
	DurationSec   float64    `json:"duration_sec"`
}

// Outcome is set exactly once, when the task closes.
type Outcome struct {
	Success          bool       `json:"success"`
	Partial          bool       `json:"partial,omitempty"`
	TotalCostUSD     float64    `json:"total_cost_usd"`
	TotalDurationSec float64    `json:"total_duration_sec"`
	TotalAttempts    int        `json:"total_attempts"`
	TotalTokens      TokenUsage `json:"total_tokens"`
	FinalModel       string     `json:"final_model,omitempty"`
	Escalated        bool       `json:"escalated"`
	EscalationPath   []string   `json:"escalation_path,omitempty"`
	FilesChanged     []string   `json:"files_changed,omitempty"`
	Commits          []string   `json:"commits,omitempty"`
	Approach         string     `json:"approach,omitempty"`
	Decisions        string     `json:"decisions,omitempty"`
	Lessons          string     `json:"lessons,omitempty"`
}

type VerificationStatus string

const (
	VerificationPass    VerificationStatus = "pass"
	VerificationFail    VerificationStatus = "fail"
	VerificationWarn    VerificationStatus = "warn"
	VerificationSkip    VerificationStatus = "skip"
	VerificationPending VerificationStatus = "pending"
	VerificationError   VerificationStatus = "error"
)

type CheckOutcome struct {
	Name   string             `json:"name"`
	Status VerificationStatus `json:"status"`
	Detail string             `json:"detail,omitempty"`
}

type Verification struct {
	Status    VerificationStatus `json:"status"`
	Timestamp time.Time          `json:"timestamp,omitzero"`
	Checks    []CheckOutcome     `json:"checks,omitempty"`
}

// StateTransition is one append-only workflow stage change.
type StateTransition struct {
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

type Workflow struct {
	Stage string `json:"stage,omitempty"`
}

// TaskChanged records drift between the task snapshot taken at start and the
// live task at close.
type TaskChanged struct {
	FieldsChanged []string `json:"fields_changed"`
	Summary       string   `json:"summary"`
}

// LedgerEntry is the canonical, durable record of one task's execution
// history. Identity is the task ID; the ID is immutable for the entry's
// lifetime.
type LedgerEntry struct {
	ID           string            `json:"id"`
	Lineage      Lineage           `json:"lineage,omitzero"`
	TaskSnapshot TaskSnapshot      `json:"task_snapshot"`
	Attempts     []Attempt         `json:"attempts,omitempty"`
	Outcome      *Outcome          `json:"outcome,omitempty"`
	Verification Verification      `json:"verification"`
	Workflow     Workflow          `json:"workflow"`
	StateHistory []StateTransition `json:"state_history,omitempty"`
	TaskChanged  *TaskChanged      `json:"task_changed,omitempty"`

	// Running aggregates over Attempts, recomputed on every attempt append.
	TotalCostUSD     float64    `json:"total_cost_usd"`
	TotalDurationSec float64    `json:"total_duration_sec"`
	TotalTokens      TokenUsage `json:"total_tokens"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// NewEntry builds an open entry for a task with its snapshot frozen.
func NewEntry(task Task, lineage Lineage, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:           task.ID,
		Lineage:      lineage,
		TaskSnapshot: NewTaskSnapshot(task),
		Verification: Verification{Status: VerificationPending},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (e *LedgerEntry) Finalized() bool {
	return e.Outcome != nil
}

func (e *LedgerEntry) NextAttemptNumber() int {
	return len(e.Attempts) + 1
}

// AppendAttempt appends a and recomputes the running aggregates. Attempt
// numbers must stay contiguous starting at 1. A finalized entry rejects new
// attempts: the frozen Outcome aggregates would no longer match the attempt
// list.
func (e *LedgerEntry) AppendAttempt(a Attempt) error {
	if e.Finalized() {
		return fmt.Errorf("entry %s already finalized", e.ID)
	}
	if a.Number != e.NextAttemptNumber() {
		return fmt.Errorf("attempt number %d not contiguous (expected %d)", a.Number, e.NextAttemptNumber())
	}
	e.Attempts = append(e.Attempts, a)
	e.Recompute()
	return nil
}

// Recompute rederives the entry-level aggregates from the full attempt list.
func (e *LedgerEntry) Recompute() {
	var tokens TokenUsage
	var cost, duration float64
	for _, a := range e.Attempts {
		tokens.Add(a.Tokens)
		cost += a.CostUSD
		duration += a.DurationSec
	}
	e.TotalTokens = tokens
	e.TotalCostUSD = cost
	e.TotalDurationSec = duration
}

// AppendTransition appends one state-history record and moves the current
// workflow stage. History is append-only; it never overwrites prior records.
func (e *LedgerEntry) AppendTransition(stage, actor, reason string, at time.Time) {
	e.StateHistory = append(e.StateHistory, StateTransition{
		Stage:     stage,
		Timestamp: at,
		Actor:     actor,
		Reason:    reason,
	})
	e.Workflow.Stage = stage
}

// Finalize sets the outcome exactly once. Calling it on a finalized entry is
// an error; callers that want idempotence check Finalized first.
func (e *LedgerEntry) Finalize(o Outcome, at time.Time) error {
	if e.Outcome != nil {
		return fmt.Errorf("entry %s already finalized", e.ID)
	}
	e.Recompute()
	o.TotalCostUSD = e.TotalCostUSD
	o.TotalDurationSec = e.TotalDurationSec
	o.TotalTokens = e.TotalTokens
	o.TotalAttempts = len(e.Attempts)
	if n := len(e.Attempts); n > 0 {
		o.FinalModel = e.Attempts[n-1].Model
	}
	o.Escalated, o.EscalationPath = DetectEscalation(e.Attempts)
	e.Outcome = &o
	closed := at
	e.ClosedAt = &closed
	return nil
}

// DetectEscalation reports whether more than one distinct model appears across
// the attempts, and the distinct models in first-seen order.
func DetectEscalation(attempts []Attempt) (bool, []string) {
	var path []string
	seen := make(map[string]bool)
	for _, a := range attempts {
		if a.Model == "" || seen[a.Model] {
			continue
		}
		seen[a.Model] = true
		path = append(path, a.Model)
	}
	if len(path) < 2 {
		return false, path
	}
	return true, path
}

// Validate checks the structural invariants that hold for every persisted
// entry.
func (e *LedgerEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entry missing id")
	}
	if e.TaskSnapshot.Title == "" {
		return fmt.Errorf("entry %s missing title", e.ID)
	}
	for i, a := range e.Attempts {
		if a.Number != i+1 {
			return fmt.Errorf("entry %s: attempt %d has number %d", e.ID, i+1, a.Number)
		}
	}
	for i := 1; i < len(e.StateHistory); i++ {
		if e.StateHistory[i].Timestamp.Before(e.StateHistory[i-1].Timestamp) {
			return fmt.Errorf("entry %s: state history not monotonic at index %d", e.ID, i)
		}
	}
	return nil
}
