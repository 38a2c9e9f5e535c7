package model

import "time"

// CounterState holds the two independent monotonic allocation sequences.
// Allocation returns the pre-increment value; a fresh store yields 0 first.
type CounterState struct {
	SpecSeq   int       `json:"spec_seq"`
	TaskSeq   int       `json:"task_seq"`
	UpdatedAt time.Time `json:"updated_at"`
}
