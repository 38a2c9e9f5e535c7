package model

import "time"

// EpicAggregate is the per-epic rollup persisted at epics/<ID>/epic.json.
// The embedded ID must equal the directory name; the verifier enforces this.
type EpicAggregate struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	TaskIDs      []string  `json:"task_ids,omitempty"`
	TotalTasks   int       `json:"total_tasks"`
	TotalCostUSD float64   `json:"total_cost_usd"`
	UpdatedAt    time.Time `json:"updated_at"`
}
