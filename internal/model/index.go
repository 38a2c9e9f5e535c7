package model

import "time"

// IndexRecord is the derived per-task summary held in the index file. The
// index is a cache over the entry files: NewIndexRecord is the only way a
// record is produced, so any record is always rederivable from its entry.
type IndexRecord struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	CostUSD       float64            `json:"cost_usd"`
	FilesChanged  []string           `json:"files_changed,omitempty"`
	Verification  VerificationStatus `json:"verification"`
	TotalTokens   int                `json:"total_tokens"`
	EpicID        string             `json:"epic_id,omitempty"`
	WorkflowStage string             `json:"workflow_stage,omitempty"`
}

func NewIndexRecord(e *LedgerEntry) IndexRecord {
	rec := IndexRecord{
		ID:            e.ID,
		Title:         e.TaskSnapshot.Title,
		CompletedAt:   e.ClosedAt,
		CostUSD:       e.TotalCostUSD,
		Verification:  e.Verification.Status,
		TotalTokens:   e.TotalTokens.Total(),
		EpicID:        e.Lineage.EpicID,
		WorkflowStage: e.Workflow.Stage,
	}
	if rec.Verification == "" {
		rec.Verification = VerificationPending
	}
	if e.Outcome != nil {
		rec.FilesChanged = e.Outcome.FilesChanged
	}
	return rec
}
