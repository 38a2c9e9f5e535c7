package model

// Workflow stages the dashboard pipeline knows about. Stage values are
// free-form strings so externally-driven boards are not rejected; these
// constants cover the standard pipeline.
const (
	StageBacklog       = "backlog"
	StagePlanning      = "planning"
	StageInDevelopment = "in_development"
	StageReview        = "review"
	StageDone          = "done"
)

var knownStages = map[string]bool{
	StageBacklog:       true,
	StagePlanning:      true,
	StageInDevelopment: true,
	StageReview:        true,
	StageDone:          true,
}

func IsKnownStage(stage string) bool {
	return knownStages[stage]
}
