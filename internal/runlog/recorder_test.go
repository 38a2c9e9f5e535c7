package runlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskledger/taskledger/internal/ledger"
	"github.com/taskledger/taskledger/internal/model"
)

func newTestRecorder(t *testing.T) (*Recorder, string) {
	t.Helper()
	root := t.TempDir()
	for _, d := range ledger.Dirs() {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0755))
	}
	w := ledger.NewWriter(root, nil)
	return NewRecorder(w, ledger.NewReader(root, nil), nil), root
}

func testTask() model.Task {
	return model.Task{
		ID:       "S001-T01",
		Title:    "Implement token refresh",
		Type:     "feature",
		Priority: "high",
		Labels:   []string{"auth"},
	}
}

func attemptInfo(m string, success bool) AttemptInfo {
	start := time.Now().UTC().Add(-time.Minute)
	return AttemptInfo{
		RunID:     "run-1",
		Harness:   "claude-code",
		Model:     m,
		StartedAt: start,
		EndedAt:   start.Add(30 * time.Second),
		Success:   success,
		Tokens:    model.TokenUsage{Input: 1000, Output: 500},
		CostUSD:   0.10,
		Log:       "attempt log",
	}
}

func TestOnTaskStart_DoubleStartGuard(t *testing.T) {
	r, _ := newTestRecorder(t)

	entry, err := r.OnTaskStart(testTask(), "run-1", StartOptions{EpicID: "S001", SpecFile: "specs/auth.md"})
	require.NoError(t, err)
	assert.Equal(t, model.StageInDevelopment, entry.Workflow.Stage)
	assert.Equal(t, "S001", entry.Lineage.EpicID)
	require.Len(t, entry.StateHistory, 1)

	_, err = r.OnTaskStart(testTask(), "run-2", StartOptions{})
	require.ErrorIs(t, err, ErrTaskActive)
}

func TestOnAttemptStart_NoActiveEntryRequired(t *testing.T) {
	r, root := newTestRecorder(t)

	require.NoError(t, r.OnAttemptStart("T999", 1, "the prompt"))

	content, err := os.ReadFile(ledger.ArtifactPath(root, "T999", 1, ledger.ArtifactPrompt))
	require.NoError(t, err)
	assert.Equal(t, "the prompt", string(content))
}

func TestOnAttemptEnd_RecomputesAggregates(t *testing.T) {
	r, root := newTestRecorder(t)

	_, err := r.OnTaskStart(testTask(), "run-1", StartOptions{})
	require.NoError(t, err)

	a1, err := r.OnAttemptEnd("S001-T01", attemptInfo("haiku", false))
	require.NoError(t, err)
	assert.Equal(t, 1, a1.Number)

	a2, err := r.OnAttemptEnd("S001-T01", attemptInfo("haiku", true))
	require.NoError(t, err)
	assert.Equal(t, 2, a2.Number)

	got, err := ledger.NewReader(root, nil).GetTask("S001-T01")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 0.20, got.TotalCostUSD, 1e-9)
	assert.Equal(t, 3000, got.TotalTokens.Total())
	assert.Equal(t, 60.0, got.TotalDurationSec)

	_, err = os.Stat(ledger.ArtifactPath(root, "S001-T01", 2, ledger.ArtifactLog))
	require.NoError(t, err)
}

func TestOnAttemptEnd_LoadsUntrackedEntryFromDisk(t *testing.T) {
	r, root := newTestRecorder(t)

	_, err := r.OnTaskStart(testTask(), "run-1", StartOptions{})
	require.NoError(t, err)

	// A second recorder with no shared memory sees the on-disk entry.
	r2 := NewRecorder(ledger.NewWriter(root, nil), ledger.NewReader(root, nil), nil)
	a, err := r2.OnAttemptEnd("S001-T01", attemptInfo("sonnet", true))
	require.NoError(t, err)
	assert.Equal(t, 1, a.Number)
}

func TestOnAttemptEnd_UnknownTask(t *testing.T) {
	r, _ := newTestRecorder(t)

	_, err := r.OnAttemptEnd("T404", attemptInfo("haiku", true))
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestOnTaskClose_OutcomeAndEscalation(t *testing.T) {
	r, _ := newTestRecorder(t)

	_, err := r.OnTaskStart(testTask(), "run-1", StartOptions{})
	require.NoError(t, err)
	_, err = r.OnAttemptEnd("S001-T01", attemptInfo("haiku", false))
	require.NoError(t, err)
	_, err = r.OnAttemptEnd("S001-T01", attemptInfo("haiku", false))
	require.NoError(t, err)
	_, err = r.OnAttemptEnd("S001-T01", attemptInfo("sonnet", true))
	require.NoError(t, err)

	entry, err := r.OnTaskClose("S001-T01", true, false, nil, CloseInfo{
		FilesChanged: []string{"internal/auth/refresh.go"},
		Commits:      []string{"abc1234"},
	})
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.NotNil(t, entry.Outcome)

	assert.True(t, entry.Outcome.Success)
	assert.Equal(t, 3, entry.Outcome.TotalAttempts)
	assert.InDelta(t, 0.30, entry.Outcome.TotalCostUSD, 1e-9)
	assert.True(t, entry.Outcome.Escalated)
	assert.Equal(t, []string{"haiku", "sonnet"}, entry.Outcome.EscalationPath)
	assert.Equal(t, "sonnet", entry.Outcome.FinalModel)
	assert.Equal(t, model.StageDone, entry.Workflow.Stage)
	assert.NotNil(t, entry.ClosedAt)

	// Closed task can be started again (evicted from memory).
	_, err = r.OnTaskStart(testTask(), "run-2", StartOptions{})
	require.ErrorIs(t, err, ledger.ErrAlreadyExists)
}

func TestOnAttemptEnd_AfterCloseIsRejected(t *testing.T) {
	r, root := newTestRecorder(t)

	_, err := r.OnTaskStart(testTask(), "run-1", StartOptions{})
	require.NoError(t, err)
	_, err = r.OnAttemptEnd("S001-T01", attemptInfo("sonnet", true))
	require.NoError(t, err)
	_, err = r.OnTaskClose("S001-T01", true, false, nil, CloseInfo{})
	require.NoError(t, err)

	// The task is evicted; a straggler attempt loads the closed entry from
	// disk and must not reopen it.
	_, err = r.OnAttemptEnd("S001-T01", attemptInfo("opus", true))
	require.ErrorIs(t, err, ErrTaskFinalized)

	got, err := ledger.NewReader(root, nil).GetTask("S001-T01")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Attempts, 1)
	assert.Equal(t, 1, got.Outcome.TotalAttempts)
	assert.InDelta(t, 0.10, got.Outcome.TotalCostUSD, 1e-9)
}

func TestOnTaskClose_RollsUpEpic(t *testing.T) {
	r, root := newTestRecorder(t)

	_, err := r.OnTaskStart(testTask(), "run-1", StartOptions{EpicID: "S001"})
	require.NoError(t, err)
	_, err = r.OnAttemptEnd("S001-T01", attemptInfo("sonnet", true))
	require.NoError(t, err)

	_, err = r.OnTaskClose("S001-T01", true, false, nil, CloseInfo{})
	require.NoError(t, err)

	data, err := os.ReadFile(ledger.EpicPath(root, "S001"))
	require.NoError(t, err)
	var agg model.EpicAggregate
	require.NoError(t, json.Unmarshal(data, &agg))
	assert.Equal(t, []string{"S001-T01"}, agg.TaskIDs)
	assert.Equal(t, 1, agg.TotalTasks)
	assert.InDelta(t, 0.10, agg.TotalCostUSD, 1e-9)
}

func TestOnTaskClose_NoEscalationSingleModel(t *testing.T) {
	r, _ := newTestRecorder(t)

	_, err := r.OnTaskStart(testTask(), "run-1", StartOptions{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = r.OnAttemptEnd("S001-T01", attemptInfo("sonnet", i == 2))
		require.NoError(t, err)
	}

	entry, err := r.OnTaskClose("S001-T01", true, false, nil, CloseInfo{})
	require.NoError(t, err)
	assert.False(t, entry.Outcome.Escalated)
	assert.Equal(t, []string{"sonnet"}, entry.Outcome.EscalationPath)
}

func TestOnTaskClose_DriftDetection(t *testing.T) {
	r, _ := newTestRecorder(t)

	task := testTask()
	task.Title = "X"
	_, err := r.OnTaskStart(task, "run-1", StartOptions{})
	require.NoError(t, err)
	_, err = r.OnAttemptEnd(task.ID, attemptInfo("sonnet", true))
	require.NoError(t, err)

	live := task
	live.Title = "Y"
	entry, err := r.OnTaskClose(task.ID, true, false, &live, CloseInfo{})
	require.NoError(t, err)

	require.NotNil(t, entry.TaskChanged)
	assert.Equal(t, []string{"title"}, entry.TaskChanged.FieldsChanged)
	assert.Contains(t, entry.TaskChanged.Summary, `"X" → "Y"`)
}

func TestOnTaskClose_NoDriftNoRecord(t *testing.T) {
	r, _ := newTestRecorder(t)

	task := testTask()
	_, err := r.OnTaskStart(task, "run-1", StartOptions{})
	require.NoError(t, err)

	entry, err := r.OnTaskClose(task.ID, false, true, &task, CloseInfo{})
	require.NoError(t, err)
	assert.Nil(t, entry.TaskChanged)
	assert.True(t, entry.Outcome.Partial)
	assert.Equal(t, model.StageReview, entry.Workflow.Stage)
}

func TestOnTaskClose_UnknownTaskReturnsNil(t *testing.T) {
	r, _ := newTestRecorder(t)

	entry, err := r.OnTaskClose("T404", true, false, nil, CloseInfo{})
	require.NoError(t, err)
	assert.Nil(t, entry)
}
