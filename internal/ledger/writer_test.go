package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskledger/taskledger/internal/model"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	root := t.TempDir()
	for _, d := range Dirs() {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0755))
	}
	return NewWriter(root, nil), root
}

func testEntry(id string) *model.LedgerEntry {
	return model.NewEntry(model.Task{ID: id, Title: "Task " + id}, model.Lineage{}, time.Now().UTC())
}

func TestCreateEntry_WritesFileAndIndexLine(t *testing.T) {
	w, root := newTestWriter(t)

	require.NoError(t, w.CreateEntry(testEntry("T001")))

	_, err := os.Stat(EntryPath(root, "T001"))
	require.NoError(t, err)

	data, err := os.ReadFile(IndexPath(root))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":"T001"`)
}

func TestCreateEntry_AlreadyExists(t *testing.T) {
	w, _ := newTestWriter(t)

	require.NoError(t, w.CreateEntry(testEntry("T001")))
	err := w.CreateEntry(testEntry("T001"))
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestUpdateEntry_PreservesIndexOrder(t *testing.T) {
	w, root := newTestWriter(t)

	for _, id := range []string{"T001", "T002", "T003"} {
		require.NoError(t, w.CreateEntry(testEntry(id)))
	}

	e := testEntry("T002")
	e.Attempts = []model.Attempt{{Number: 1, CostUSD: 3.5, StartedAt: time.Now()}}
	e.Recompute()
	require.NoError(t, w.UpdateEntry(e))

	data, err := os.ReadFile(IndexPath(root))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "T001")
	assert.Contains(t, lines[1], "T002")
	assert.Contains(t, lines[1], "3.5")
	assert.Contains(t, lines[2], "T003")
}

func TestWriter_ConcurrentCreateAndUpdateKeepIndexComplete(t *testing.T) {
	w, root := newTestWriter(t)

	require.NoError(t, w.CreateEntry(testEntry("T500")))

	// Creates for distinct IDs race updates of another ID: the per-task lock
	// admits both at once, so the index file itself must stay consistent.
	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("T%03d", i+1)
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- w.CreateEntry(testEntry(id))
		}()
		go func() {
			defer wg.Done()
			errs <- w.UpdateEntry(testEntry("T500"))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	ids, malformed, err := readIndexIDs(IndexPath(root))
	require.NoError(t, err)
	assert.Zero(t, malformed)
	require.Len(t, ids, n+1)
	for id, count := range ids {
		assert.Equalf(t, 1, count, "index lines for %s", id)
	}
}

func TestWriteAttemptArtifact_Idempotent(t *testing.T) {
	w, root := newTestWriter(t)

	p1, err := w.WriteAttemptArtifact("T001", 1, ArtifactPrompt, "first prompt")
	require.NoError(t, err)
	p2, err := w.WriteAttemptArtifact("T001", 1, ArtifactPrompt, "rewritten prompt")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, ArtifactPath(root, "T001", 1, ArtifactPrompt), p1)

	content, err := os.ReadFile(p1)
	require.NoError(t, err)
	assert.Equal(t, "rewritten prompt", string(content))

	_, err = w.WriteAttemptArtifact("T001", 1, ArtifactKind("trace"), "x")
	assert.Error(t, err)
}

func TestWriteEpic(t *testing.T) {
	w, root := newTestWriter(t)

	agg := &model.EpicAggregate{ID: "S001", Title: "Auth epic", TaskIDs: []string{"S001-T01"}, TotalTasks: 1}
	require.NoError(t, w.WriteEpic(agg))

	_, err := os.Stat(EpicPath(root, "S001"))
	require.NoError(t, err)
}

func TestRollupEpic_DerivesFromIndex(t *testing.T) {
	w, root := newTestWriter(t)

	require.NoError(t, w.WriteEpic(&model.EpicAggregate{ID: "S001", Title: "Auth epic"}))

	for i, id := range []string{"S001-T02", "S001-T01", "T003"} {
		e := model.NewEntry(model.Task{ID: id, Title: "Task " + id}, model.Lineage{}, time.Now().UTC())
		if strings.HasPrefix(id, "S001-") {
			e.Lineage.EpicID = "S001"
		}
		e.Attempts = []model.Attempt{{Number: 1, CostUSD: float64(i+1) * 0.1}}
		e.Recompute()
		require.NoError(t, w.CreateEntry(e))
	}

	agg, err := w.RollupEpic("S001")
	require.NoError(t, err)

	assert.Equal(t, "Auth epic", agg.Title)
	assert.Equal(t, []string{"S001-T01", "S001-T02"}, agg.TaskIDs)
	assert.Equal(t, 2, agg.TotalTasks)
	assert.InDelta(t, 0.3, agg.TotalCostUSD, 1e-9)
	assert.False(t, agg.UpdatedAt.IsZero())

	var persisted model.EpicAggregate
	data, err := os.ReadFile(EpicPath(root, "S001"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Equal(t, agg.TaskIDs, persisted.TaskIDs)

	_, err = w.RollupEpic("")
	assert.Error(t, err)
}

func TestSetWorkflowStage_AppendsTransition(t *testing.T) {
	w, _ := newTestWriter(t)
	r := NewReader(w.Root(), nil)

	e := testEntry("T001")
	e.AppendTransition(model.StageInDevelopment, "runloop", "started", time.Now().UTC())
	require.NoError(t, w.CreateEntry(e))

	require.NoError(t, w.SetWorkflowStage("T001", model.StageReview, "dashboard", "moved on board"))

	got, err := r.GetTask("T001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.StageReview, got.Workflow.Stage)
	require.Len(t, got.StateHistory, 2)
	assert.Equal(t, "dashboard", got.StateHistory[1].Actor)

	err = w.SetWorkflowStage("T999", model.StageDone, "dashboard", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRebuildIndex_Fidelity(t *testing.T) {
	w, root := newTestWriter(t)

	for _, id := range []string{"T001", "T002", "T003"} {
		require.NoError(t, w.CreateEntry(testEntry(id)))
	}

	before, _, err := readIndexIDs(IndexPath(root))
	require.NoError(t, err)

	require.NoError(t, os.Remove(IndexPath(root)))
	require.NoError(t, w.RebuildIndex())

	after, _, err := readIndexIDs(IndexPath(root))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRebuildIndex_DuplicateEmbeddedIDYieldsOneLine(t *testing.T) {
	w, root := newTestWriter(t)

	require.NoError(t, w.CreateEntry(testEntry("T001")))
	// A misnamed copy embedding the same ID.
	data, err := os.ReadFile(EntryPath(root, "T001"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(EntryPath(root, "T009"), data, 0644))

	require.NoError(t, w.RebuildIndex())

	ids, malformed, err := readIndexIDs(IndexPath(root))
	require.NoError(t, err)
	assert.Zero(t, malformed)
	assert.Equal(t, map[string]int{"T001": 1}, ids)
}

func TestRebuildIndex_CorruptEntryIsFatal(t *testing.T) {
	w, root := newTestWriter(t)

	require.NoError(t, w.CreateEntry(testEntry("T001")))
	require.NoError(t, os.WriteFile(EntryPath(root, "T002"), []byte("{broken"), 0644))

	err := w.RebuildIndex()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rebuild index")
}
