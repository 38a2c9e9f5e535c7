package ledger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taskledger/taskledger/internal/lock"
	"github.com/taskledger/taskledger/internal/model"
	"github.com/taskledger/taskledger/internal/storage"
)

// Writer is the only component permitted to mutate persisted ledger state.
// Every canonical write is atomic at single-file granularity; there is no
// cross-file transaction, so an observer may see an entry file update slightly
// before its index line, but never a partially written file.
type Writer struct {
	root    string
	lockMap *lock.MutexMap
	logger  *log.Logger

	// indexMu serializes every index.jsonl mutation. The per-task lockMap
	// allows concurrent writers for different task IDs, and the index is one
	// shared file: an unguarded read-modify-replace racing an append drops
	// lines. Always acquired after the per-task lock.
	indexMu sync.Mutex
}

func NewWriter(root string, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.Default()
	}
	return &Writer{
		root:    root,
		lockMap: lock.NewMutexMap(),
		logger:  logger,
	}
}

func (w *Writer) Root() string { return w.root }

// CreateEntry writes a new entry file and appends its index line. Fails with
// ErrAlreadyExists when a file for the ID is already present.
func (w *Writer) CreateEntry(e *model.LedgerEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	w.lockMap.Lock(e.ID)
	defer w.lockMap.Unlock(e.ID)

	path := EntryPath(w.root, e.ID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("entry %s: %w", e.ID, ErrAlreadyExists)
	}

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	if err := os.MkdirAll(EntriesDir(w.root), 0755); err != nil {
		return fmt.Errorf("create entries dir: %w", err)
	}
	if err := storage.AtomicWriteJSON(path, e); err != nil {
		return fmt.Errorf("write entry %s: %w", e.ID, err)
	}
	w.indexMu.Lock()
	err := appendIndexRecord(IndexPath(w.root), model.NewIndexRecord(e))
	w.indexMu.Unlock()
	if err != nil {
		return fmt.Errorf("append index record %s: %w", e.ID, err)
	}

	w.logger.Printf("ledger create_entry id=%s", e.ID)
	return nil
}

// UpdateEntry fully replaces the entry file and rewrites only the matching
// index line; index order and all other lines are preserved.
func (w *Writer) UpdateEntry(e *model.LedgerEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	w.lockMap.Lock(e.ID)
	defer w.lockMap.Unlock(e.ID)

	e.UpdatedAt = time.Now().UTC()

	if err := storage.AtomicWriteJSON(EntryPath(w.root, e.ID), e); err != nil {
		return fmt.Errorf("write entry %s: %w", e.ID, err)
	}
	w.indexMu.Lock()
	err := replaceIndexRecord(IndexPath(w.root), model.NewIndexRecord(e))
	w.indexMu.Unlock()
	if err != nil {
		return fmt.Errorf("update index record %s: %w", e.ID, err)
	}
	return nil
}

// WriteAttemptArtifact persists a prompt or raw log for one attempt. The path
// is deterministic in (task, attempt, kind), so re-writes are idempotent.
func (w *Writer) WriteAttemptArtifact(taskID string, attemptNumber int, kind ArtifactKind, content string) (string, error) {
	if kind != ArtifactPrompt && kind != ArtifactLog {
		return "", fmt.Errorf("unknown artifact kind %q", kind)
	}
	path := ArtifactPath(w.root, taskID, attemptNumber, kind)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	if err := storage.AtomicWriteRaw(path, []byte(content), nil); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", path, err)
	}
	return path, nil
}

// WriteEpic persists an epic aggregation file under epics/<ID>/.
func (w *Writer) WriteEpic(agg *model.EpicAggregate) error {
	if agg.ID == "" {
		return fmt.Errorf("epic aggregate missing id")
	}
	path := EpicPath(w.root, agg.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create epic dir: %w", err)
	}
	if err := storage.AtomicWriteJSON(path, agg); err != nil {
		return fmt.Errorf("write epic %s: %w", agg.ID, err)
	}
	return nil
}

// RollupEpic recomputes the epic aggregation file from the index records that
// carry the epic ID. The title of an existing epic.json is preserved; every
// other field is derived. Returns the written aggregate.
func (w *Writer) RollupEpic(epicID string) (*model.EpicAggregate, error) {
	if epicID == "" {
		return nil, fmt.Errorf("epic id must not be empty")
	}

	agg := &model.EpicAggregate{ID: epicID, UpdatedAt: time.Now().UTC()}

	var existing model.EpicAggregate
	if err := storage.ReadJSON(EpicPath(w.root, epicID), &existing); err == nil {
		agg.Title = existing.Title
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("load epic %s: %w", epicID, err)
	}

	err := storage.ReadLines(IndexPath(w.root), func(_ int, line []byte) error {
		var rec model.IndexRecord
		if json.Unmarshal(line, &rec) != nil || rec.ID == "" {
			return nil
		}
		if rec.EpicID != epicID {
			return nil
		}
		agg.TaskIDs = append(agg.TaskIDs, rec.ID)
		agg.TotalCostUSD += rec.CostUSD
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read index: %w", err)
	}

	sort.Strings(agg.TaskIDs)
	agg.TotalTasks = len(agg.TaskIDs)

	if err := w.WriteEpic(agg); err != nil {
		return nil, err
	}
	w.logger.Printf("ledger rollup_epic id=%s tasks=%d cost=%.4f",
		epicID, agg.TotalTasks, agg.TotalCostUSD)
	return agg, nil
}

// SetWorkflowStage appends one state-history transition and moves the current
// stage. This is the single mutation the dashboard sync layer is allowed.
func (w *Writer) SetWorkflowStage(taskID, stage, actor, reason string) error {
	if stage == "" {
		return fmt.Errorf("workflow stage must not be empty")
	}
	if !model.IsKnownStage(stage) {
		w.logger.Printf("ledger set_stage id=%s stage=%s unknown_stage=true", taskID, stage)
	}

	var e model.LedgerEntry
	if err := storage.ReadJSON(EntryPath(w.root, taskID), &e); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("entry %s: %w", taskID, ErrNotFound)
		}
		return fmt.Errorf("load entry %s: %w", taskID, err)
	}

	e.AppendTransition(stage, actor, reason, time.Now().UTC())
	return w.UpdateEntry(&e)
}

// RebuildIndex recomputes the entire index from the entry files. Rebuild is an
// explicit repair action: any entry that fails to parse aborts the rebuild
// with the parse error rather than being silently dropped.
func (w *Writer) RebuildIndex() error {
	entriesDir := EntriesDir(w.root)
	dirEntries, err := os.ReadDir(entriesDir)
	if err != nil {
		if os.IsNotExist(err) {
			dirEntries = nil
		} else {
			return fmt.Errorf("read entries dir: %w", err)
		}
	}

	var records []any
	byID := make(map[string]model.IndexRecord)
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		var e model.LedgerEntry
		if err := storage.ReadJSON(filepath.Join(entriesDir, de.Name()), &e); err != nil {
			return fmt.Errorf("rebuild index: %w", err)
		}
		// Two files embedding the same ID (a misnamed copy) still yield one
		// index line.
		byID[e.ID] = model.NewIndexRecord(&e)
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		records = append(records, byID[id])
	}

	w.indexMu.Lock()
	err = storage.WriteLinesAtomic(IndexPath(w.root), records)
	w.indexMu.Unlock()
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	w.logger.Printf("ledger rebuild_index entries=%d", len(records))
	return nil
}
