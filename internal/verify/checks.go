package verify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/taskledger/taskledger/internal/ledger"
	"github.com/taskledger/taskledger/internal/model"
	"github.com/taskledger/taskledger/internal/storage"
)

// checkEntryValidity verifies each entry file parses and carries an ID and
// title, and that its filename matches the embedded ID. Repair quarantines
// unparseable files and renames misnamed ones.
func (v *Verifier) checkEntryValidity(opts Options, _ []model.Task) ([]Issue, []Repair, error) {
	var issues []Issue
	var repairs []Repair

	dirEntries, err := os.ReadDir(ledger.EntriesDir(v.root))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("entry_validity: %w", err)
	}

	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		path := filepath.Join(ledger.EntriesDir(v.root), de.Name())
		stem := strings.TrimSuffix(de.Name(), ".json")

		var e model.LedgerEntry
		if err := storage.ReadJSON(path, &e); err != nil {
			issue := Issue{
				Check:    CheckEntryValidity,
				Severity: SeverityError,
				TaskID:   stem,
				Message:  fmt.Sprintf("entry file %s does not parse: %v", de.Name(), err),
			}
			if opts.Repair {
				if qpath, qerr := storage.Quarantine(v.root, path); qerr == nil {
					issue.Repaired = true
					repairs = append(repairs, Repair{
						Check:  CheckEntryValidity,
						Detail: fmt.Sprintf("quarantined %s → %s", de.Name(), qpath),
					})
				}
			}
			issues = append(issues, issue)
			continue
		}

		if e.ID == "" {
			issues = append(issues, Issue{
				Check:    CheckEntryValidity,
				Severity: SeverityError,
				TaskID:   stem,
				Message:  fmt.Sprintf("entry file %s has no id", de.Name()),
			})
			continue
		}
		if e.TaskSnapshot.Title == "" {
			issues = append(issues, Issue{
				Check:    CheckEntryValidity,
				Severity: SeverityError,
				TaskID:   e.ID,
				Message:  fmt.Sprintf("entry %s has no title", e.ID),
			})
		}

		if stem != e.ID {
			issue := Issue{
				Check:    CheckEntryValidity,
				Severity: SeverityError,
				TaskID:   e.ID,
				Message:  fmt.Sprintf("entry file %s carries id %s", de.Name(), e.ID),
			}
			if opts.Repair {
				target := ledger.EntryPath(v.root, e.ID)
				if _, statErr := os.Stat(target); os.IsNotExist(statErr) {
					if err := os.Rename(path, target); err == nil {
						issue.Repaired = true
						repairs = append(repairs, Repair{
							Check:  CheckEntryValidity,
							Detail: fmt.Sprintf("renamed %s → %s.json", de.Name(), e.ID),
						})
					}
				}
			}
			issues = append(issues, issue)
		}
	}
	return issues, repairs, nil
}

// checkEpicAggregation verifies every epic directory holds an epic.json whose
// embedded ID matches the directory name.
func (v *Verifier) checkEpicAggregation(_ Options, _ []model.Task) ([]Issue, []Repair, error) {
	var issues []Issue

	dirEntries, err := os.ReadDir(ledger.EpicsDir(v.root))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("epic_aggregation: %w", err)
	}

	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		epicID := de.Name()
		var agg model.EpicAggregate
		if err := storage.ReadJSON(ledger.EpicPath(v.root, epicID), &agg); err != nil {
			issues = append(issues, Issue{
				Check:    CheckEpicAggregation,
				Severity: SeverityError,
				Message:  fmt.Sprintf("epic %s: %v", epicID, err),
			})
			continue
		}
		if agg.ID != epicID {
			issues = append(issues, Issue{
				Check:    CheckEpicAggregation,
				Severity: SeverityError,
				Message:  fmt.Sprintf("epic directory %s holds aggregate id %s", epicID, agg.ID),
			})
		}
	}
	return issues, nil, nil
}

// checkIndexConsistency verifies existence-correspondence in both directions
// between entry files and index lines. Repair rebuilds the whole index from
// the entry files.
func (v *Verifier) checkIndexConsistency(opts Options, _ []model.Task) ([]Issue, []Repair, error) {
	entryIDs, err := v.entryIDs()
	if err != nil {
		return nil, nil, fmt.Errorf("index_consistency: %w", err)
	}

	indexIDs := make(map[string]bool)
	var issues []Issue
	err = storage.ReadLines(ledger.IndexPath(v.root), func(lineno int, line []byte) error {
		var rec model.IndexRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.ID == "" {
			issues = append(issues, Issue{
				Check:    CheckIndexConsistency,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("index line %d is malformed", lineno),
			})
			return nil
		}
		indexIDs[rec.ID] = true
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("index_consistency: %w", err)
	}

	inconsistent := false
	for id := range entryIDs {
		if !indexIDs[id] {
			inconsistent = true
			issues = append(issues, Issue{
				Check:    CheckIndexConsistency,
				Severity: SeverityError,
				TaskID:   id,
				Message:  fmt.Sprintf("entry %s missing from index", id),
			})
		}
	}
	for id := range indexIDs {
		if !entryIDs[id] {
			inconsistent = true
			issues = append(issues, Issue{
				Check:    CheckIndexConsistency,
				Severity: SeverityError,
				TaskID:   id,
				Message:  fmt.Sprintf("index line %s has no entry file", id),
			})
		}
	}

	var repairs []Repair
	if inconsistent && opts.Repair {
		if err := v.writer.RebuildIndex(); err != nil {
			return issues, nil, fmt.Errorf("index_consistency repair: %w", err)
		}
		for i := range issues {
			if issues[i].Severity == SeverityError {
				issues[i].Repaired = true
			}
		}
		repairs = append(repairs, Repair{
			Check:  CheckIndexConsistency,
			Detail: "index rebuilt from entry files",
		})
	}
	return issues, repairs, nil
}

// checkCrossReference flags ledger entries whose task no longer exists in the
// live task set. Deleted tasks are a normal occurrence, so findings are
// informational; an empty live set disables the check rather than flagging
// everything.
func (v *Verifier) checkCrossReference(_ Options, liveTasks []model.Task) ([]Issue, []Repair, error) {
	if len(liveTasks) == 0 {
		return nil, nil, nil
	}
	live := make(map[string]bool, len(liveTasks))
	for _, t := range liveTasks {
		live[t.ID] = true
	}

	entryIDs, err := v.entryIDs()
	if err != nil {
		return nil, nil, fmt.Errorf("cross_reference: %w", err)
	}

	var issues []Issue
	for id := range entryIDs {
		if !live[id] {
			issues = append(issues, Issue{
				Check:    CheckCrossReference,
				Severity: SeverityInfo,
				TaskID:   id,
				Message:  fmt.Sprintf("ledger entry %s has no live task", id),
			})
		}
	}
	return issues, nil, nil
}

// checkIDShape validates the live task set: duplicate or empty IDs are
// errors, ids outside the minted shapes are warnings only.
func (v *Verifier) checkIDShape(_ Options, liveTasks []model.Task) ([]Issue, []Repair, error) {
	var issues []Issue
	seen := make(map[string]bool)
	for _, t := range liveTasks {
		if t.ID == "" {
			issues = append(issues, Issue{
				Check:    CheckIDShape,
				Severity: SeverityError,
				Message:  fmt.Sprintf("live task %q has empty id", t.Title),
			})
			continue
		}
		if seen[t.ID] {
			issues = append(issues, Issue{
				Check:    CheckIDShape,
				Severity: SeverityError,
				TaskID:   t.ID,
				Message:  fmt.Sprintf("duplicate live task id %s", t.ID),
			})
			continue
		}
		seen[t.ID] = true
		if !model.MatchesIDShape(t.ID) {
			issues = append(issues, Issue{
				Check:    CheckIDShape,
				Severity: SeverityWarning,
				TaskID:   t.ID,
				Message:  fmt.Sprintf("task id %s does not match a minted shape", t.ID),
			})
		}
	}
	return issues, nil, nil
}

// checkCounterConsistency verifies the counter file exists, both sequences are
// non-negative, and each runs strictly ahead of the highest sequence observed
// in the live task set. Repair seeds a missing counter with defaults and bumps
// lagging sequences forward to observed max + 1; it never moves a sequence
// backward.
func (v *Verifier) checkCounterConsistency(opts Options, liveTasks []model.Task) ([]Issue, []Repair, error) {
	var issues []Issue
	var repairs []Repair

	exists, err := v.ref.Exists()
	if err != nil {
		return nil, nil, fmt.Errorf("counter_consistency: %w", err)
	}
	if !exists {
		issue := Issue{
			Check:    CheckCounterConsistency,
			Severity: SeverityError,
			Message:  "counter file missing",
		}
		if opts.Repair {
			if err := v.ref.Init(model.CounterState{UpdatedAt: time.Now().UTC()}); err != nil {
				return nil, nil, fmt.Errorf("counter_consistency repair: %w", err)
			}
			issue.Repaired = true
			repairs = append(repairs, Repair{
				Check:  CheckCounterConsistency,
				Detail: "counter file seeded with defaults",
			})
		}
		issues = append(issues, issue)
		if !opts.Repair {
			return issues, repairs, nil
		}
	}

	state, token, err := v.ref.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("counter_consistency: %w", err)
	}

	if state.SpecSeq < 0 || state.TaskSeq < 0 {
		issues = append(issues, Issue{
			Check:    CheckCounterConsistency,
			Severity: SeverityError,
			Message:  fmt.Sprintf("negative counter state spec_seq=%d task_seq=%d", state.SpecSeq, state.TaskSeq),
		})
	}

	maxSpec, maxTask := observedMaxes(liveTasks)
	repaired := state
	lagging := false
	if maxSpec >= 0 && state.SpecSeq <= maxSpec {
		lagging = true
		repaired.SpecSeq = maxSpec + 1
		issues = append(issues, Issue{
			Check:    CheckCounterConsistency,
			Severity: SeverityError,
			Message:  fmt.Sprintf("spec sequence %d behind observed max %d", state.SpecSeq, maxSpec),
		})
	}
	if maxTask >= 0 && state.TaskSeq <= maxTask {
		lagging = true
		repaired.TaskSeq = maxTask + 1
		issues = append(issues, Issue{
			Check:    CheckCounterConsistency,
			Severity: SeverityError,
			Message:  fmt.Sprintf("standalone sequence %d behind observed max %d", state.TaskSeq, maxTask),
		})
	}

	if lagging && opts.Repair {
		repaired.UpdatedAt = time.Now().UTC()
		if err := v.ref.CompareAndSwap(token, repaired); err != nil {
			return issues, repairs, fmt.Errorf("counter_consistency repair: %w", err)
		}
		for i := range issues {
			if issues[i].Check == CheckCounterConsistency && issues[i].Severity == SeverityError {
				issues[i].Repaired = true
			}
		}
		repairs = append(repairs, Repair{
			Check:  CheckCounterConsistency,
			Detail: fmt.Sprintf("sequences bumped to spec_seq=%d task_seq=%d", repaired.SpecSeq, repaired.TaskSeq),
		})
	}
	return issues, repairs, nil
}

// entryIDs returns the embedded IDs of all parseable entry files. Unparseable
// files are entry_validity's finding, not this helper's.
func (v *Verifier) entryIDs() (map[string]bool, error) {
	ids := make(map[string]bool)
	dirEntries, err := os.ReadDir(ledger.EntriesDir(v.root))
	if err != nil {
		if os.IsNotExist(err) {
			return ids, nil
		}
		return nil, err
	}
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		var e model.LedgerEntry
		if err := storage.ReadJSON(filepath.Join(ledger.EntriesDir(v.root), de.Name()), &e); err != nil {
			continue
		}
		if e.ID != "" {
			ids[e.ID] = true
		}
	}
	return ids, nil
}

func observedMaxes(liveTasks []model.Task) (maxSpec, maxTask int) {
	maxSpec, maxTask = -1, -1
	for _, t := range liveTasks {
		kind, n, ok := model.ObservedSequence(t.ID)
		if !ok {
			continue
		}
		switch kind {
		case model.SequenceSpec:
			if n > maxSpec {
				maxSpec = n
			}
		case model.SequenceStandalone:
			if n > maxTask {
				maxTask = n
			}
		}
	}
	return maxSpec, maxTask
}
