// Package verify implements the consistency verifier over the ledger tree:
// independent checks that detect divergence between the entry files, the
// derived index, the epic aggregates, the counter state, and the live task
// set, with optional in-place repair.
package verify

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/taskledger/taskledger/internal/counter"
	"github.com/taskledger/taskledger/internal/ledger"
	"github.com/taskledger/taskledger/internal/model"
)

type CheckName string

const (
	CheckEntryValidity      CheckName = "entry_validity"
	CheckEpicAggregation    CheckName = "epic_aggregation"
	CheckIndexConsistency   CheckName = "index_consistency"
	CheckCrossReference     CheckName = "cross_reference"
	CheckIDShape            CheckName = "id_shape"
	CheckCounterConsistency CheckName = "counter_consistency"
)

// allChecks fixes the merge order of concurrent check results.
var allChecks = []CheckName{
	CheckEntryValidity,
	CheckEpicAggregation,
	CheckIndexConsistency,
	CheckCrossReference,
	CheckIDShape,
	CheckCounterConsistency,
}

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is one finding of one check.
type Issue struct {
	Check    CheckName `json:"check"`
	Severity Severity  `json:"severity"`
	TaskID   string    `json:"task_id,omitempty"`
	Message  string    `json:"message"`
	Repaired bool      `json:"repaired"`
}

// Repair describes one repair action taken in repair mode.
type Repair struct {
	Check  CheckName `json:"check"`
	Detail string    `json:"detail"`
}

type Result struct {
	Issues  []Issue  `json:"issues"`
	Repairs []Repair `json:"repairs"`
}

// Unsafe reports whether any error-severity issue remains unrepaired. Warnings
// and info findings never make the ledger unsafe.
func (r *Result) Unsafe() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError && !issue.Repaired {
			return true
		}
	}
	return false
}

// Options controls one verifier run. Repair mutates the tree in place and
// assumes no concurrent writers; it is not transactional, so an interrupted
// repair run is finished by running it again.
type Options struct {
	Repair  bool
	Disable []CheckName
}

func (o Options) enabled(name CheckName) bool {
	for _, d := range o.Disable {
		if d == name {
			return false
		}
	}
	return true
}

type Verifier struct {
	root   string
	writer *ledger.Writer
	ref    counter.RefStore
	logger *log.Logger
}

func New(root string, writer *ledger.Writer, ref counter.RefStore, logger *log.Logger) *Verifier {
	if logger == nil {
		logger = log.Default()
	}
	return &Verifier{root: root, writer: writer, ref: ref, logger: logger}
}

// Run executes the enabled checks and merges their findings in the fixed
// check order. Detect-only runs fan the checks out concurrently; repair runs
// are sequential, so a quarantine or rename lands before the index check
// rebuilds from the entry files. liveTasks is the current external task set;
// checks that compare against it degrade gracefully when it is empty.
func (v *Verifier) Run(ctx context.Context, liveTasks []model.Task, opts Options) (*Result, error) {
	type checkFunc func(opts Options, liveTasks []model.Task) ([]Issue, []Repair, error)
	funcs := map[CheckName]checkFunc{
		CheckEntryValidity:      v.checkEntryValidity,
		CheckEpicAggregation:    v.checkEpicAggregation,
		CheckIndexConsistency:   v.checkIndexConsistency,
		CheckCrossReference:     v.checkCrossReference,
		CheckIDShape:            v.checkIDShape,
		CheckCounterConsistency: v.checkCounterConsistency,
	}

	issuesByCheck := make([][]Issue, len(allChecks))
	repairsByCheck := make([][]Repair, len(allChecks))

	g, _ := errgroup.WithContext(ctx)
	if opts.Repair {
		g.SetLimit(1)
	}
	for i, name := range allChecks {
		if !opts.enabled(name) {
			continue
		}
		i := i
		fn := funcs[name]
		g.Go(func() error {
			issues, repairs, err := fn(opts, liveTasks)
			if err != nil {
				return err
			}
			issuesByCheck[i] = issues
			repairsByCheck[i] = repairs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{}
	for i := range allChecks {
		result.Issues = append(result.Issues, issuesByCheck[i]...)
		result.Repairs = append(result.Repairs, repairsByCheck[i]...)
	}

	v.logger.Printf("verify issues=%d repairs=%d unsafe=%v",
		len(result.Issues), len(result.Repairs), result.Unsafe())
	return result, nil
}
