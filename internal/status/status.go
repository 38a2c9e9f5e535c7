// Package status summarizes the ledger from its index.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/taskledger/taskledger/internal/ledger"
	"github.com/taskledger/taskledger/internal/model"
)

type LedgerStatus struct {
	Entries        int            `json:"entries"`
	Completed      int            `json:"completed"`
	TotalCostUSD   float64        `json:"total_cost_usd"`
	TotalTokens    int            `json:"total_tokens"`
	ByVerification map[string]int `json:"by_verification,omitempty"`
	ByStage        map[string]int `json:"by_stage,omitempty"`
}

// Collect builds the summary from the index records.
func Collect(reader *ledger.Reader) (LedgerStatus, error) {
	records, err := reader.ListTasks(ledger.Filter{})
	if err != nil {
		return LedgerStatus{}, fmt.Errorf("list tasks: %w", err)
	}

	s := LedgerStatus{
		ByVerification: make(map[string]int),
		ByStage:        make(map[string]int),
	}
	for _, rec := range records {
		s.Entries++
		if rec.CompletedAt != nil {
			s.Completed++
		}
		s.TotalCostUSD += rec.CostUSD
		s.TotalTokens += rec.TotalTokens

		verification := string(rec.Verification)
		if verification == "" {
			verification = string(model.VerificationPending)
		}
		s.ByVerification[verification]++

		stage := rec.WorkflowStage
		if stage == "" {
			stage = "(none)"
		}
		s.ByStage[stage]++
	}
	return s, nil
}

// Run collects the summary and prints it to stdout.
func Run(root string, jsonOutput bool) error {
	s, err := Collect(ledger.NewReader(root, nil))
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	printStatus(s)
	return nil
}

func printStatus(s LedgerStatus) {
	fmt.Printf("Entries: %d (%d completed)\n", s.Entries, s.Completed)
	fmt.Printf("Total cost: $%.4f\n", s.TotalCostUSD)
	fmt.Printf("Total tokens: %d\n", s.TotalTokens)

	if len(s.ByVerification) > 0 {
		fmt.Println("\nVerification:")
		for _, k := range sortedKeys(s.ByVerification) {
			fmt.Printf("  %-10s  %d\n", k, s.ByVerification[k])
		}
	}
	if len(s.ByStage) > 0 {
		fmt.Println("\nStages:")
		for _, k := range sortedKeys(s.ByStage) {
			fmt.Printf("  %-16s  %d\n", k, s.ByStage[k])
		}
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
