package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/taskledger/taskledger/internal/counter"
	"github.com/taskledger/taskledger/internal/ledger"
	"github.com/taskledger/taskledger/internal/logging"
	"github.com/taskledger/taskledger/internal/model"
	"github.com/taskledger/taskledger/internal/setup"
	"github.com/taskledger/taskledger/internal/status"
	"github.com/taskledger/taskledger/internal/verify"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "setup":
		runSetup(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	case "rebuild-index":
		runRebuildIndex(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "version":
		fmt.Printf("taskledger %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runSetup(args []string) {
	var projectDir, name, description string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			i++
			name = args[i]
		case "--description":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--description requires a value")
				os.Exit(1)
			}
			i++
			description = args[i]
		default:
			if projectDir != "" {
				fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: taskledger setup <project_dir> [--name <name>] [--description <text>]\n", args[i])
				os.Exit(1)
			}
			projectDir = args[i]
		}
	}
	if projectDir == "" {
		fmt.Fprintln(os.Stderr, "usage: taskledger setup <project_dir> [--name <name>] [--description <text>]")
		os.Exit(1)
	}

	root, err := setup.Run(projectDir, setup.Options{ProjectName: name, Description: description})
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Initialized %s\n", root)
}

func runVerify(args []string) {
	var repair, jsonOutput bool
	var tasksFile string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--repair":
			repair = true
		case "--json":
			jsonOutput = true
		case "--tasks":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--tasks requires a value")
				os.Exit(1)
			}
			i++
			tasksFile = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: taskledger verify [--repair] [--json] [--tasks <file>]\n", args[i])
			os.Exit(1)
		}
	}

	root := findLedgerDir()
	if root == "" {
		fmt.Fprintln(os.Stderr, "error: .taskledger/ directory not found. Run 'taskledger setup <dir>' first.")
		os.Exit(1)
	}

	cfg, err := setup.LoadConfig(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	var liveTasks []model.Task
	if tasksFile != "" {
		liveTasks, err = loadTasksFile(tasksFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load tasks: %v\n", err)
			os.Exit(1)
		}
	}

	opts := verify.Options{Repair: repair}
	for _, name := range cfg.Verify.Disable {
		opts.Disable = append(opts.Disable, verify.CheckName(name))
	}

	lg, err := logging.Open(root, logging.ParseLevel(cfg.Logging.Level))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log: %v\n", err)
		os.Exit(1)
	}
	defer lg.Close()

	ref := counter.NewFileRef(ledger.CounterPath(root), ledger.CounterLockPath(root))
	verifier := verify.New(root, ledger.NewWriter(root, lg.Printer()), ref, lg.Printer())
	result, err := verifier.Run(context.Background(), liveTasks, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "verify: %v\n", err)
			os.Exit(1)
		}
	} else {
		printResult(result)
	}

	if result.Unsafe() {
		os.Exit(2)
	}
}

func printResult(result *verify.Result) {
	if len(result.Issues) == 0 {
		fmt.Println("ledger is consistent")
		return
	}
	for _, issue := range result.Issues {
		suffix := ""
		if issue.Repaired {
			suffix = " (repaired)"
		}
		fmt.Printf("%-7s %-20s %s%s\n", issue.Severity, issue.Check, issue.Message, suffix)
	}
	for _, repair := range result.Repairs {
		fmt.Printf("repair  %-20s %s\n", repair.Check, repair.Detail)
	}
	if result.Unsafe() {
		fmt.Println("ledger is UNSAFE: unrepaired errors remain")
	}
}

// loadTasksFile reads a JSON array of task definitions exported by the task
// backend.
func loadTasksFile(path string) ([]model.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tasks []model.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return tasks, nil
}

func runRebuildIndex(args []string) {
	if len(args) > 0 {
		fmt.Fprintln(os.Stderr, "usage: taskledger rebuild-index")
		os.Exit(1)
	}

	root := findLedgerDir()
	if root == "" {
		fmt.Fprintln(os.Stderr, "error: .taskledger/ directory not found. Run 'taskledger setup <dir>' first.")
		os.Exit(1)
	}

	cfg, err := setup.LoadConfig(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	lg, err := logging.Open(root, logging.ParseLevel(cfg.Logging.Level))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log: %v\n", err)
		os.Exit(1)
	}
	defer lg.Close()

	if err := ledger.NewWriter(root, lg.Printer()).RebuildIndex(); err != nil {
		fmt.Fprintf(os.Stderr, "rebuild-index: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("index rebuilt")
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: taskledger status [--json]\n", a)
			os.Exit(1)
		}
	}

	root := findLedgerDir()
	if root == "" {
		fmt.Fprintln(os.Stderr, "error: .taskledger/ directory not found. Run 'taskledger setup <dir>' first.")
		os.Exit(1)
	}

	if err := status.Run(root, jsonOutput); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
}

// findLedgerDir searches for .taskledger/ in the current directory and
// ancestors.
func findLedgerDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, setup.LedgerDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `taskledger %s — Durable audit ledger for agent task execution

Usage: taskledger <command> [options]

Commands:
  setup <dir> [--name <name>] [--description <text>]
                    Initialize .taskledger/ directory
  verify [--repair] [--json] [--tasks <file>]
                    Check ledger consistency (exit 2 when unsafe)
  rebuild-index     Recompute the index from the entry files
  status [--json]   Summarize entries, costs, and stages
  version           Show version
  help              Show this help

`, version)
}
