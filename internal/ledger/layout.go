// Package ledger implements the writer and reader over the on-disk ledger:
// per-task entry files, per-epic aggregation files, attempt artifacts, and the
// derived index.
package ledger

import (
	"fmt"
	"path/filepath"
)

const (
	EntriesDirName    = "entries"
	EpicsDirName      = "epics"
	ArtifactsDirName  = "artifacts"
	SessionsDirName   = "sessions"
	LocksDirName      = "locks"
	LogsDirName       = "logs"
	QuarantineDirName = "quarantine"

	IndexFileName       = "index.jsonl"
	CounterFileName     = "counters.json"
	CounterLockFileName = "counters.lock"
	ConfigFileName      = "config.yaml"
	EpicFileName        = "epic.json"
)

// ArtifactKind addresses the per-attempt artifacts.
type ArtifactKind string

const (
	ArtifactPrompt ArtifactKind = "prompt"
	ArtifactLog    ArtifactKind = "log"
)

func EntriesDir(root string) string { return filepath.Join(root, EntriesDirName) }
func EpicsDir(root string) string   { return filepath.Join(root, EpicsDirName) }
func IndexPath(root string) string  { return filepath.Join(root, IndexFileName) }

func EntryPath(root, taskID string) string {
	return filepath.Join(EntriesDir(root), taskID+".json")
}

func EpicPath(root, epicID string) string {
	return filepath.Join(EpicsDir(root), epicID, EpicFileName)
}

func ArtifactPath(root, taskID string, attemptNumber int, kind ArtifactKind) string {
	name := fmt.Sprintf("attempt-%02d.%s.md", attemptNumber, kind)
	return filepath.Join(root, ArtifactsDirName, taskID, name)
}

func SessionPath(root, sessionID string) string {
	return filepath.Join(root, SessionsDirName, sessionID+".jsonl")
}

func CounterPath(root string) string {
	return filepath.Join(root, CounterFileName)
}

func CounterLockPath(root string) string {
	return filepath.Join(root, LocksDirName, CounterLockFileName)
}

// Dirs lists every directory the ledger root contains.
func Dirs() []string {
	return []string{
		EntriesDirName,
		EpicsDirName,
		ArtifactsDirName,
		SessionsDirName,
		LocksDirName,
		LogsDirName,
		QuarantineDirName,
	}
}
