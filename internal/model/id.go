package model

import (
	"fmt"
	"regexp"
	"strconv"
)

// Hierarchical identifier shapes: spec ids are S### (minted from the spec
// sequence), spec-scoped tasks are S###-T##, standalone tasks are T###
// (minted from the standalone sequence). Epic ids share the spec shape.
//
// Shape matching is advisory only: externally-created or legacy ids that do
// not match are tolerated everywhere and at most flagged as warnings.
var (
	specIDRegex = regexp.MustCompile(`^S([0-9]{3,})$`)
	taskIDRegex = regexp.MustCompile(`^(?:S([0-9]{3,})-T[0-9]{2,}|T([0-9]{3,}))$`)
)

func FormatSpecID(n int) string {
	return fmt.Sprintf("S%03d", n)
}

func FormatStandaloneTaskID(n int) string {
	return fmt.Sprintf("T%03d", n)
}

func FormatSpecTaskID(specID string, n int) string {
	return fmt.Sprintf("%s-T%02d", specID, n)
}

func MatchesIDShape(id string) bool {
	return taskIDRegex.MatchString(id)
}

func MatchesEpicIDShape(id string) bool {
	return specIDRegex.MatchString(id)
}

type SequenceKind string

const (
	SequenceSpec       SequenceKind = "spec"
	SequenceStandalone SequenceKind = "standalone"
)

// ObservedSequence extracts the counter sequence number a task id consumes:
// the spec number for spec-shaped ids, the task number for standalone ids.
// ok is false for ids outside both shapes.
func ObservedSequence(id string) (SequenceKind, int, bool) {
	if m := taskIDRegex.FindStringSubmatch(id); m != nil {
		if m[1] != "" {
			n, _ := strconv.Atoi(m[1])
			return SequenceSpec, n, true
		}
		n, _ := strconv.Atoi(m[2])
		return SequenceStandalone, n, true
	}
	if m := specIDRegex.FindStringSubmatch(id); m != nil {
		n, _ := strconv.Atoi(m[1])
		return SequenceSpec, n, true
	}
	return "", 0, false
}
