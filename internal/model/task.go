package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Task is the task definition supplied by the task backend. The ledger
// consumes it for snapshots and drift comparison; it never owns it.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

func NewTaskSnapshot(t Task) TaskSnapshot {
	return TaskSnapshot{
		Title:       t.Title,
		Description: t.Description,
		Type:        t.Type,
		Priority:    t.Priority,
		Labels:      append([]string(nil), t.Labels...),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// DiffTask compares the snapshot taken at start against the live task at
// close. Returns nil when title, description, priority, labels, and type all
// match. Label comparison ignores order.
func DiffTask(snapshot TaskSnapshot, live Task) *TaskChanged {
	var changed []string
	var details []string

	if snapshot.Title != live.Title {
		changed = append(changed, "title")
		details = append(details, fmt.Sprintf("title: %q → %q", snapshot.Title, live.Title))
	}
	if snapshot.Description != live.Description {
		changed = append(changed, "description")
		details = append(details, "description changed")
	}
	if snapshot.Priority != live.Priority {
		changed = append(changed, "priority")
		details = append(details, fmt.Sprintf("priority: %q → %q", snapshot.Priority, live.Priority))
	}
	if !sameLabels(snapshot.Labels, live.Labels) {
		changed = append(changed, "labels")
		details = append(details, fmt.Sprintf("labels: %v → %v", snapshot.Labels, live.Labels))
	}
	if snapshot.Type != live.Type {
		changed = append(changed, "type")
		details = append(details, fmt.Sprintf("type: %q → %q", snapshot.Type, live.Type))
	}

	if len(changed) == 0 {
		return nil
	}
	return &TaskChanged{
		FieldsChanged: changed,
		Summary:       strings.Join(details, "; "),
	}
}

func sameLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
