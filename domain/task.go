package domain

import (
	"slices"
	"time"
)

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// ParsePriority maps stored values to a Priority, falling back to Medium.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(s)
	default:
		return PriorityMedium
	}
}

// Position is a logical graph coordinate in pixels.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Task represents a single todo rendered as a graph node.
type Task struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Priority     Priority  `json:"priority"`
	Completed    bool      `json:"completed"`
	CreatedAt    time.Time `json:"createdAt"`
	Dependencies []string  `json:"dependencies"`
	// Position is nil when the stored document carries no usable coordinate.
	Position *Position `json:"position,omitempty"`
	DateKey  string    `json:"dateKey"`
}

// DependsOn reports whether id is one of the task's prerequisites.
func (t Task) DependsOn(id string) bool {
	return slices.Contains(t.Dependencies, id)
}

// DependenciesWithout returns a copy of the dependency list with id removed.
func (t Task) DependenciesWithout(id string) []string {
	out := make([]string, 0, len(t.Dependencies))
	for _, dep := range t.Dependencies {
		if dep != id {
			out = append(out, dep)
		}
	}
	return out
}

// TaskDraft carries the user supplied fields of a task that does not exist yet.
type TaskDraft struct {
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Priority     Priority  `json:"priority"`
	Dependencies []string  `json:"dependencies,omitempty"`
	Position     *Position `json:"position,omitempty"`
}

// TaskEdit carries the editable fields of an existing task.
type TaskEdit struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	Position    *Position `json:"position,omitempty"`
}

// DateKey returns the calendar day a task belongs to, as YYYY-MM-DD in UTC.
func DateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
