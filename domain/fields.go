package domain

import (
	"encoding/json"
	"slices"
	"time"
)

// Document field names shared by every store implementation.
const (
	FieldTitle        = "title"
	FieldDescription  = "description"
	FieldPriority     = "priority"
	FieldCompleted    = "completed"
	FieldCreatedAt    = "createdAt"
	FieldDependencies = "dependencies"
	FieldPosition     = "position"
	FieldDateKey      = "dateKey"
	FieldName         = "name"
	FieldOrder        = "order"
)

// PositionValue encodes a position the way it is stored in a document.
func PositionValue(p Position) map[string]any {
	return map[string]any{"x": p.X, "y": p.Y}
}

// NewTaskFields builds the document for a freshly created task.
func NewTaskFields(d TaskDraft, pos Position, dateKey string, now time.Time) map[string]any {
	deps := make([]string, 0, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		if dep == "" || slices.Contains(deps, dep) {
			continue
		}
		deps = append(deps, dep)
	}
	priority := d.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	return map[string]any{
		FieldTitle:        d.Title,
		FieldDescription:  d.Description,
		FieldPriority:     string(priority),
		FieldCompleted:    false,
		FieldCreatedAt:    now.UTC(),
		FieldDependencies: deps,
		FieldPosition:     PositionValue(pos),
		FieldDateKey:      dateKey,
	}
}

// TaskFromDocument decodes a stored document. Position is only taken when
// it is an object with numeric x and y.
func TaskFromDocument(id string, fields map[string]any) Task {
	t := Task{
		ID:           id,
		Title:        stringField(fields[FieldTitle]),
		Description:  stringField(fields[FieldDescription]),
		Priority:     ParsePriority(stringField(fields[FieldPriority])),
		DateKey:      stringField(fields[FieldDateKey]),
		Dependencies: stringsField(fields[FieldDependencies]),
	}
	if b, ok := fields[FieldCompleted].(bool); ok {
		t.Completed = b
	}
	t.CreatedAt = timeField(fields[FieldCreatedAt])
	if p, ok := PositionFromValue(fields[FieldPosition]); ok {
		t.Position = &p
	}
	return t
}

// ProjectFromDocument decodes a stored project document.
func ProjectFromDocument(id string, fields map[string]any) Project {
	p := Project{
		ID:        id,
		Name:      stringField(fields[FieldName]),
		CreatedAt: timeField(fields[FieldCreatedAt]),
	}
	if n, ok := numberField(fields[FieldOrder]); ok {
		p.Order = int(n)
	}
	return p
}

// PositionFromValue extracts a coordinate from a stored position value.
func PositionFromValue(v any) (Position, bool) {
	switch p := v.(type) {
	case Position:
		return p, true
	case *Position:
		if p == nil {
			return Position{}, false
		}
		return *p, true
	case map[string]any:
		x, okX := numberField(p["x"])
		y, okY := numberField(p["y"])
		if !okX || !okY {
			return Position{}, false
		}
		return Position{X: x, Y: y}, true
	default:
		return Position{}, false
	}
}

func numberField(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}

func stringsField(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string{}, list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}

func timeField(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
