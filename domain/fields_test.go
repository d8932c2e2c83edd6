package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTaskFromDocumentPosition(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  *Position
	}{
		{name: "float", value: map[string]any{"x": 10.5, "y": 20.0}, want: &Position{X: 10.5, Y: 20}},
		{name: "json number", value: map[string]any{"x": json.Number("3"), "y": json.Number("4")}, want: &Position{X: 3, Y: 4}},
		{name: "missing y", value: map[string]any{"x": 1.0}},
		{name: "string coords", value: map[string]any{"x": "1", "y": "2"}},
		{name: "absent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := map[string]any{}
			if tt.value != nil {
				fields[FieldPosition] = tt.value
			}
			task := TaskFromDocument("t1", fields)
			switch {
			case tt.want == nil && task.Position != nil:
				t.Fatalf("expected no position, got %+v", *task.Position)
			case tt.want != nil && (task.Position == nil || *task.Position != *tt.want):
				t.Fatalf("expected %+v, got %+v", *tt.want, task.Position)
			}
		})
	}
}

func TestTaskFromDocumentDecodesFields(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	fields := map[string]any{
		FieldTitle:        "write",
		FieldDescription:  "docs",
		FieldPriority:     "High",
		FieldCompleted:    true,
		FieldCreatedAt:    created.Format(time.RFC3339Nano),
		FieldDependencies: []any{"a", "b", 3},
		FieldDateKey:      "2024-05-01",
	}
	task := TaskFromDocument("t1", fields)
	if task.Title != "write" || task.Description != "docs" || task.Priority != PriorityHigh || !task.Completed {
		t.Fatalf("unexpected task %#v", task)
	}
	if !task.CreatedAt.Equal(created) {
		t.Fatalf("unexpected createdAt %v", task.CreatedAt)
	}
	if len(task.Dependencies) != 2 || task.Dependencies[0] != "a" || task.Dependencies[1] != "b" {
		t.Fatalf("unexpected dependencies %v", task.Dependencies)
	}
	if task.DateKey != "2024-05-01" {
		t.Fatalf("unexpected date key %s", task.DateKey)
	}
}

func TestNewTaskFieldsDedupesDependencies(t *testing.T) {
	now := time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)
	fields := NewTaskFields(TaskDraft{Title: "t", Dependencies: []string{"a", "a", "", "b"}}, Position{X: 50, Y: 100}, DateKey(now), now)
	deps := fields[FieldDependencies].([]string)
	if len(deps) != 2 || deps[0] != "a" || deps[1] != "b" {
		t.Fatalf("unexpected dependencies %v", deps)
	}
	if fields[FieldPriority] != "Medium" {
		t.Fatalf("expected default priority, got %v", fields[FieldPriority])
	}
	if fields[FieldDateKey] != "2024-05-01" {
		t.Fatalf("unexpected date key %v", fields[FieldDateKey])
	}
	p, ok := PositionFromValue(fields[FieldPosition])
	if !ok || p != (Position{X: 50, Y: 100}) {
		t.Fatalf("unexpected position %v", fields[FieldPosition])
	}
}

func TestSplitDocPath(t *testing.T) {
	col, id, err := SplitDocPath(DocPath(TodosPath("u1", "p1"), "t1"))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if col != "users/u1/projects/p1/todos" || id != "t1" {
		t.Fatalf("unexpected split %s %s", col, id)
	}
	if _, _, err := SplitDocPath(TodosPath("u1", "p1")); err == nil {
		t.Fatal("expected collection path to be rejected")
	}
	if CollectionKind(TodosPath("u1", "p1")) != "todos" {
		t.Fatal("unexpected collection kind")
	}
}

func TestDependenciesWithout(t *testing.T) {
	task := Task{Dependencies: []string{"a", "b", "c"}}
	got := task.DependenciesWithout("b")
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("unexpected deps %v", got)
	}
	if len(task.Dependencies) != 3 {
		t.Fatal("original dependency list was modified")
	}
}
