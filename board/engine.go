package board

import (
	"planit/domain"
	"planit/graph"
)

// Release is a drag that ended and must be persisted.
type Release struct {
	ID       string
	Position domain.Position
}

// Engine reconciles remote snapshots with locally known positions. It owns
// the position cache for one board scope (user, project, date) and is not
// safe for concurrent use.
type Engine struct {
	layout graph.Layout
	cache  *graph.PositionCache
	tasks  []domain.Task
	view   graph.View
}

func NewEngine(layout graph.Layout) *Engine {
	e := &Engine{layout: layout, cache: graph.NewPositionCache()}
	e.Reset()
	return e
}

// ApplySnapshot replaces the task set. Each task is placed at, in order of
// precedence: its cached position, its rendered node position, its stored
// position, or a freshly allocated free slot. Every resolved position is
// written back to the cache.
func (e *Engine) ApplySnapshot(tasks []domain.Task) graph.View {
	if len(tasks) == 0 {
		e.Reset()
		return e.View()
	}
	resolved := make(map[string]domain.Position, len(tasks))
	var unplaced []string
	for _, t := range tasks {
		if p, ok := e.cache.Get(t.ID); ok {
			resolved[t.ID] = p
			continue
		}
		if n, ok := e.view.Find(t.ID); ok {
			resolved[t.ID] = n.Position
			continue
		}
		if t.Position != nil {
			resolved[t.ID] = *t.Position
			continue
		}
		unplaced = append(unplaced, t.ID)
	}
	for _, id := range unplaced {
		occupied := make([]domain.Position, 0, len(resolved))
		for _, p := range resolved {
			occupied = append(occupied, p)
		}
		resolved[id] = e.layout.Allocate(occupied, nil)
	}
	for id, p := range resolved {
		e.cache.Set(id, p)
	}
	e.tasks = append([]domain.Task{}, tasks...)
	e.view = graph.Project(e.tasks, resolved)
	return e.View()
}

// Resolve returns the position a mutation must carry for task id.
func (e *Engine) Resolve(id string) (domain.Position, bool) {
	if p, ok := e.cache.Get(id); ok {
		return p, true
	}
	if n, ok := e.view.Find(id); ok {
		return n.Position, true
	}
	if t, ok := e.Task(id); ok && t.Position != nil {
		return *t.Position, true
	}
	return domain.Position{}, false
}

// Track records a position the board has committed to for id.
func (e *Engine) Track(id string, p domain.Position) {
	e.cache.Set(id, p)
	for i := range e.view.Nodes {
		if e.view.Nodes[i].ID == id {
			e.view.Nodes[i].Position = p
		}
	}
}

// Forget drops a deleted task from the cache and the view.
func (e *Engine) Forget(id string) {
	e.cache.Delete(id)
	kept := make([]domain.Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	e.tasks = kept
	e.rebuild()
}

// Patch replaces the local copy of a task after a successful write.
func (e *Engine) Patch(task domain.Task) {
	for i := range e.tasks {
		if e.tasks[i].ID == task.ID {
			e.tasks[i] = task
			e.rebuild()
			return
		}
	}
}

// ApplyNodeChanges moves nodes as the renderer reports them and returns the
// drags that were released.
func (e *Engine) ApplyNodeChanges(changes []graph.NodeChange) []Release {
	var released []Release
	for _, c := range changes {
		if c.Type != graph.ChangePosition || c.Position == nil {
			continue
		}
		e.Track(c.ID, *c.Position)
		if c.Released() {
			released = append(released, Release{ID: c.ID, Position: *c.Position})
		}
	}
	return released
}

// Occupied lists the resolved positions of every known task.
func (e *Engine) Occupied() []domain.Position {
	out := make([]domain.Position, 0, len(e.tasks))
	for _, t := range e.tasks {
		if p, ok := e.Resolve(t.ID); ok {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) Task(id string) (domain.Task, bool) {
	for _, t := range e.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

func (e *Engine) Tasks() []domain.Task {
	return append([]domain.Task{}, e.tasks...)
}

// Dependents returns the tasks that list id as a dependency.
func (e *Engine) Dependents(id string) []domain.Task {
	var out []domain.Task
	for _, t := range e.tasks {
		if t.ID != id && t.DependsOn(id) {
			out = append(out, t)
		}
	}
	return out
}

// View returns a copy of the current projection.
func (e *Engine) View() graph.View {
	return graph.View{
		Nodes: append([]graph.Node{}, e.view.Nodes...),
		Edges: append([]graph.Edge{}, e.view.Edges...),
	}
}

// Reset clears the cache, the tasks and the rendered view.
func (e *Engine) Reset() {
	e.cache.Clear()
	e.tasks = nil
	e.view = graph.View{Nodes: []graph.Node{}, Edges: []graph.Edge{}}
}

func (e *Engine) rebuild() {
	e.view = graph.Project(e.tasks, e.cache.Snapshot())
}
