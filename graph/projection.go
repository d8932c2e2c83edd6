package graph

import "planit/domain"

// NodeType is the renderer registry key for task cards.
const NodeType = "todoNode"

// Node is the positioned view of a task.
type Node struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Position    domain.Position `json:"position"`
	Data        domain.Task     `json:"data"`
	Draggable   bool            `json:"draggable"`
	Selectable  bool            `json:"selectable"`
	Connectable bool            `json:"connectable"`
}

// View is everything the renderer needs for one frame.
type View struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Project builds the view from tasks and resolved positions. Tasks without a
// resolved position fall back to their stored one, then to the layout default.
func Project(tasks []domain.Task, positions map[string]domain.Position) View {
	nodes := make([]Node, 0, len(tasks))
	for _, t := range tasks {
		pos, ok := positions[t.ID]
		if !ok {
			if t.Position != nil {
				pos = *t.Position
			} else {
				pos = DefaultLayout.Default
			}
		}
		nodes = append(nodes, Node{
			ID:          t.ID,
			Type:        NodeType,
			Position:    pos,
			Data:        t,
			Draggable:   true,
			Selectable:  true,
			Connectable: true,
		})
	}
	return View{Nodes: nodes, Edges: BuildEdges(tasks)}
}

// Find returns the node with the given id.
func (v View) Find(id string) (Node, bool) {
	for _, n := range v.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
