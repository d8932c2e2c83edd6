package graph

import "planit/domain"

// Change types emitted by the renderer.
const (
	ChangePosition = "position"
	ChangeRemove   = "remove"
)

// NodeChange reports a renderer side change to a node.
type NodeChange struct {
	Type     string           `json:"type"`
	ID       string           `json:"id"`
	Position *domain.Position `json:"position,omitempty"`
	// Dragging is true while the pointer is held and false on release. It
	// is nil for programmatic moves.
	Dragging *bool `json:"dragging,omitempty"`
}

// Released reports whether the change ends a drag gesture.
func (c NodeChange) Released() bool {
	return c.Type == ChangePosition && c.Position != nil && c.Dragging != nil && !*c.Dragging
}

// EdgeChange reports a renderer side change to an edge.
type EdgeChange struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Connection is emitted when the user drags a new edge between two nodes.
type Connection struct {
	Source string `json:"source"`
	Target string `json:"target"`
}
