package graph

import "planit/domain"

// PositionCache maps task ids to their last known display coordinate. It is
// the rendering source of truth while remote writes are in flight. It is not
// safe for concurrent use; the owner serialises access.
type PositionCache struct {
	positions map[string]domain.Position
}

// NewPositionCache returns an empty cache.
func NewPositionCache() *PositionCache {
	return &PositionCache{positions: make(map[string]domain.Position)}
}

func (c *PositionCache) Get(id string) (domain.Position, bool) {
	p, ok := c.positions[id]
	return p, ok
}

func (c *PositionCache) Set(id string, p domain.Position) {
	c.positions[id] = p
}

func (c *PositionCache) Delete(id string) {
	delete(c.positions, id)
}

// Clear drops every entry, used when the visible task set changes scope.
func (c *PositionCache) Clear() {
	clear(c.positions)
}

// Snapshot returns a copy of the cache contents.
func (c *PositionCache) Snapshot() map[string]domain.Position {
	out := make(map[string]domain.Position, len(c.positions))
	for id, p := range c.positions {
		out[id] = p
	}
	return out
}
