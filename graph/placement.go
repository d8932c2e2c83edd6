package graph

import (
	"math"

	"planit/domain"
)

// Layout holds the geometry used to place new nodes.
type Layout struct {
	GridSize   float64
	NodeWidth  float64
	NodeHeight float64
	// MaxRadius bounds the ring search; radii strictly below it are tried.
	MaxRadius float64
	Default   domain.Position
}

// DefaultLayout matches the size of a rendered task card.
var DefaultLayout = Layout{
	GridSize:   50,
	NodeWidth:  320,
	NodeHeight: 200,
	MaxRadius:  1000,
	Default:    domain.Position{X: 400, Y: 300},
}

// Allocate places a node using DefaultLayout.
func Allocate(existing []domain.Position, preferred *domain.Position) domain.Position {
	return DefaultLayout.Allocate(existing, preferred)
}

// Allocate returns a grid-snapped coordinate whose bounding box does not
// overlap any existing node. The preferred point is tried first, then rings
// of growing radius around it, eight angles per ring; the first free slot
// wins. When every slot within MaxRadius is taken the last tested slot is
// returned even though it overlaps.
func (l Layout) Allocate(existing []domain.Position, preferred *domain.Position) domain.Position {
	origin := l.Default
	if preferred != nil {
		origin = *preferred
	}
	x := l.snap(origin.X)
	y := l.snap(origin.Y)
	if !l.occupied(existing, x, y) {
		return domain.Position{X: x, Y: y}
	}

	last := domain.Position{X: x, Y: y}
	for radius := l.GridSize; radius < l.MaxRadius; radius += l.GridSize {
		for angle := 0; angle < 360; angle += 45 {
			rad := float64(angle) * math.Pi / 180
			tx := l.snap(x + math.Cos(rad)*radius)
			ty := l.snap(y + math.Sin(rad)*radius)
			if !l.occupied(existing, tx, ty) {
				return domain.Position{X: tx, Y: ty}
			}
			last = domain.Position{X: tx, Y: ty}
		}
	}
	return last
}

// Overlaps reports whether two node origins produce intersecting cards.
func (l Layout) Overlaps(a, b domain.Position) bool {
	return math.Abs(a.X-b.X) < l.NodeWidth && math.Abs(a.Y-b.Y) < l.NodeHeight
}

func (l Layout) occupied(existing []domain.Position, x, y float64) bool {
	candidate := domain.Position{X: x, Y: y}
	for _, p := range existing {
		if l.Overlaps(p, candidate) {
			return true
		}
	}
	return false
}

// snap rounds half up, so -25 snaps to 0 rather than -50.
func (l Layout) snap(v float64) float64 {
	if l.GridSize <= 0 {
		return v
	}
	return math.Floor(v/l.GridSize+0.5) * l.GridSize
}
