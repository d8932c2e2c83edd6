package graph

import (
	"strings"

	"planit/domain"
)

// Edge is a rendered dependency: Source must finish before Target.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle"`
	TargetHandle string `json:"targetHandle"`
	Type         string `json:"type"`
	Animated     bool   `json:"animated"`
}

// EdgeID is the deterministic id of the edge from source to target.
func EdgeID(source, target string) string {
	return source + "-" + target
}

// BuildEdges derives one edge per dependency whose endpoints are both in
// tasks. Order follows task order, then dependency order.
func BuildEdges(tasks []domain.Task) []Edge {
	visible := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		visible[t.ID] = struct{}{}
	}
	edges := make([]Edge, 0)
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := visible[dep]; !ok {
				continue
			}
			edges = append(edges, Edge{
				ID:           EdgeID(dep, t.ID),
				Source:       dep,
				Target:       t.ID,
				SourceHandle: "right",
				TargetHandle: "left",
				Type:         "smoothstep",
				Animated:     true,
			})
		}
	}
	return edges
}

// ParseEdgeID splits an edge id back into source and target. Ids may contain
// dashes themselves, so the split is resolved against the known tasks first;
// without a match it falls back to the first dash.
func ParseEdgeID(id string, tasks []domain.Task) (source, target string, ok bool) {
	known := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		known[t.ID] = struct{}{}
	}
	for _, t := range tasks {
		suffix := "-" + t.ID
		if !strings.HasSuffix(id, suffix) {
			continue
		}
		src := strings.TrimSuffix(id, suffix)
		if _, exists := known[src]; exists {
			return src, t.ID, true
		}
	}
	src, dst, found := strings.Cut(id, "-")
	if !found || src == "" || dst == "" {
		return "", "", false
	}
	return src, dst, true
}
