// Hierarchy Builder: reconstructs the span forest from parent pointers
// Nodes live in an index-addressed arena; children are index lists, never pointers
package spans

import (
	"sort"

	"go.uber.org/zap"
)

// SpanNode is a Span placed in the reconstructed forest.
type SpanNode struct {
	Span     `yaml:",inline"`
	Level    int   `json:"level" yaml:"level"`
	Parent   int   `json:"-" yaml:"-"` // arena index, -1 for roots
	Children []int `json:"-" yaml:"-"` // arena indices, ascending by CapturedAt
}

// Forest is the arena of all nodes for one session.
// Nodes keeps input order; Roots is sorted by CapturedAt.
type Forest struct {
	Nodes []SpanNode
	Roots []int
}

// HierarchyOptions controls BuildForest.
type HierarchyOptions struct {
	Logger *zap.Logger // defaults to a no-op logger
}

// BuildForest links spans to their parents. A span whose parent is missing,
// unknown, itself, or part of a parent cycle becomes a root. Siblings and
// roots are ordered by CapturedAt with ties broken by input order.
// When several spans share an ID, the first one is the link target.
func BuildForest(spans []Span, opts HierarchyOptions) *Forest {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Forest{Nodes: make([]SpanNode, len(spans))}
	index := make(map[string]int, len(spans))
	for i, s := range spans {
		f.Nodes[i] = SpanNode{Span: s, Parent: -1}
		if _, dup := index[s.SpanID]; !dup {
			index[s.SpanID] = i
		}
	}

	for i := range f.Nodes {
		node := &f.Nodes[i]
		pid := node.ParentSpanID
		if pid == "" || pid == node.SpanID {
			continue
		}
		p, ok := index[pid]
		if !ok {
			logger.Debug("parent span not found, treating as root",
				zap.String("span_id", node.SpanID),
				zap.String("trace_id", node.TraceID),
				zap.String("parent_span_id", pid))
			continue
		}
		if p == i {
			continue
		}
		if f.Nodes[p].CapturedAt > node.CapturedAt {
			logger.Debug("parent captured after child, treating as root",
				zap.String("span_id", node.SpanID),
				zap.String("trace_id", node.TraceID),
				zap.String("parent_span_id", pid))
			continue
		}
		node.Parent = p
	}

	f.breakCycles(logger)

	for i := range f.Nodes {
		if p := f.Nodes[i].Parent; p >= 0 {
			f.Nodes[p].Children = append(f.Nodes[p].Children, i)
		} else {
			f.Roots = append(f.Roots, i)
		}
	}

	f.sortByCapture(f.Roots)
	for i := range f.Nodes {
		f.sortByCapture(f.Nodes[i].Children)
	}
	f.assignLevels()
	return f
}

// breakCycles promotes the earliest member of every parent cycle to a root.
func (f *Forest) breakCycles(logger *zap.Logger) {
	const (
		unvisited = iota
		onPath
		done
	)
	state := make([]uint8, len(f.Nodes))

	for i := range f.Nodes {
		if state[i] != unvisited {
			continue
		}
		var path []int
		j := i
		for j >= 0 && state[j] == unvisited {
			state[j] = onPath
			path = append(path, j)
			j = f.Nodes[j].Parent
		}
		if j >= 0 && state[j] == onPath {
			start := 0
			for path[start] != j {
				start++
			}
			cycle := path[start:]
			root := cycle[0]
			for _, k := range cycle[1:] {
				if f.Nodes[k].CapturedAt < f.Nodes[root].CapturedAt ||
					(f.Nodes[k].CapturedAt == f.Nodes[root].CapturedAt && k < root) {
					root = k
				}
			}
			f.Nodes[root].Parent = -1
			logger.Warn("parent cycle detected, promoting span to root",
				zap.String("span_id", f.Nodes[root].SpanID),
				zap.String("trace_id", f.Nodes[root].TraceID),
				zap.Int("cycle_length", len(cycle)))
		}
		for _, k := range path {
			state[k] = done
		}
	}
}

// sortByCapture orders arena indices by CapturedAt. Index lists are built in
// input order, so a stable sort keeps input order for ties.
func (f *Forest) sortByCapture(ids []int) {
	sort.SliceStable(ids, func(a, b int) bool {
		return f.Nodes[ids[a]].CapturedAt < f.Nodes[ids[b]].CapturedAt
	})
}

func (f *Forest) assignLevels() {
	queue := append([]int(nil), f.Roots...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range f.Nodes[id].Children {
			f.Nodes[child].Level = f.Nodes[id].Level + 1
			queue = append(queue, child)
		}
	}
}

// Flatten returns the forest in pre-order: each node precedes its
// descendants, and siblings appear in ascending CapturedAt order.
func (f *Forest) Flatten() []SpanNode {
	out := make([]SpanNode, 0, len(f.Nodes))
	stack := make([]int, 0, len(f.Roots))
	for i := len(f.Roots) - 1; i >= 0; i-- {
		stack = append(stack, f.Roots[i])
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, f.Nodes[id])
		children := f.Nodes[id].Children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return out
}

// BuildHierarchy builds the forest and returns its pre-order flattening.
func BuildHierarchy(spans []Span, opts HierarchyOptions) []SpanNode {
	if len(spans) == 0 {
		return nil
	}
	return BuildForest(spans, opts).Flatten()
}
