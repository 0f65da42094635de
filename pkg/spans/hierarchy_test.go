// Unit tests for span forest reconstruction
// Covers ordering, orphans, self-parents, cycles and duplicate IDs
package spans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func ids(nodes []SpanNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.SpanID
	}
	return out
}

func levels(nodes []SpanNode) map[string]int {
	out := make(map[string]int, len(nodes))
	for _, n := range nodes {
		out[n.SpanID] = n.Level
	}
	return out
}

func TestBuildHierarchy_ParentChildAndSecondRoot(t *testing.T) {
	t.Parallel()

	in := []Span{
		{TraceID: "t", SpanID: "A", CapturedAt: 1},
		{TraceID: "t", SpanID: "B", ParentSpanID: "A", CapturedAt: 2},
		{TraceID: "t", SpanID: "C", CapturedAt: 3},
	}
	out := BuildHierarchy(in, HierarchyOptions{})
	assert.Equal(t, []string{"A", "B", "C"}, ids(out))
	assert.Equal(t, map[string]int{"A": 0, "B": 1, "C": 0}, levels(out))
}

func TestBuildHierarchy_Empty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, BuildHierarchy(nil, HierarchyOptions{}))
}

func TestBuildHierarchy_SiblingsSortedByCapture(t *testing.T) {
	t.Parallel()

	in := []Span{
		{SpanID: "root", CapturedAt: 0},
		{SpanID: "late", ParentSpanID: "root", CapturedAt: 5},
		{SpanID: "early", ParentSpanID: "root", CapturedAt: 1},
		{SpanID: "grandchild", ParentSpanID: "late", CapturedAt: 6},
		{SpanID: "mid", ParentSpanID: "root", CapturedAt: 3},
	}
	out := BuildHierarchy(in, HierarchyOptions{})
	assert.Equal(t, []string{"root", "early", "mid", "late", "grandchild"}, ids(out))
	assert.Equal(t, 2, levels(out)["grandchild"])
}

func TestBuildHierarchy_TiesKeepInputOrder(t *testing.T) {
	t.Parallel()

	in := []Span{
		{SpanID: "p", CapturedAt: 0},
		{SpanID: "x", ParentSpanID: "p", CapturedAt: 1},
		{SpanID: "y", ParentSpanID: "p", CapturedAt: 1},
		{SpanID: "z", ParentSpanID: "p", CapturedAt: 1},
		{SpanID: "r2", CapturedAt: 0},
	}
	out := BuildHierarchy(in, HierarchyOptions{})
	assert.Equal(t, []string{"p", "x", "y", "z", "r2"}, ids(out))
}

func TestBuildHierarchy_OrphanBecomesRoot(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	in := []Span{
		{TraceID: "t", SpanID: "a", CapturedAt: 1},
		{TraceID: "t", SpanID: "orphan", ParentSpanID: "missing", CapturedAt: 2},
	}
	out := BuildHierarchy(in, HierarchyOptions{Logger: zap.New(core)})
	assert.Equal(t, map[string]int{"a": 0, "orphan": 0}, levels(out))
	require.Equal(t, 1, logs.FilterMessage("parent span not found, treating as root").Len())
}

func TestBuildHierarchy_SelfParent(t *testing.T) {
	t.Parallel()

	in := []Span{{SpanID: "self", ParentSpanID: "self"}}
	out := BuildHierarchy(in, HierarchyOptions{})
	require.Len(t, out, 1)
	assert.Zero(t, out[0].Level)
}

func TestBuildHierarchy_CycleIsBroken(t *testing.T) {
	t.Parallel()

	// Equal capture times pass the ordering check, so only cycle detection
	// can break the loop.
	core, logs := observer.New(zapcore.WarnLevel)
	in := []Span{
		{SpanID: "a", ParentSpanID: "c", CapturedAt: 1},
		{SpanID: "b", ParentSpanID: "a", CapturedAt: 1},
		{SpanID: "c", ParentSpanID: "b", CapturedAt: 1},
		{SpanID: "tail", ParentSpanID: "a", CapturedAt: 4},
	}
	out := BuildHierarchy(in, HierarchyOptions{Logger: zap.New(core)})
	require.Len(t, out, 4, "no span is lost")
	assert.Equal(t, []string{"a", "b", "c", "tail"}, ids(out), "first member of the cycle becomes the root")
	assert.Equal(t, map[string]int{"a": 0, "b": 1, "c": 2, "tail": 1}, levels(out))
	assert.Equal(t, 1, logs.FilterMessage("parent cycle detected, promoting span to root").Len())
}

func TestBuildHierarchy_ParentCapturedAfterChild(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	in := []Span{
		{SpanID: "child", ParentSpanID: "parent", CapturedAt: 1},
		{SpanID: "parent", CapturedAt: 2},
		{SpanID: "sibling", ParentSpanID: "parent", CapturedAt: 2},
	}
	out := BuildHierarchy(in, HierarchyOptions{Logger: zap.New(core)})
	assert.Equal(t, []string{"child", "parent", "sibling"}, ids(out))
	assert.Equal(t, map[string]int{"child": 0, "parent": 0, "sibling": 1}, levels(out))
	assert.Equal(t, 1, logs.FilterMessage("parent captured after child, treating as root").Len())
}

func TestBuildHierarchy_DuplicateIDsLinkToFirst(t *testing.T) {
	t.Parallel()

	in := []Span{
		{SpanID: "dup", Name: "first", CapturedAt: 1},
		{SpanID: "dup", Name: "second", CapturedAt: 2},
		{SpanID: "kid", ParentSpanID: "dup", CapturedAt: 3},
	}
	out := BuildHierarchy(in, HierarchyOptions{})
	require.Len(t, out, 3)
	assert.Equal(t, "first", out[0].Name)
	assert.Equal(t, "kid", out[1].SpanID)
	assert.Equal(t, "second", out[2].Name)
}

func TestBuildForest_Arena(t *testing.T) {
	t.Parallel()

	in := []Span{
		{SpanID: "r", CapturedAt: 0},
		{SpanID: "c2", ParentSpanID: "r", CapturedAt: 2},
		{SpanID: "c1", ParentSpanID: "r", CapturedAt: 1},
	}
	f := BuildForest(in, HierarchyOptions{})
	require.Equal(t, []int{0}, f.Roots)
	assert.Equal(t, []int{2, 1}, f.Nodes[0].Children)
	assert.Equal(t, 0, f.Nodes[1].Parent)
	assert.Equal(t, -1, f.Nodes[0].Parent)
}
