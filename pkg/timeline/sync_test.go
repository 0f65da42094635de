package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoEntries() []Entry {
	return []Entry{
		{TurnID: "t0", Index: 0, StartTime: 0, EndTime: 5},
		{TurnID: "t1", Index: 1, StartTime: 5, EndTime: 12},
	}
}

func TestSynchronizer_HighlightThenClear(t *testing.T) {
	t.Parallel()

	s := NewSynchronizer(twoEntries())
	got := s.Update(6.0, true)
	assert.Equal(t, []Directive{
		{Kind: Highlight, TurnID: "t1", Index: 1},
		{Kind: Scroll, TurnID: "t1", Index: 1},
	}, got)
	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, "t1", active.TurnID)

	assert.Empty(t, s.Update(7.0, true), "same turn, no new directives")

	got = s.Update(7.0, false)
	assert.Equal(t, []Directive{{Kind: Clear, TurnID: "t1", Index: 1}}, got)
	_, ok = s.Active()
	assert.False(t, ok)

	assert.Empty(t, s.Update(7.0, false), "clear is emitted once")
}

func TestSynchronizer_NoMatchKeepsState(t *testing.T) {
	t.Parallel()

	s := NewSynchronizer(twoEntries())
	s.Update(1, true)
	assert.Empty(t, s.Update(50, true))
	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, "t0", active.TurnID)
}

func TestSynchronizer_NoEntries(t *testing.T) {
	t.Parallel()

	s := NewSynchronizer(nil)
	assert.Empty(t, s.Update(0, true))
	assert.Empty(t, s.Update(0, false))
}

func TestSynchronizer_SetEntries(t *testing.T) {
	t.Parallel()

	t.Run("active turn survives", func(t *testing.T) {
		t.Parallel()
		s := NewSynchronizer(twoEntries())
		s.Update(6, true)

		rebuilt := []Entry{
			{TurnID: "t0", Index: 0, StartTime: 0, EndTime: 3},
			{TurnID: "t1", Index: 1, StartTime: 3, EndTime: 9},
		}
		assert.Empty(t, s.SetEntries(rebuilt))
		active, ok := s.Active()
		require.True(t, ok)
		assert.Equal(t, 9.0, active.EndTime)
		assert.Empty(t, s.Update(8, true))
	})

	t.Run("active turn removed", func(t *testing.T) {
		t.Parallel()
		s := NewSynchronizer(twoEntries())
		s.Update(6, true)
		got := s.SetEntries([]Entry{{TurnID: "other", StartTime: 0, EndTime: 1}})
		assert.Equal(t, []Directive{{Kind: Clear, TurnID: "t1", Index: 1}}, got)
		_, ok := s.Active()
		assert.False(t, ok)
	})

	t.Run("nothing active", func(t *testing.T) {
		t.Parallel()
		s := NewSynchronizer(nil)
		assert.Empty(t, s.SetEntries(twoEntries()))
		assert.Len(t, s.Entries(), 2)
	})
}
