package main

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewh/turnscope/pkg/latency"
	"github.com/andrewh/turnscope/pkg/timeline"
)

func TestDrawBar(t *testing.T) {
	t.Parallel()

	full := drawBar(0, 100)
	assert.Equal(t, barWidth, utf8.RuneCountInString(full))
	assert.Equal(t, strings.Repeat("█", barWidth), full)

	half := drawBar(50, 50)
	assert.Equal(t, strings.Repeat("·", 20)+strings.Repeat("█", 20), half)

	tiny := drawBar(100, 0.5)
	assert.Equal(t, barWidth, utf8.RuneCountInString(tiny))
	assert.True(t, strings.HasSuffix(tiny, "█"), "a bar at the end is still visible")
}

func TestDimensionLabel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "LLM TTFT", dimensionLabel(latency.DimLLM))
	assert.Equal(t, "Agent Response", dimensionLabel(latency.DimAgentResponse))
	assert.Equal(t, "End To End", dimensionLabel(latency.DimEndToEnd))
}

func TestRenderEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, renderTurns(&buf, "table", nil))
	assert.Equal(t, "No turns found.\n", buf.String())

	buf.Reset()
	require.NoError(t, renderWaterfall(&buf, "table", nil))
	assert.Equal(t, "No traces found.\n", buf.String())

	buf.Reset()
	require.NoError(t, renderTimeline(&buf, "json", nil))
	assert.Equal(t, "null\n", buf.String())
}

func TestRenderStats_ZeroCountRows(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, renderStats(&buf, "table", latency.Aggregate(nil, latency.PlatformSTTSeparate)))
	out := buf.String()
	assert.Contains(t, out, "EOU delay")
	assert.Contains(t, out, "platform: stt-separate")
	assert.NotContains(t, out, "ms │", "no values without samples")
}

func TestRenderDirectives(t *testing.T) {
	t.Parallel()

	ds := []timeline.Directive{{Kind: timeline.Highlight, TurnID: "abc", Index: 2}}

	var buf bytes.Buffer
	require.NoError(t, renderDirectives(&buf, "table", 1.5, ds))
	assert.Equal(t, "    1.50s  highlight turn 2  abc\n", buf.String())

	buf.Reset()
	require.NoError(t, renderDirectives(&buf, "json", 1.5, ds))
	assert.JSONEq(t, `{"at":1.5,"kind":"highlight","turn_id":"abc","index":2}`, buf.String())
}

func TestPauseSchedule(t *testing.T) {
	t.Parallel()

	s := newPauseSchedule([]float64{3, 1})
	assert.True(t, s.at(0))
	assert.False(t, s.at(1))
	assert.False(t, s.at(2))
	assert.True(t, s.at(5), "passing a mark resumes playback")

	both := newPauseSchedule([]float64{1, 2})
	assert.True(t, both.at(2.5), "two marks in one step cancel out")
}
