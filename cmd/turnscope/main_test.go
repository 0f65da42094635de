// Tests for the turnscope CLI commands
package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestInput(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// testSession has a measured user turn and an unmeasured assistant turn.
const testSession = `{
  "session_id": "call-1",
  "spans": [
    {"trace_id": "t1", "span_id": "s1", "name": "user_turn", "start_time": 1740830400, "duration_ms": 1000},
    {"trace_id": "t1", "span_id": "s2", "parent_span_id": "s1", "name": "llm_request", "start_time": 1740830400.2, "duration_ms": 400},
    {"trace_id": "t2", "span_id": "s3", "name": "assistant_turn", "start_time": 1740830402, "duration_ms": 800},
    {"trace_id": "t2", "span_id": "s4", "parent_span_id": "s3", "name": "tts_error", "start_time": 1740830402.1, "duration_ms": 300}
  ],
  "turns": [
    {"user_transcript": "hi", "agent_response": "hello", "llm": {"ttft": 0.4}, "tts": {"ttfb": 0.1, "duration": 0.3}},
    {}
  ]
}`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := rootCmd()
	root.SetArgs(args)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "turnscope dev")
}

func TestTurnsCommand(t *testing.T) {
	t.Parallel()
	path := writeTestInput(t, "session.json", testSession)

	t.Run("table", func(t *testing.T) {
		t.Parallel()
		out, err := execute(t, "turns", path)
		require.NoError(t, err)
		assert.Contains(t, out, "User Turn")
		assert.Contains(t, out, "Assistant Turn")
		assert.Contains(t, out, "userTurn")
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		out, err := execute(t, "turns", path, "-o", "json")
		require.NoError(t, err)

		var got []map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		require.Len(t, got, 2)
		assert.Equal(t, "userTurn", got[0]["type"])
		assert.Equal(t, "assistantTurn", got[1]["type"])
		assert.InDelta(t, 1400, got[0]["duration_ms"], 1e-6)
	})

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()
		out, err := execute(t, "turns", path, "--output", "yaml")
		require.NoError(t, err)
		assert.Contains(t, out, "type: userTurn")
	})
}

func TestStatsCommand(t *testing.T) {
	t.Parallel()
	path := writeTestInput(t, "session.json", testSession)

	out, err := execute(t, "stats", path, "-o", "json")
	require.NoError(t, err)

	var report struct {
		Platform string `json:"platform"`
		LLM      struct {
			Count int     `json:"count"`
			Avg   float64 `json:"avg"`
		} `json:"llm"`
		P50TotalLatency float64 `json:"p50_total_latency"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "stt-separate", report.Platform)
	assert.Equal(t, 1, report.LLM.Count)
	assert.InDelta(t, 0.4, report.LLM.Avg, 1e-9)
	assert.InDelta(t, 0.8, report.P50TotalLatency, 1e-9)

	out, err = execute(t, "stats", path, "--platform", "stt-included")
	require.NoError(t, err)
	assert.Contains(t, out, "LLM TTFT")
	assert.Contains(t, out, "platform: stt-included")
}

func TestWaterfallCommand(t *testing.T) {
	t.Parallel()
	path := writeTestInput(t, "session.json", testSession)

	out, err := execute(t, "waterfall", path)
	require.NoError(t, err)
	assert.Contains(t, out, "trace t1: 2 spans, 0 errors")
	assert.Contains(t, out, "trace t2: 2 spans, 1 errors")
	assert.Contains(t, out, "tts_error (error)")
	assert.Contains(t, out, "2 traces, 4 spans, 1 errors")

	out, err = execute(t, "waterfall", path, "-o", "json")
	require.NoError(t, err)
	var view struct {
		Summary struct {
			Traces int `json:"traces"`
		} `json:"summary"`
		Groups []struct {
			TraceID string `json:"trace_id"`
			Bars    []struct {
				WidthPercent float64 `json:"width_percent"`
			} `json:"bars"`
		} `json:"groups"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, 2, view.Summary.Traces)
	require.Len(t, view.Groups, 2)
	assert.Equal(t, "t1", view.Groups[0].TraceID)
	require.Len(t, view.Groups[0].Bars, 2)
	assert.InDelta(t, 100, view.Groups[0].Bars[0].WidthPercent, 1e-6)
}

func TestTimelineCommand(t *testing.T) {
	t.Parallel()
	path := writeTestInput(t, "session.json", testSession)

	out, err := execute(t, "timeline", path, "-o", "json")
	require.NoError(t, err)

	var entries []struct {
		StartTime float64 `json:"start_time"`
		EndTime   float64 `json:"end_time"`
		Estimated bool    `json:"estimated"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.InDelta(t, 1.1, entries[0].EndTime, 1e-9)
	assert.False(t, entries[0].Estimated)
	assert.InDelta(t, 1.1, entries[1].StartTime, 1e-9)
	assert.InDelta(t, 3.1, entries[1].EndTime, 1e-9)
	assert.True(t, entries[1].Estimated)

	out, err = execute(t, "timeline", path)
	require.NoError(t, err)
	assert.Contains(t, out, "3.10")
	assert.Contains(t, out, "yes")
}

func TestSpansOnlyInput(t *testing.T) {
	t.Parallel()

	path := writeTestInput(t, "spans.json", `[
		{"trace_id": "t1", "span_id": "s1", "name": "start_agent_activity", "start_time": 1740830400, "duration_ms": 10},
		{"trace_id": "t1", "span_id": "s2", "name": "user_turn", "start_time": 1740830401, "duration_ms": 500}
	]`)
	out, err := execute(t, "turns", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Session Start")
	assert.Contains(t, out, "User Turn")
}

func TestReplayCommand(t *testing.T) {
	t.Parallel()
	path := writeTestInput(t, "session.json", testSession)

	t.Run("simulated text", func(t *testing.T) {
		t.Parallel()
		out, err := execute(t, "replay", path, "--tick", "250ms")
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 5)
		assert.Contains(t, lines[0], "0.00s  highlight turn 0")
		assert.Contains(t, lines[1], "0.00s  scroll    turn 0")
		assert.Contains(t, lines[2], "1.25s  highlight turn 1")
		assert.Contains(t, lines[3], "1.25s  scroll    turn 1")
		assert.Contains(t, lines[4], "3.10s  clear     turn 1")
	})

	t.Run("pause marks", func(t *testing.T) {
		t.Parallel()
		out, err := execute(t, "replay", path, "--tick", "500ms", "--pause-at", "0.5,1.0", "-o", "json")
		require.NoError(t, err)

		var kinds []string
		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			var d struct {
				At    float64 `json:"at"`
				Kind  string  `json:"kind"`
				Index int     `json:"index"`
			}
			require.NoError(t, json.Unmarshal([]byte(line), &d))
			kinds = append(kinds, d.Kind+"@"+strconv.FormatFloat(d.At, 'f', 1, 64))
		}
		assert.Equal(t, []string{
			"highlight@0.0", "scroll@0.0",
			"clear@0.5",
			"highlight@1.0", "scroll@1.0",
			"highlight@1.5", "scroll@1.5",
			"clear@3.1",
		}, kinds)
	})

	t.Run("seek", func(t *testing.T) {
		t.Parallel()
		out, err := execute(t, "replay", path, "--seek", "2")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "2.00s  highlight turn 1"))
	})
}

func TestReplayRealtimeReload(t *testing.T) {
	t.Parallel()
	path := writeTestInput(t, "session.json", testSession)

	// Reloads keep deriving right up to the end of playback, when the engine closes.
	for range 5 {
		out, err := execute(t, "replay", path, "--realtime", "--seek", "3.0", "--tick", "10ms", "--reload", "1ms")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		assert.Contains(t, lines[len(lines)-1], "3.10s  clear     turn 1")
	}
}

func TestReplayCommandValidation(t *testing.T) {
	t.Parallel()
	path := writeTestInput(t, "session.json", testSession)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"zero tick", []string{"replay", path, "--tick", "0s"}, "--tick must be positive"},
		{"negative seek", []string{"replay", path, "--seek", "-1"}, "--seek must not be negative"},
		{"reload without realtime", []string{"replay", path, "--reload", "1s"}, "--reload requires --realtime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInputErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing input", []string{"turns"}, "missing input file"},
		{"too many inputs", []string{"turns", "a.json", "b.json"}, "accepts 1 arg"},
		{"unknown platform", []string{"stats", "x.json", "--platform", "vapi"}, "unknown platform"},
		{"unknown output", []string{"stats", "x.json", "-o", "xml"}, "unknown output"},
		{"unknown log level", []string{"stats", "x.json", "--log-level", "loud"}, "unknown log level"},
		{"bad cache size", []string{"stats", "x.json", "--cache-size", "0"}, "cache.max_sessions must be positive"},
		{"bad protocol", []string{"stats", "x.json", "--otel-protocol", "udp"}, "unsupported protocol"},
		{"session required", []string{"stats", "--db-dsn", ":memory:"}, "--session is required"},
		{"args with dsn", []string{"stats", "x.json", "--db-dsn", ":memory:"}, "unknown command"},
		{"nonexistent file", []string{"stats", "/nonexistent/session.json"}, "opening input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEmptyInput(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "turns", writeTestInput(t, "empty.json", "[]"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no span records")
	assert.Contains(t, err.Error(), "cat spans.json | turnscope turns -")
}

func TestConfigFile(t *testing.T) {
	t.Parallel()

	cfgPath := writeTestInput(t, "turnscope.yaml", "output: json\nplatform: stt-included\n")
	path := writeTestInput(t, "session.json", testSession)

	out, err := execute(t, "stats", path, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"platform": "stt-included"`)

	_, err = execute(t, "stats", path, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}

func TestDatabaseInput(t *testing.T) {
	t.Parallel()

	dsn := "file:" + filepath.Join(t.TempDir(), "sessions.db")
	seedDatabase(t, dsn)

	out, err := execute(t, "turns", "--db-dsn", dsn, "--session", "call-9", "-o", "json")
	require.NoError(t, err)
	var got []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "userTurn", got[0]["type"])

	_, err = execute(t, "turns", "--db-dsn", dsn, "--session", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
}
