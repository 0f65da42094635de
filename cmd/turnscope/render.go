// Output rendering for derived views: go-pretty tables, JSON or YAML
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/andrewh/turnscope/pkg/latency"
	"github.com/andrewh/turnscope/pkg/timeline"
	"github.com/andrewh/turnscope/pkg/turns"
	"github.com/andrewh/turnscope/pkg/waterfall"
	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// encode writes v as JSON or YAML. It reports false for table output.
func encode(w io.Writer, output string, v any) (bool, error) {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	default:
		return false, nil
	}
}

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}

var titleCase = cases.Title(language.English)

func renderTurns(w io.Writer, output string, ts []turns.Turn) error {
	if done, err := encode(w, output, ts); done {
		return err
	}
	if len(ts) == 0 {
		_, err := fmt.Fprintln(w, "No turns found.")
		return err
	}
	t := newTable(w, table.Row{"#", "ID", "Type", "Title", "Spans", "Duration"})
	for _, turn := range ts {
		t.AppendRow(table.Row{
			turn.Index,
			turn.ID,
			string(turn.Type),
			turn.Title,
			len(turn.Spans),
			latency.FormatSeconds(turn.Duration / 1000),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", spanTotal(ts), ""})
	t.Render()
	return nil
}

func spanTotal(ts []turns.Turn) int {
	var n int
	for _, turn := range ts {
		n += len(turn.Spans)
	}
	return n
}

func renderStats(w io.Writer, output string, r latency.Report) error {
	if done, err := encode(w, output, r); done {
		return err
	}
	t := newTable(w, table.Row{"Stage", "Count", "Avg", "Min", "Max", "P50", "P75"})
	for _, d := range latency.Dimensions {
		s := r.Stats(d)
		if s.Count == 0 {
			t.AppendRow(table.Row{dimensionLabel(d), 0, "-", "-", "-", "-", "-"})
			continue
		}
		t.AppendRow(table.Row{
			dimensionLabel(d),
			s.Count,
			latency.FormatSeconds(s.Avg),
			latency.FormatSeconds(s.Min),
			latency.FormatSeconds(s.Max),
			latency.FormatSeconds(s.P50),
			latency.FormatSeconds(s.P75),
		})
	}
	t.SetCaption("platform: %s, p50 total %s, p50 agent response %s, p50 end-to-end %s",
		r.Platform,
		latency.FormatSeconds(r.P50TotalLatency),
		latency.FormatSeconds(r.P50AgentResponseTime),
		latency.FormatSeconds(r.P50EndToEndLatency))
	t.Render()
	return nil
}

var dimensionLabels = map[latency.Dimension]string{
	latency.DimSTT: "STT",
	latency.DimLLM: "LLM TTFT",
	latency.DimTTS: "TTS TTFB",
	latency.DimEOU: "EOU delay",
}

// dimensionLabel returns the display name, title-casing composite dimensions.
func dimensionLabel(d latency.Dimension) string {
	if l, ok := dimensionLabels[d]; ok {
		return l
	}
	return titleCase.String(strings.ReplaceAll(string(d), "_", " "))
}

// waterfallView is the serialisable waterfall: summary plus bars per group.
type waterfallView struct {
	Summary waterfall.Summary `json:"summary" yaml:"summary"`
	Groups  []groupView       `json:"groups" yaml:"groups"`
}

type groupView struct {
	waterfall.TraceGroup `yaml:",inline"`
	Bars                 []waterfall.Bar `json:"bars" yaml:"bars"`
}

func newWaterfallView(groups []waterfall.TraceGroup) waterfallView {
	v := waterfallView{Summary: waterfall.Summarize(groups), Groups: make([]groupView, len(groups))}
	for i, g := range groups {
		v.Groups[i] = groupView{TraceGroup: g, Bars: waterfall.Layout(g)}
	}
	return v
}

// barWidth is the number of cells in the rendered bar column.
const barWidth = 40

func renderWaterfall(w io.Writer, output string, groups []waterfall.TraceGroup) error {
	view := newWaterfallView(groups)
	if done, err := encode(w, output, view); done {
		return err
	}
	if len(groups) == 0 {
		_, err := fmt.Fprintln(w, "No traces found.")
		return err
	}
	for _, g := range view.Groups {
		t := newTable(w, table.Row{"Span", "Type", "Start", "Duration", "Waterfall"})
		t.SetTitle("trace %s: %d spans, %d errors, %s (%s)",
			g.TraceID, g.SpanCount, g.ErrorCount, latency.FormatSeconds(g.DurationMs/1000), g.OperationSummary)
		for _, bar := range g.Bars {
			name := bar.Span.Name
			if bar.Span.IsError() {
				name += " (error)"
			}
			t.AppendRow(table.Row{
				name,
				string(bar.Span.OperationType),
				strconv.FormatFloat(bar.StartPercent, 'f', 1, 64) + "%",
				latency.FormatSeconds(bar.Span.DurationMs / 1000),
				drawBar(bar.StartPercent, bar.WidthPercent),
			})
		}
		t.Render()
	}
	s := view.Summary
	_, err := fmt.Fprintf(w, "%d traces, %d spans, %d errors over %s\n",
		s.Traces, s.Spans, s.Errors, latency.FormatSeconds(s.DurationMs/1000))
	return err
}

// drawBar renders a percentage interval as a fixed-width cell string.
func drawBar(start, width float64) string {
	from := int(start / 100 * barWidth)
	from = max(0, min(from, barWidth-1))
	cells := max(1, int(width/100*barWidth+0.5))
	cells = min(cells, barWidth-from)
	buf := make([]rune, barWidth)
	for i := range buf {
		buf[i] = '·'
		if i >= from && i < from+cells {
			buf[i] = '█'
		}
	}
	return string(buf)
}

func renderTimeline(w io.Writer, output string, entries []timeline.Entry) error {
	if done, err := encode(w, output, entries); done {
		return err
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No turns found.")
		return err
	}
	t := newTable(w, table.Row{"#", "Turn", "Start", "End", "Latency", "Audio", "Estimated"})
	for _, e := range entries {
		estimated := ""
		if e.Estimated {
			estimated = "yes"
		}
		t.AppendRow(table.Row{
			e.Index,
			e.TurnID,
			strconv.FormatFloat(e.StartTime, 'f', 2, 64),
			strconv.FormatFloat(e.EndTime, 'f', 2, 64),
			latency.FormatSeconds(e.Latency),
			latency.FormatSeconds(e.AudioDuration),
			estimated,
		})
	}
	t.AppendFooter(table.Row{"", "Total", "", strconv.FormatFloat(timeline.Total(entries), 'f', 2, 64), "", "", ""})
	t.Render()
	return nil
}

func renderDirectives(w io.Writer, output string, at float64, ds []timeline.Directive) error {
	if output == "json" {
		for _, d := range ds {
			line := struct {
				At float64 `json:"at"`
				timeline.Directive
			}{at, d}
			if err := json.NewEncoder(w).Encode(line); err != nil {
				return err
			}
		}
		return nil
	}
	for _, d := range ds {
		if _, err := fmt.Fprintf(w, "%8.2fs  %-9s turn %d  %s\n", at, d.Kind, d.Index, d.TurnID); err != nil {
			return err
		}
	}
	return nil
}
