// Package waterfall groups a session's spans by trace for the waterfall view.
// Groups carry summary counts; Layout derives proportional bar coordinates on demand.
package waterfall

import (
	"sort"
	"strconv"
	"strings"

	"github.com/andrewh/turnscope/pkg/spans"
)

// TraceGroup is the set of spans sharing one trace ID.
type TraceGroup struct {
	TraceID          string       `json:"trace_id" yaml:"trace_id"`
	Spans            []spans.Span `json:"spans" yaml:"spans"` // ascending CapturedAt
	StartTime        float64      `json:"start_time" yaml:"start_time"`
	EndTime          float64      `json:"end_time" yaml:"end_time"`
	DurationMs       float64      `json:"duration_ms" yaml:"duration_ms"`
	SpanCount        int          `json:"span_count" yaml:"span_count"`
	ErrorCount       int          `json:"error_count" yaml:"error_count"`
	OperationSummary string       `json:"operation_summary" yaml:"operation_summary"`
}

// GroupByTrace buckets spans by trace ID. Groups are ordered by StartTime and
// spans inside a group by CapturedAt, both stable with respect to input order.
func GroupByTrace(in []spans.Span) []TraceGroup {
	var order []string
	byTrace := make(map[string][]spans.Span)
	for _, s := range in {
		if _, ok := byTrace[s.TraceID]; !ok {
			order = append(order, s.TraceID)
		}
		byTrace[s.TraceID] = append(byTrace[s.TraceID], s)
	}

	groups := make([]TraceGroup, 0, len(order))
	for _, id := range order {
		groups = append(groups, newGroup(id, byTrace[id]))
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].StartTime < groups[j].StartTime
	})
	return groups
}

func newGroup(traceID string, members []spans.Span) TraceGroup {
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].CapturedAt < members[j].CapturedAt
	})

	g := TraceGroup{
		TraceID:   traceID,
		Spans:     members,
		StartTime: members[0].CapturedAt,
		EndTime:   members[0].EndTime(),
		SpanCount: len(members),
	}
	for _, s := range members {
		g.StartTime = min(g.StartTime, s.CapturedAt)
		g.EndTime = max(g.EndTime, s.EndTime())
		if s.IsError() {
			g.ErrorCount++
		}
	}
	g.DurationMs = (g.EndTime - g.StartTime) * 1000
	g.OperationSummary = OperationSummary(members)
	return g
}

// OperationSummary renders "<count> <type>" per operation type in encounter
// order, joined by " • ". Without any typed span it falls back to "<n> operations".
func OperationSummary(members []spans.Span) string {
	var order []spans.OperationType
	counts := make(map[spans.OperationType]int)
	for _, s := range members {
		if s.OperationType == "" {
			continue
		}
		if counts[s.OperationType] == 0 {
			order = append(order, s.OperationType)
		}
		counts[s.OperationType]++
	}
	if len(order) == 0 {
		return strconv.Itoa(len(members)) + " operations"
	}
	parts := make([]string, len(order))
	for i, t := range order {
		parts[i] = strconv.Itoa(counts[t]) + " " + string(t)
	}
	return strings.Join(parts, " • ")
}

// Summary totals a session's trace groups.
type Summary struct {
	Traces     int     `json:"traces" yaml:"traces"`
	Spans      int     `json:"spans" yaml:"spans"`
	Errors     int     `json:"errors" yaml:"errors"`
	StartTime  float64 `json:"start_time" yaml:"start_time"`
	EndTime    float64 `json:"end_time" yaml:"end_time"`
	DurationMs float64 `json:"duration_ms" yaml:"duration_ms"`
}

// Summarize totals the groups. The zero Summary is returned for no groups.
func Summarize(groups []TraceGroup) Summary {
	if len(groups) == 0 {
		return Summary{}
	}
	s := Summary{
		Traces:    len(groups),
		StartTime: groups[0].StartTime,
		EndTime:   groups[0].EndTime,
	}
	for _, g := range groups {
		s.Spans += g.SpanCount
		s.Errors += g.ErrorCount
		s.StartTime = min(s.StartTime, g.StartTime)
		s.EndTime = max(s.EndTime, g.EndTime)
	}
	s.DurationMs = (s.EndTime - s.StartTime) * 1000
	return s
}
