// Package timeline projects turns onto one continuous playback axis and maps a
// playback position back to the turn that produced the audio.
// Turn slices are estimates built from measured latency and audio durations.
package timeline

import (
	"github.com/andrewh/turnscope/pkg/latency"
	"github.com/andrewh/turnscope/pkg/turns"
	"go.uber.org/zap"
)

// Entry is one turn's slice of the playback axis, in seconds from the start.
type Entry struct {
	TurnID        string  `json:"turn_id" yaml:"turn_id"`
	Index         int     `json:"index" yaml:"index"`
	StartTime     float64 `json:"start_time" yaml:"start_time"`
	EndTime       float64 `json:"end_time" yaml:"end_time"`
	Latency       float64 `json:"latency" yaml:"latency"`
	AudioDuration float64 `json:"audio_duration" yaml:"audio_duration"`
	Estimated     bool    `json:"estimated,omitempty" yaml:"estimated,omitempty"` // heuristic fallback was used
}

// Duration is the length of the entry's slice.
func (e Entry) Duration() float64 { return e.EndTime - e.StartTime }

// Contains reports whether t lies in [StartTime, EndTime].
func (e Entry) Contains(t float64) bool { return e.StartTime <= t && t <= e.EndTime }

// Options controls Build.
type Options struct {
	Platform       latency.Platform
	MinFallback    float64 // seconds
	MaxFallback    float64 // seconds
	SecondsPerChar float64
	Logger         *zap.Logger
}

// DefaultOptions returns the standard fallback constants: 2s to 10s at 0.05s per character.
func DefaultOptions() Options {
	return Options{
		Platform:       latency.PlatformSTTSeparate,
		MinFallback:    2,
		MaxFallback:    10,
		SecondsPerChar: 0.05,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Platform == "" {
		o.Platform = d.Platform
	}
	if o.MinFallback <= 0 {
		o.MinFallback = d.MinFallback
	}
	if o.MaxFallback < o.MinFallback {
		o.MaxFallback = max(d.MaxFallback, o.MinFallback)
	}
	if o.SecondsPerChar <= 0 {
		o.SecondsPerChar = d.SecondsPerChar
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// transcriptAttributes are span attributes counted when a turn has no record.
var transcriptAttributes = []string{"user_transcript", "agent_response", "transcript", "text"}

// Build lays the turns end to end. Each entry starts where the previous one
// ended; a turn without any measurement gets a transcript-length estimate.
func Build(ts []turns.Turn, records []latency.TurnRecord, opts Options) []Entry {
	opts = opts.withDefaults()
	logger := opts.Logger

	matched := matchRecords(ts, records)
	entries := make([]Entry, 0, len(ts))
	var cumulative float64

	for i, t := range ts {
		rec := matched[i]
		entry := Entry{TurnID: t.ID, Index: i}

		var duration float64
		if rec != nil {
			if l, ok := latency.TotalTurnLatency(*rec, opts.Platform); ok {
				entry.Latency = l
			}
			entry.AudioDuration = audioDuration(*rec)
			duration = entry.Latency + entry.AudioDuration
			// The first turn conventionally has no preceding user utterance.
			if i > 0 {
				if rec.STT != nil {
					duration += rec.STT.AudioDuration
				}
				if rec.TTS != nil {
					duration += rec.TTS.AudioDuration
				}
			}
		}

		// Negative or NaN sums from malformed records take the estimate too.
		if !(duration > 0) {
			chars := transcriptLength(t, rec)
			duration = max(opts.MinFallback, min(opts.MaxFallback, float64(chars)*opts.SecondsPerChar))
			entry.Estimated = true
			logger.Warn("no latency or audio measurements for turn, using transcript estimate",
				zap.String("turn_id", t.ID),
				zap.Int("index", i),
				zap.Int("transcript_chars", chars),
				zap.Float64("estimate_seconds", duration))
		}

		entry.StartTime = cumulative
		entry.EndTime = cumulative + duration
		cumulative = entry.EndTime
		entries = append(entries, entry)
	}
	return entries
}

// audioDuration returns the first positive duration signal: trace duration,
// call duration, then the synthesis audio duration, duration and length.
func audioDuration(r latency.TurnRecord) float64 {
	candidates := make([]float64, 0, 5)
	if r.TraceDuration != nil {
		candidates = append(candidates, *r.TraceDuration)
	}
	if r.CallDuration != nil {
		candidates = append(candidates, *r.CallDuration)
	}
	if r.TTS != nil {
		candidates = append(candidates, r.TTS.AudioDuration, r.TTS.Duration, r.TTS.Length)
	}
	for _, c := range candidates {
		if c > 0 {
			return c
		}
	}
	return 0
}

func transcriptLength(t turns.Turn, rec *latency.TurnRecord) int {
	if rec != nil {
		if n := rec.TranscriptLength(); n > 0 {
			return n
		}
	}
	var n int
	for _, s := range t.Spans {
		for _, key := range transcriptAttributes {
			if text, ok := s.Attr(key).AsString(); ok {
				n += len([]rune(text))
			}
		}
	}
	return n
}

// matchRecords pairs each turn with at most one record. When records carry
// identifiers they are matched by turn ID, then by trace ID; otherwise they
// pair with turns by position.
func matchRecords(ts []turns.Turn, records []latency.TurnRecord) []*latency.TurnRecord {
	matched := make([]*latency.TurnRecord, len(ts))
	if len(records) == 0 {
		return matched
	}

	keyed := false
	for _, r := range records {
		if r.TurnID != "" || r.TraceID != "" {
			keyed = true
			break
		}
	}
	if !keyed {
		for i := range ts {
			if i < len(records) {
				matched[i] = &records[i]
			}
		}
		return matched
	}

	claimed := make([]bool, len(records))
	byTurn := make(map[string]int)
	byTrace := make(map[string][]int)
	for i, r := range records {
		if r.TurnID != "" {
			if _, dup := byTurn[r.TurnID]; !dup {
				byTurn[r.TurnID] = i
			}
		}
		if r.TraceID != "" {
			byTrace[r.TraceID] = append(byTrace[r.TraceID], i)
		}
	}

	for i, t := range ts {
		if j, ok := byTurn[t.ID]; ok && !claimed[j] {
			claimed[j] = true
			matched[i] = &records[j]
		}
	}
	for i, t := range ts {
		if matched[i] != nil {
			continue
		}
	traces:
		for _, traceID := range t.TraceIDs() {
			for _, j := range byTrace[traceID] {
				if !claimed[j] {
					claimed[j] = true
					matched[i] = &records[j]
					break traces
				}
			}
		}
	}
	return matched
}

// Lookup returns the index of the first entry containing t.
func Lookup(entries []Entry, t float64) (int, bool) {
	for i, e := range entries {
		if e.Contains(t) {
			return i, true
		}
	}
	return -1, false
}

// Total is the end of the last entry, or 0.
func Total(entries []Entry) float64 {
	if len(entries) == 0 {
		return 0
	}
	return entries[len(entries)-1].EndTime
}
