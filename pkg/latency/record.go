// Per-turn metric records supplied by the voice pipeline
// Stage sub-objects are optional; producers spell fields several ways, all in seconds
package latency

import (
	"encoding/json"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// STTMetrics describes speech-to-text for one turn.
type STTMetrics struct {
	Duration      float64 `json:"duration" yaml:"duration"`             // processing latency
	AudioDuration float64 `json:"audio_duration" yaml:"audio_duration"` // length of the transcribed speech
}

// LLMMetrics describes language-model inference for one turn.
type LLMMetrics struct {
	TTFT     *float64 `json:"ttft,omitempty" yaml:"ttft,omitempty"` // nil when not measured
	Duration float64  `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// TTSMetrics describes speech synthesis for one turn.
type TTSMetrics struct {
	TTFB          float64 `json:"ttfb" yaml:"ttfb"`
	Duration      float64 `json:"duration" yaml:"duration"`
	AudioDuration float64 `json:"audio_duration,omitempty" yaml:"audio_duration,omitempty"`
	Length        float64 `json:"length,omitempty" yaml:"length,omitempty"`
}

// EOUMetrics describes end-of-utterance detection for one turn.
type EOUMetrics struct {
	EndOfUtteranceDelay *float64 `json:"end_of_utterance_delay,omitempty" yaml:"end_of_utterance_delay,omitempty"` // nil when not measured
	TranscriptionDelay  float64  `json:"transcription_delay,omitempty" yaml:"transcription_delay,omitempty"`
}

// TurnRecord is the transcript and timing record for one conversation turn.
type TurnRecord struct {
	TurnID         string      `json:"turn_id,omitempty" yaml:"turn_id,omitempty"`
	TraceID        string      `json:"trace_id,omitempty" yaml:"trace_id,omitempty"`
	UserTranscript string      `json:"user_transcript,omitempty" yaml:"user_transcript,omitempty"`
	AgentResponse  string      `json:"agent_response,omitempty" yaml:"agent_response,omitempty"`
	STT            *STTMetrics `json:"stt,omitempty" yaml:"stt,omitempty"`
	LLM            *LLMMetrics `json:"llm,omitempty" yaml:"llm,omitempty"`
	TTS            *TTSMetrics `json:"tts,omitempty" yaml:"tts,omitempty"`
	EOU            *EOUMetrics `json:"eou,omitempty" yaml:"eou,omitempty"`
	TraceDuration  *float64    `json:"trace_duration,omitempty" yaml:"trace_duration,omitempty"`
	CallDuration   *float64    `json:"call_duration,omitempty" yaml:"call_duration,omitempty"`
}

// TranscriptLength is the combined character count of both sides of the turn.
func (r TurnRecord) TranscriptLength() int {
	return len([]rune(r.UserTranscript)) + len([]rune(r.AgentResponse))
}

// Alias lists, first match wins.
var (
	turnIDKeys        = []string{"turn_id", "turnId", "id"}
	traceIDKeys       = []string{"trace_id", "traceId"}
	userKeys          = []string{"user_transcript", "userTranscript", "user_text", "user"}
	agentKeys         = []string{"agent_response", "agentResponse", "agent_text", "assistant", "agent"}
	sttKeys           = []string{"stt", "stt_metrics", "sttMetrics"}
	llmKeys           = []string{"llm", "llm_metrics", "llmMetrics"}
	ttsKeys           = []string{"tts", "tts_metrics", "ttsMetrics"}
	eouKeys           = []string{"eou", "eou_metrics", "eouMetrics"}
	traceDurationKeys = []string{"trace_duration", "traceDuration", "duration"}
	callDurationKeys  = []string{"call_duration", "callDuration"}

	durationKeys      = []string{"duration", "processing_time"}
	audioDurationKeys = []string{"audio_duration", "audioDuration"}
	ttftKeys          = []string{"ttft", "time_to_first_token", "timeToFirstToken"}
	ttfbKeys          = []string{"ttfb", "time_to_first_byte", "timeToFirstByte"}
	lengthKeys        = []string{"length", "audio_length"}
	eouDelayKeys      = []string{"end_of_utterance_delay", "endOfUtteranceDelay", "eou_delay", "delay"}
	transcriptionKeys = []string{"transcription_delay", "transcriptionDelay"}
)

// ParseTurnRecord builds a TurnRecord from a loosely-typed producer record.
func ParseTurnRecord(m map[string]any) TurnRecord {
	r := TurnRecord{
		TurnID:         str(m, turnIDKeys),
		TraceID:        str(m, traceIDKeys),
		UserTranscript: str(m, userKeys),
		AgentResponse:  str(m, agentKeys),
	}
	if sub, ok := object(m, sttKeys); ok {
		r.STT = &STTMetrics{
			Duration:      num(sub, durationKeys),
			AudioDuration: num(sub, audioDurationKeys),
		}
	}
	if sub, ok := object(m, llmKeys); ok {
		r.LLM = &LLMMetrics{
			TTFT:     optPtr(sub, ttftKeys),
			Duration: num(sub, durationKeys),
		}
	}
	if sub, ok := object(m, ttsKeys); ok {
		r.TTS = &TTSMetrics{
			TTFB:          num(sub, ttfbKeys),
			Duration:      num(sub, durationKeys),
			AudioDuration: num(sub, audioDurationKeys),
			Length:        num(sub, lengthKeys),
		}
	}
	if sub, ok := object(m, eouKeys); ok {
		r.EOU = &EOUMetrics{
			EndOfUtteranceDelay: optPtr(sub, eouDelayKeys),
			TranscriptionDelay:  num(sub, transcriptionKeys),
		}
	}
	if f, ok := optNum(m, traceDurationKeys); ok {
		r.TraceDuration = &f
	}
	if f, ok := optNum(m, callDurationKeys); ok {
		r.CallDuration = &f
	}
	return r
}

// ParseTurnRecords converts a batch of raw records.
func ParseTurnRecords(records []map[string]any) []TurnRecord {
	out := make([]TurnRecord, len(records))
	for i, m := range records {
		out[i] = ParseTurnRecord(m)
	}
	return out
}

func (r *TurnRecord) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*r = ParseTurnRecord(m)
	return nil
}

func (r *TurnRecord) UnmarshalYAML(node *yaml.Node) error {
	var m map[string]any
	if err := node.Decode(&m); err != nil {
		return err
	}
	*r = ParseTurnRecord(m)
	return nil
}

func object(m map[string]any, keys []string) (map[string]any, bool) {
	for _, k := range keys {
		if sub, ok := m[k].(map[string]any); ok {
			return sub, true
		}
	}
	return nil, false
}

func str(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func num(m map[string]any, keys []string) float64 {
	f, _ := optNum(m, keys)
	return f
}

func optPtr(m map[string]any, keys []string) *float64 {
	if f, ok := optNum(m, keys); ok {
		return &f
	}
	return nil
}

func optNum(m map[string]any, keys []string) (float64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
