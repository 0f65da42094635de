// Canonical span shape shared by every stage of the engine
// Producers disagree on field names and units; everything downstream sees only this form
package spans

import "strings"

// OperationType is the coarse category of a span.
type OperationType string

const (
	OpLLM                  OperationType = "llm"
	OpTTS                  OperationType = "tts"
	OpSTT                  OperationType = "stt"
	OpTool                 OperationType = "tool"
	OpUserInteraction      OperationType = "user_interaction"
	OpAssistantInteraction OperationType = "assistant_interaction"
	OpOther                OperationType = "other"
)

// Reserved span names that bound conversation turns.
const (
	NameUserTurn           = "user_turn"
	NameAssistantTurn      = "assistant_turn"
	NameStartAgentActivity = "start_agent_activity"
	NameDrainAgentActivity = "drain_agent_activity"
)

// UnknownID is used when a record carries no resolvable identifier.
const UnknownID = "unknown"

// Span is one recorded sub-operation of a voice conversation.
type Span struct {
	TraceID       string           `json:"trace_id" yaml:"trace_id"`
	SpanID        string           `json:"span_id" yaml:"span_id"`
	ParentSpanID  string           `json:"parent_span_id,omitempty" yaml:"parent_span_id,omitempty"` // empty for roots
	Name          string           `json:"name" yaml:"name"`
	OperationType OperationType    `json:"operation_type" yaml:"operation_type"`
	CapturedAt    float64          `json:"captured_at" yaml:"captured_at"` // seconds since epoch
	DurationMs    float64          `json:"duration_ms" yaml:"duration_ms"`
	Attributes    map[string]Value `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// EndTime is the instant the span finished, in seconds since epoch.
func (s Span) EndTime() float64 {
	return s.CapturedAt + s.DurationMs/1000
}

// Attr returns the named attribute, or a null Value.
func (s Span) Attr(key string) Value {
	return s.Attributes[key]
}

// HasErrorFlag reports whether the span carries attributes.error == true.
func (s Span) HasErrorFlag() bool {
	b, ok := s.Attributes["error"].AsBool()
	return ok && b
}

// IsError reports whether the span is flagged as an error or named like one.
func (s Span) IsError() bool {
	return s.HasErrorFlag() || strings.Contains(strings.ToLower(s.Name), "error")
}

// ParseOperationType maps producer spellings onto the canonical categories.
// Unknown values become OpOther.
func ParseOperationType(s string) OperationType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "llm", "inference", "chat", "completion":
		return OpLLM
	case "tts", "text_to_speech", "synthesis":
		return OpTTS
	case "stt", "speech_to_text", "asr", "transcription":
		return OpSTT
	case "tool", "function", "function_call", "tool_call":
		return OpTool
	case "user_interaction":
		return OpUserInteraction
	case "assistant_interaction":
		return OpAssistantInteraction
	default:
		return OpOther
	}
}

// InferOperationType guesses a category from a span name when the producer
// did not record one.
func InferOperationType(name string) OperationType {
	lower := strings.ToLower(name)
	switch {
	case lower == NameUserTurn:
		return OpUserInteraction
	case lower == NameAssistantTurn:
		return OpAssistantInteraction
	case strings.Contains(lower, "llm"):
		return OpLLM
	case strings.Contains(lower, "tts"):
		return OpTTS
	case strings.Contains(lower, "stt"), strings.Contains(lower, "transcri"):
		return OpSTT
	case strings.Contains(lower, "tool"), strings.Contains(lower, "function"):
		return OpTool
	default:
		return OpOther
	}
}
