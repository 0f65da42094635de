// Package turns groups the flattened span sequence into conversation turns.
// Turn boundaries come only from reserved span names; everything between two
// boundaries belongs to the turn opened by the first.
package turns

import (
	"strconv"

	"github.com/andrewh/turnscope/pkg/spans"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// Type classifies a turn by its opening span.
type Type string

const (
	SessionManagement Type = "sessionManagement"
	UserTurn          Type = "userTurn"
	AssistantTurn     Type = "assistantTurn"
)

// Turn is a conversationally meaningful run of spans.
type Turn struct {
	ID        string           `json:"id" yaml:"id"`
	Index     int              `json:"index" yaml:"index"`
	Type      Type             `json:"type" yaml:"type"`
	Title     string           `json:"title" yaml:"title"`
	Spans     []spans.SpanNode `json:"spans" yaml:"spans"`
	StartTime float64          `json:"start_time" yaml:"start_time"` // CapturedAt of MainSpan
	Duration  float64          `json:"duration_ms" yaml:"duration_ms"`
	MainSpan  spans.Span       `json:"main_span" yaml:"main_span"`
}

// End is StartTime plus the additive duration, in seconds.
func (t Turn) End() float64 {
	return t.StartTime + t.Duration/1000
}

// TraceIDs lists the distinct trace IDs of the member spans in encounter order.
func (t Turn) TraceIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, s := range t.Spans {
		if !seen[s.TraceID] {
			seen[s.TraceID] = true
			ids = append(ids, s.TraceID)
		}
	}
	return ids
}

var titles = map[string]string{
	spans.NameStartAgentActivity: "Session Start",
	spans.NameDrainAgentActivity: "Session End",
	spans.NameUserTurn:           "User Turn",
	spans.NameAssistantTurn:      "Assistant Turn",
}

// turnNamespace seeds the name-based UUIDs used as turn IDs.
var turnNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("turnscope.turn"))

// Segment walks the pre-order span sequence and cuts it at boundary-marker
// spans. Spans before the first marker belong to no turn. A turn's Duration is
// the sum of its member span durations, not the wall-clock extent.
func Segment(nodes []spans.SpanNode) []Turn {
	fold := cases.Fold()
	var (
		result  []Turn
		current []spans.SpanNode
	)

	closeTurn := func() {
		if len(current) == 0 {
			return
		}
		result = append(result, newTurn(len(result), current, fold))
		current = nil
	}

	for _, node := range nodes {
		if _, boundary := titles[fold.String(node.Name)]; boundary {
			closeTurn()
			current = []spans.SpanNode{node}
			continue
		}
		if current != nil {
			current = append(current, node)
		}
	}
	closeTurn()
	return result
}

// IsBoundary reports whether name is one of the turn boundary markers.
func IsBoundary(name string) bool {
	_, ok := titles[cases.Fold().String(name)]
	return ok
}

func newTurn(index int, members []spans.SpanNode, fold cases.Caser) Turn {
	main := members[0].Span
	key := fold.String(main.Name)

	typ := SessionManagement
	switch key {
	case spans.NameUserTurn:
		typ = UserTurn
	case spans.NameAssistantTurn:
		typ = AssistantTurn
	}

	title, ok := titles[key]
	if !ok {
		title = main.Name
	}

	var duration float64
	for _, m := range members {
		duration += m.DurationMs
	}

	return Turn{
		ID:        TurnID(main, index),
		Index:     index,
		Type:      typ,
		Title:     title,
		Spans:     members,
		StartTime: main.CapturedAt,
		Duration:  duration,
		MainSpan:  main,
	}
}

// TurnID derives a stable ID from the opening span and the turn's position,
// so re-segmenting the same input yields the same IDs.
func TurnID(main spans.Span, index int) string {
	name := main.TraceID + "/" + main.SpanID + "/" + strconv.Itoa(index)
	return uuid.NewSHA1(turnNamespace, []byte(name)).String()
}
