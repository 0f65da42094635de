// Latency Aggregator: per-turn samples and cross-turn statistics
// Composite formulas are business definitions and must not drift
package latency

// Dimension names one latency series.
type Dimension string

const (
	DimSTT           Dimension = "stt"
	DimLLM           Dimension = "llm"
	DimTTS           Dimension = "tts"
	DimEOU           Dimension = "eou"
	DimAgentResponse Dimension = "agent_response"
	DimTotalTurn     Dimension = "total_turn"
	DimEndToEnd      Dimension = "end_to_end"
)

// Dimensions lists every series in report order.
var Dimensions = []Dimension{DimSTT, DimLLM, DimTTS, DimEOU, DimAgentResponse, DimTotalTurn, DimEndToEnd}

// TurnMetrics holds the optional samples of one turn. Nil means no sample.
type TurnMetrics struct {
	TurnID        string   `json:"turn_id,omitempty" yaml:"turn_id,omitempty"`
	STT           *float64 `json:"stt,omitempty" yaml:"stt,omitempty"`
	LLM           *float64 `json:"llm,omitempty" yaml:"llm,omitempty"`
	TTS           *float64 `json:"tts,omitempty" yaml:"tts,omitempty"`
	EOU           *float64 `json:"eou,omitempty" yaml:"eou,omitempty"`
	AgentResponse *float64 `json:"agent_response,omitempty" yaml:"agent_response,omitempty"`
	TotalTurn     *float64 `json:"total_turn,omitempty" yaml:"total_turn,omitempty"`
	EndToEnd      *float64 `json:"end_to_end,omitempty" yaml:"end_to_end,omitempty"`
}

// Sample returns the value of one dimension.
func (m TurnMetrics) Sample(d Dimension) (float64, bool) {
	var p *float64
	switch d {
	case DimSTT:
		p = m.STT
	case DimLLM:
		p = m.LLM
	case DimTTS:
		p = m.TTS
	case DimEOU:
		p = m.EOU
	case DimAgentResponse:
		p = m.AgentResponse
	case DimTotalTurn:
		p = m.TotalTurn
	case DimEndToEnd:
		p = m.EndToEnd
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Report is the aggregate latency view of a session.
type Report struct {
	Platform      Platform      `json:"platform" yaml:"platform"`
	STT           Stats         `json:"stt" yaml:"stt"`
	LLM           Stats         `json:"llm" yaml:"llm"`
	TTS           Stats         `json:"tts" yaml:"tts"`
	EOU           Stats         `json:"eou" yaml:"eou"`
	AgentResponse Stats         `json:"agent_response" yaml:"agent_response"`
	TotalTurn     Stats         `json:"total_turn" yaml:"total_turn"`
	EndToEnd      Stats         `json:"end_to_end" yaml:"end_to_end"`
	Turns         []TurnMetrics `json:"turns,omitempty" yaml:"turns,omitempty"`

	P50TotalLatency      float64 `json:"p50_total_latency" yaml:"p50_total_latency"`
	P50AgentResponseTime float64 `json:"p50_agent_response_time" yaml:"p50_agent_response_time"`
	P50EndToEndLatency   float64 `json:"p50_end_to_end_latency" yaml:"p50_end_to_end_latency"`
}

// Stats returns the summary of one dimension.
func (r Report) Stats(d Dimension) Stats {
	switch d {
	case DimSTT:
		return r.STT
	case DimLLM:
		return r.LLM
	case DimTTS:
		return r.TTS
	case DimEOU:
		return r.EOU
	case DimAgentResponse:
		return r.AgentResponse
	case DimTotalTurn:
		return r.TotalTurn
	case DimEndToEnd:
		return r.EndToEnd
	default:
		return Stats{}
	}
}

// PerTurn extracts the samples of one record.
func PerTurn(r TurnRecord, platform Platform) TurnMetrics {
	m := TurnMetrics{TurnID: r.TurnID}
	if r.STT != nil {
		m.STT = ptr(r.STT.Duration)
	}
	if ttft, ok := ttftTerm(r); ok {
		m.LLM = ptr(ttft)
	}
	if r.TTS != nil {
		m.TTS = ptr(r.TTS.TTFB)
	}
	if r.EOU != nil && r.EOU.EndOfUtteranceDelay != nil {
		m.EOU = ptr(*r.EOU.EndOfUtteranceDelay)
	}
	if v, ok := AgentResponseLatency(r); ok {
		m.AgentResponse = ptr(v)
	}
	if v, ok := TotalTurnLatency(r, platform); ok {
		m.TotalTurn = ptr(v)
	}
	if v, ok := EndToEndLatency(r, platform); ok {
		m.EndToEnd = ptr(v)
	}
	return m
}

// AgentResponseLatency is llm.ttft + tts.ttfb + tts.duration, defined only when
// the turn has both a user utterance and an agent reply and a measured TTFT.
func AgentResponseLatency(r TurnRecord) (float64, bool) {
	ttft, ok := ttftTerm(r)
	if r.UserTranscript == "" || r.AgentResponse == "" || !ok {
		return 0, false
	}
	return ttft + ttsTerm(r), true
}

// TotalTurnLatency is llm.ttft + tts.ttfb + tts.duration plus the STT duration
// when the platform counts STT in the total. Missing stages contribute zero;
// ok is false when no stage contributes at all.
func TotalTurnLatency(r TurnRecord, platform Platform) (float64, bool) {
	stt, hasSTT := sttTerm(r, platform)
	ttft, hasTTFT := ttftTerm(r)
	if !hasTTFT && r.TTS == nil && !hasSTT {
		return 0, false
	}
	return ttft + ttsTerm(r) + stt, true
}

// EndToEndLatency is eou.delay + stt term + llm.ttft + tts.ttfb + tts.duration,
// defined only when the EOU delay, the TTFT and a TTS record are all present.
func EndToEndLatency(r TurnRecord, platform Platform) (float64, bool) {
	ttft, ok := ttftTerm(r)
	if !ok || r.EOU == nil || r.EOU.EndOfUtteranceDelay == nil || r.TTS == nil {
		return 0, false
	}
	stt, _ := sttTerm(r, platform)
	return *r.EOU.EndOfUtteranceDelay + stt + ttft + ttsTerm(r), true
}

func ttftTerm(r TurnRecord) (float64, bool) {
	if r.LLM == nil || r.LLM.TTFT == nil {
		return 0, false
	}
	return *r.LLM.TTFT, true
}

func ttsTerm(r TurnRecord) float64 {
	if r.TTS == nil {
		return 0
	}
	return r.TTS.TTFB + r.TTS.Duration
}

func sttTerm(r TurnRecord, platform Platform) (float64, bool) {
	if !platform.IncludesSTT() || r.STT == nil {
		return 0, false
	}
	return r.STT.Duration, true
}

// Aggregate computes per-turn samples and the statistics of every dimension.
func Aggregate(records []TurnRecord, platform Platform) Report {
	report := Report{Platform: platform, Turns: make([]TurnMetrics, 0, len(records))}
	samples := make(map[Dimension][]float64, len(Dimensions))

	for _, r := range records {
		m := PerTurn(r, platform)
		report.Turns = append(report.Turns, m)
		for _, d := range Dimensions {
			if v, ok := m.Sample(d); ok {
				samples[d] = append(samples[d], v)
			}
		}
	}

	report.STT = ComputeStats(samples[DimSTT])
	report.LLM = ComputeStats(samples[DimLLM])
	report.TTS = ComputeStats(samples[DimTTS])
	report.EOU = ComputeStats(samples[DimEOU])
	report.AgentResponse = ComputeStats(samples[DimAgentResponse])
	report.TotalTurn = ComputeStats(samples[DimTotalTurn])
	report.EndToEnd = ComputeStats(samples[DimEndToEnd])

	report.P50TotalLatency = report.TotalTurn.P50
	report.P50AgentResponseTime = report.AgentResponse.P50
	report.P50EndToEndLatency = report.EndToEnd.P50
	return report
}

func ptr(f float64) *float64 { return &f }
