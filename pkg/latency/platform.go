// Platform flag deciding whether speech-to-text time is additive to turn latency
// Some platforms measure STT inside the turn, others bill and report it separately
package latency

import (
	"fmt"
	"strings"
)

// Platform selects the latency composition rule.
type Platform string

const (
	PlatformAuto        Platform = "auto"
	PlatformSTTIncluded Platform = "stt-included"
	PlatformSTTSeparate Platform = "stt-separate"
)

// IncludesSTT reports whether STT duration counts toward total and end-to-end latency.
func (p Platform) IncludesSTT() bool {
	return p == PlatformSTTIncluded
}

// ParsePlatform validates a platform name. The empty string means auto.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PlatformAuto:
		return PlatformAuto, nil
	case PlatformSTTIncluded, PlatformSTTSeparate:
		return p, nil
	default:
		return "", fmt.Errorf("unknown platform %q, valid platforms: auto, stt-included, stt-separate", s)
	}
}

// CallMetadata is the session-level information supplied alongside spans.
type CallMetadata struct {
	Duration     float64        `json:"duration,omitempty" yaml:"duration,omitempty"` // seconds
	RecordingURL string         `json:"recording_url,omitempty" yaml:"recording_url,omitempty"`
	Platform     Platform       `json:"platform,omitempty" yaml:"platform,omitempty"`
	Config       map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// sttIncludedConfigKeys mark hosted pipelines that report transcription inside the turn.
var sttIncludedConfigKeys = []string{"transcriber", "stt_config", "sttConfig"}

// Resolve returns an explicit platform unchanged and resolves auto from the
// call metadata: an explicit platform on the call wins, otherwise the presence
// of a transcriber configuration marks STT as included. With no signal at all
// STT is treated as separate.
func Resolve(p Platform, call CallMetadata) Platform {
	if p != "" && p != PlatformAuto {
		return p
	}
	if call.Platform != "" && call.Platform != PlatformAuto {
		return call.Platform
	}
	return DetectPlatform(call)
}

// DetectPlatform applies the configuration-field heuristic only.
func DetectPlatform(call CallMetadata) Platform {
	for _, k := range sttIncludedConfigKeys {
		if _, ok := call.Config[k]; ok {
			return PlatformSTTIncluded
		}
	}
	return PlatformSTTSeparate
}
