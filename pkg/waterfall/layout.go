// Proportional waterfall layout within one trace group
// Coordinates are percentages of the group's wall-clock extent
package waterfall

import "github.com/andrewh/turnscope/pkg/spans"

// MinWidthPercent keeps zero and near-zero duration spans visible.
const MinWidthPercent = 0.5

// Bar is one span's position in the waterfall.
type Bar struct {
	Span         spans.Span `json:"span" yaml:"span"`
	StartPercent float64    `json:"start_percent" yaml:"start_percent"`
	WidthPercent float64    `json:"width_percent" yaml:"width_percent"`
}

// Layout positions the group's spans. It is recomputed from the group on
// every call; bars are never stored on the spans. In a zero-duration group
// every bar starts at 0 with the minimum width.
func Layout(g TraceGroup) []Bar {
	bars := make([]Bar, len(g.Spans))
	for i, s := range g.Spans {
		bar := Bar{Span: s, WidthPercent: MinWidthPercent}
		if g.DurationMs > 0 {
			bar.StartPercent = (s.CapturedAt - g.StartTime) / (g.DurationMs / 1000) * 100
			bar.WidthPercent = max(s.DurationMs/g.DurationMs*100, MinWidthPercent)
		}
		bars[i] = bar
	}
	return bars
}
