// LatencyRecorder exports derived latency samples and derivation outcomes as OTel metrics
// One histogram data point per turn sample, tagged with its dimension
package session

import (
	"context"

	"github.com/andrewh/turnscope/pkg/latency"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Derivation outcomes recorded on turnscope.derivation.count.
const (
	outcomeCommitted = "committed"
	outcomeCached    = "cached"
	outcomeStale     = "stale"
)

// LatencyRecorder records metrics for each committed snapshot.
type LatencyRecorder struct {
	latency     metric.Float64Histogram
	turns       metric.Int64Counter
	derivations metric.Int64Counter
	estimated   metric.Int64Counter
}

// NewLatencyRecorder creates a LatencyRecorder backed by the given MeterProvider.
func NewLatencyRecorder(mp metric.MeterProvider) (*LatencyRecorder, error) {
	meter := mp.Meter("github.com/andrewh/turnscope/pkg/session")

	lat, err := meter.Float64Histogram("turnscope.latency",
		metric.WithUnit("s"),
		metric.WithDescription("Per-turn latency samples by pipeline dimension"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1, 1.5, 2, 3, 5),
	)
	if err != nil {
		return nil, err
	}

	turnCount, err := meter.Int64Counter("turnscope.turn.count",
		metric.WithDescription("Number of turns segmented from committed snapshots"),
	)
	if err != nil {
		return nil, err
	}

	derivations, err := meter.Int64Counter("turnscope.derivation.count",
		metric.WithDescription("Number of derivation requests by outcome"),
	)
	if err != nil {
		return nil, err
	}

	estimated, err := meter.Int64Counter("turnscope.timeline.estimated.count",
		metric.WithDescription("Timeline entries sized by the transcript-length estimate"),
	)
	if err != nil {
		return nil, err
	}

	return &LatencyRecorder{
		latency:     lat,
		turns:       turnCount,
		derivations: derivations,
		estimated:   estimated,
	}, nil
}

// RecordSnapshot records the samples and counts of a committed snapshot.
func (r *LatencyRecorder) RecordSnapshot(ctx context.Context, snap *Snapshot) {
	platform := attribute.String("platform", string(snap.Platform))
	for _, tm := range snap.Report.Turns {
		for _, d := range latency.Dimensions {
			if v, ok := tm.Sample(d); ok {
				r.latency.Record(ctx, v, metric.WithAttributes(platform, attribute.String("dimension", string(d))))
			}
		}
	}
	r.turns.Add(ctx, int64(len(snap.Turns)))

	var estimated int64
	for _, e := range snap.Timeline {
		if e.Estimated {
			estimated++
		}
	}
	if estimated > 0 {
		r.estimated.Add(ctx, estimated)
	}
}

// RecordOutcome counts one derivation request.
func (r *LatencyRecorder) RecordOutcome(ctx context.Context, outcome string) {
	r.derivations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
