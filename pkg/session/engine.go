// Package session derives every view of a call session from one input batch.
// Derivations are pure functions of the batch, memoised by (session, version);
// a derivation that finishes after a newer version was committed is discarded.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/andrewh/turnscope/pkg/latency"
	"github.com/andrewh/turnscope/pkg/spans"
	"github.com/andrewh/turnscope/pkg/timeline"
	"github.com/andrewh/turnscope/pkg/turns"
	"github.com/andrewh/turnscope/pkg/waterfall"
	"github.com/dgraph-io/ristretto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrStale is returned when a newer version of the session was already committed.
var ErrStale = errors.New("stale derivation: a newer version was committed")

const defaultCacheSize = 64

// Batch is one refresh of a session's raw inputs.
// Version orders refreshes; zero asks the engine to assign the next version.
type Batch struct {
	SessionID string
	Version   uint64
	Records   []map[string]any // raw span records, normalised during derivation
	Spans     []spans.Span     // already-canonical spans, used before Records
	Turns     []latency.TurnRecord
	Call      latency.CallMetadata
}

// Snapshot is every derived structure for one session version.
type Snapshot struct {
	SessionID string                 `json:"session_id" yaml:"session_id"`
	Version   uint64                 `json:"version" yaml:"version"`
	Platform  latency.Platform       `json:"platform" yaml:"platform"`
	Call      latency.CallMetadata   `json:"call" yaml:"call"`
	Spans     []spans.Span           `json:"-" yaml:"-"`
	Hierarchy []spans.SpanNode       `json:"-" yaml:"-"`
	Turns     []turns.Turn           `json:"turns" yaml:"turns"`
	Report    latency.Report         `json:"report" yaml:"report"`
	Groups    []waterfall.TraceGroup `json:"groups" yaml:"groups"`
	Timeline  []timeline.Entry       `json:"timeline" yaml:"timeline"`
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	CacheSize      int64            // max cached snapshots (default 64)
	Platform       latency.Platform // auto resolves per batch from call metadata
	Timeline       timeline.Options
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider // defaults to the global provider
	MeterProvider  metric.MeterProvider // defaults to the global provider
}

// Engine derives and memoises session snapshots.
type Engine struct {
	opts     Options
	logger   *zap.Logger
	tracer   trace.Tracer
	recorder *LatencyRecorder
	cache    *ristretto.Cache

	mu     sync.Mutex
	issued map[string]uint64    // highest version handed out or seen per session
	latest map[string]*Snapshot // newest committed snapshot per session, never evicted
	closed bool
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = otel.GetMeterProvider()
	}
	if opts.Platform == "" {
		opts.Platform = latency.PlatformAuto
	}
	if opts.Timeline.Logger == nil {
		opts.Timeline.Logger = opts.Logger
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: opts.CacheSize * 10,
		MaxCost:     opts.CacheSize,
		BufferItems: 64,
		// Each snapshot costs 1, so MaxCost counts snapshots.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating snapshot cache: %w", err)
	}

	recorder, err := NewLatencyRecorder(opts.MeterProvider)
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("creating latency recorder: %w", err)
	}

	return &Engine{
		opts:     opts,
		logger:   opts.Logger,
		tracer:   opts.TracerProvider.Tracer("github.com/andrewh/turnscope/pkg/session"),
		recorder: recorder,
		cache:    cache,
		issued:   make(map[string]uint64),
		latest:   make(map[string]*Snapshot),
	}, nil
}

// Close releases the snapshot cache. Derivations committed afterwards are
// still tracked by Latest but no longer memoised.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.cache.Close()
}

func cacheKey(sessionID string, version uint64) string {
	return sessionID + "@" + strconv.FormatUint(version, 10)
}

// NextVersion reserves the next version number for a session.
func (e *Engine) NextVersion(sessionID string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.issued[sessionID]++
	return e.issued[sessionID]
}

// Derive returns the snapshot for the batch, deriving it unless the same
// version is already committed or cached. ErrStale is returned without
// deriving when a newer version is already committed, and instead of
// committing when one was committed while this derivation ran.
func (e *Engine) Derive(ctx context.Context, b Batch) (*Snapshot, error) {
	if b.Version == 0 {
		b.Version = e.NextVersion(b.SessionID)
	} else {
		e.mu.Lock()
		e.issued[b.SessionID] = max(e.issued[b.SessionID], b.Version)
		e.mu.Unlock()
	}

	if e.isStale(b.SessionID, b.Version) {
		e.recorder.RecordOutcome(ctx, outcomeStale)
		return nil, ErrStale
	}
	if snap, ok := e.Snapshot(b.SessionID, b.Version); ok {
		e.recorder.RecordOutcome(ctx, outcomeCached)
		return snap, nil
	}

	snap := e.derive(ctx, b)

	e.mu.Lock()
	if latest, seen := e.latest[b.SessionID]; seen && b.Version < latest.Version {
		e.mu.Unlock()
		e.logger.Debug("discarding stale derivation",
			zap.String("session_id", b.SessionID),
			zap.Uint64("version", b.Version),
			zap.Uint64("committed", latest.Version))
		e.recorder.RecordOutcome(ctx, outcomeStale)
		return nil, ErrStale
	}
	e.latest[b.SessionID] = snap
	if !e.closed {
		// Admission may reject the set; the latest map stays authoritative.
		e.cache.Set(cacheKey(b.SessionID, b.Version), snap, 1)
	}
	e.mu.Unlock()

	e.recorder.RecordOutcome(ctx, outcomeCommitted)
	e.recorder.RecordSnapshot(ctx, snap)
	return snap, nil
}

// Latest returns the most recently committed snapshot of a session.
func (e *Engine) Latest(sessionID string) (*Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap, ok := e.latest[sessionID]
	return snap, ok
}

// Snapshot returns a committed snapshot by version. The latest version is
// always available; older ones only while the cache holds them.
func (e *Engine) Snapshot(sessionID string, version uint64) (*Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if snap, ok := e.latest[sessionID]; ok && snap.Version == version {
		return snap, true
	}
	if e.closed {
		return nil, false
	}
	v, ok := e.cache.Get(cacheKey(sessionID, version))
	if !ok {
		return nil, false
	}
	snap, ok := v.(*Snapshot)
	return snap, ok
}

func (e *Engine) isStale(sessionID string, version uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	latest, seen := e.latest[sessionID]
	return seen && version < latest.Version
}

// derive runs every stage. The turn branch (hierarchy, turns, latency,
// timeline) and the waterfall branch run concurrently over the same
// read-only span slice.
func (e *Engine) derive(ctx context.Context, b Batch) *Snapshot {
	ctx, span := e.tracer.Start(ctx, "session.derive", trace.WithAttributes(
		attribute.String("session.id", b.SessionID),
		attribute.Int64("session.version", int64(b.Version)), //nolint:gosec // versions stay far below 2^63
	))
	defer span.End()

	platform := latency.Resolve(e.opts.Platform, b.Call)
	snap := &Snapshot{
		SessionID: b.SessionID,
		Version:   b.Version,
		Platform:  platform,
		Call:      b.Call,
	}

	all := b.Spans
	if len(b.Records) > 0 {
		e.stage(ctx, "session.normalize", func(span trace.Span) {
			normalized := spans.Normalize(b.Records, spans.NormalizeOptions{Logger: e.logger})
			all = append(append(make([]spans.Span, 0, len(b.Spans)+len(normalized)), b.Spans...), normalized...)
			span.SetAttributes(
				attribute.Int("records.count", len(b.Records)),
				attribute.Int("spans.count", len(normalized)),
			)
		})
	}
	snap.Spans = all

	var wg sync.WaitGroup
	wg.Go(func() {
		e.stage(ctx, "session.hierarchy", func(span trace.Span) {
			snap.Hierarchy = spans.BuildHierarchy(all, spans.HierarchyOptions{Logger: e.logger})
			span.SetAttributes(attribute.Int("nodes.count", len(snap.Hierarchy)))
		})
		e.stage(ctx, "session.turns", func(span trace.Span) {
			snap.Turns = turns.Segment(snap.Hierarchy)
			span.SetAttributes(attribute.Int("turns.count", len(snap.Turns)))
		})
		e.stage(ctx, "session.latency", func(span trace.Span) {
			snap.Report = latency.Aggregate(b.Turns, platform)
			span.SetAttributes(attribute.Int("records.count", len(b.Turns)))
		})
		e.stage(ctx, "session.timeline", func(span trace.Span) {
			opts := e.opts.Timeline
			opts.Platform = platform
			snap.Timeline = timeline.Build(snap.Turns, b.Turns, opts)
			span.SetAttributes(attribute.Float64("timeline.total_seconds", timeline.Total(snap.Timeline)))
		})
	})
	wg.Go(func() {
		e.stage(ctx, "session.waterfall", func(span trace.Span) {
			snap.Groups = waterfall.GroupByTrace(all)
			span.SetAttributes(attribute.Int("groups.count", len(snap.Groups)))
		})
	})
	wg.Wait()

	span.SetAttributes(
		attribute.Int("spans.count", len(all)),
		attribute.Int("turns.count", len(snap.Turns)),
		attribute.String("platform", string(platform)),
	)
	return snap
}

func (e *Engine) stage(ctx context.Context, name string, fn func(span trace.Span)) {
	_, span := e.tracer.Start(ctx, name)
	defer span.End()
	fn(span)
}
