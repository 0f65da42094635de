// Span Normalizer: coerces loosely-typed producer records into canonical Spans
// Each field is resolved from a fixed precedence list of historical field names
package spans

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Field precedence lists. Dotted paths descend into nested objects.
var (
	traceIDFields    = []string{"trace_id", "traceId", "context.trace_id", "context.traceId", "SpanContext.TraceID"}
	spanIDFields     = []string{"span_id", "spanId", "context.span_id", "context.spanId", "SpanContext.SpanID", "id"}
	parentIDFields   = []string{"parent_span_id", "parentSpanId", "parent_id", "parentId", "context.parent_span_id", "context.parent_id", "Parent.SpanID"}
	nameFields       = []string{"name", "span_name", "spanName", "operation_name", "Name"}
	opTypeFields     = []string{"operation_type", "operationType", "span_type", "type"}
	capturedAtFields = []string{"captured_at", "capturedAt", "start_time", "startTime", "timestamp", "StartTime", "created_at"}
	durationFields   = []string{"duration_ms", "durationMs", "duration"}
	endTimeFields    = []string{"end_time", "endTime", "EndTime"}
	attributeFields  = []string{"attributes", "metadata", "span_attributes", "Attributes"}
)

// NormalizeOptions controls normalisation.
type NormalizeOptions struct {
	Logger *zap.Logger // defaults to a no-op logger
}

func (o NormalizeOptions) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Normalize converts raw records into canonical spans, preserving input order.
// Only records with no name and no identifiers at all are dropped.
func Normalize(records []map[string]any, opts NormalizeOptions) []Span {
	logger := opts.logger()
	out := make([]Span, 0, len(records))
	for i, rec := range records {
		s, ok := NormalizeRecord(rec)
		if !ok {
			logger.Debug("dropping unidentifiable span record", zap.Int("index", i))
			continue
		}
		out = append(out, s)
	}
	return out
}

// NormalizeRecord converts a single raw record. ok is false when the record
// has neither a name nor any span or trace identifier.
func NormalizeRecord(rec map[string]any) (Span, bool) {
	traceID, hasTrace := firstString(rec, traceIDFields)
	spanID, hasSpan := firstString(rec, spanIDFields)
	name, hasName := firstString(rec, nameFields)
	if !hasTrace && !hasSpan && !hasName {
		return Span{}, false
	}
	if !hasTrace {
		traceID = UnknownID
	}
	if !hasSpan {
		spanID = UnknownID
	}

	parentID, _ := firstString(rec, parentIDFields)
	if isZeroID(parentID) || strings.EqualFold(parentID, "null") {
		parentID = ""
	}

	opType := InferOperationType(name)
	if raw, ok := firstString(rec, opTypeFields); ok {
		opType = ParseOperationType(raw)
	}

	captured, hasCaptured := firstSeconds(rec, capturedAtFields)

	duration, ok := firstNumber(rec, durationFields)
	if !ok {
		if end, hasEnd := firstSeconds(rec, endTimeFields); hasEnd && hasCaptured {
			duration = (end - captured) * 1000
		}
	}
	if duration < 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		duration = 0
	}

	return Span{
		TraceID:       traceID,
		SpanID:        spanID,
		ParentSpanID:  parentID,
		Name:          name,
		OperationType: opType,
		CapturedAt:    captured,
		DurationMs:    duration,
		Attributes:    firstAttributes(rec),
	}, true
}

// lookup resolves a dotted path through nested maps.
func lookup(rec map[string]any, path string) (any, bool) {
	cur := any(rec)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func firstString(rec map[string]any, paths []string) (string, bool) {
	for _, p := range paths {
		v, ok := lookup(rec, p)
		if !ok {
			continue
		}
		var s string
		switch x := v.(type) {
		case string:
			s = strings.TrimSpace(x)
		case json.Number:
			s = x.String()
		case float64:
			s = strconv.FormatFloat(x, 'f', -1, 64)
		case int:
			s = strconv.Itoa(x)
		case int64:
			s = strconv.FormatInt(x, 10)
		default:
			continue
		}
		if s != "" {
			return s, true
		}
	}
	return "", false
}

func firstNumber(rec map[string]any, paths []string) (float64, bool) {
	for _, p := range paths {
		v, ok := lookup(rec, p)
		if !ok {
			continue
		}
		if f, ok := toFloat(v); ok {
			return f, true
		}
	}
	return 0, false
}

func firstSeconds(rec map[string]any, paths []string) (float64, bool) {
	for _, p := range paths {
		v, ok := lookup(rec, p)
		if !ok {
			continue
		}
		if secs, ok := ToSeconds(v); ok {
			return secs, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ToSeconds converts a timestamp in any supported representation to
// fractional seconds since epoch: epoch numbers in s, ms, µs or ns (chosen by
// magnitude), numeric strings, RFC 3339 / ISO 8601 strings, and time.Time.
func ToSeconds(v any) (float64, bool) {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return 0, false
		}
		return timeSeconds(x), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epochSeconds(f), true
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return timeSeconds(t), true
			}
		}
		return 0, false
	default:
		f, ok := toFloat(v)
		if !ok {
			return 0, false
		}
		return epochSeconds(f), true
	}
}

func timeSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// epochSeconds scales an epoch number to seconds by its magnitude.
func epochSeconds(f float64) float64 {
	abs := math.Abs(f)
	switch {
	case abs > 1e17:
		return f / 1e9
	case abs > 1e14:
		return f / 1e6
	case abs > 1e11:
		return f / 1e3
	default:
		return f
	}
}

func firstAttributes(rec map[string]any) map[string]Value {
	for _, p := range attributeFields {
		v, ok := lookup(rec, p)
		if !ok {
			continue
		}
		switch x := v.(type) {
		case map[string]any:
			attrs := make(map[string]Value, len(x))
			for k, item := range x {
				attrs[k] = ValueOf(item)
			}
			return attrs
		case []any:
			if attrs := keyValueList(x); len(attrs) > 0 {
				return attrs
			}
		}
	}
	return nil
}

// keyValueList flattens the OTel SDK attribute form: [{"Key": k, "Value": {"Type": t, "Value": v}}]
// as well as the lower-case {"key": k, "value": v} variant.
func keyValueList(items []any) map[string]Value {
	attrs := make(map[string]Value, len(items))
	for _, item := range items {
		kv, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key, _ := firstString(kv, []string{"Key", "key"})
		if key == "" {
			continue
		}
		raw, ok := lookup(kv, "Value.Value")
		if !ok {
			raw, ok = lookup(kv, "value")
		}
		if !ok {
			raw, _ = lookup(kv, "Value")
		}
		attrs[key] = ValueOf(raw)
	}
	return attrs
}

// isZeroID checks if a hex-encoded ID is all zeros.
func isZeroID(id string) bool {
	for _, c := range id {
		if c != '0' {
			return false
		}
	}
	return len(id) > 0
}
