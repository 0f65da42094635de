// Format-specific span parsers feeding the normalizer
// Handles raw producer records (JSON array or NDJSON), OTLP protobuf JSON and stdouttrace
package spans

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
)

// Format identifies the input span format.
type Format string

const (
	FormatAuto        Format = "auto"
	FormatRecords     Format = "records"
	FormatOTLP        Format = "otlp"
	FormatStdouttrace Format = "stdouttrace"
)

// ErrNoRecords is returned when the input holds no span records.
var ErrNoRecords = errors.New("no span records found in input")

// maxInputSize is the maximum input size to prevent OOM on large session exports.
const maxInputSize = 256 * 1024 * 1024 // 256 MB

// ParseOptions controls ParseSpans.
type ParseOptions struct {
	Format Format
	Logger *zap.Logger
}

// ParseSpans reads spans from r in the given format and normalises them.
// FormatAuto (or an empty format) inspects the first JSON value to decide.
func ParseSpans(r io.Reader, opts ParseOptions) ([]Span, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if len(data) > maxInputSize {
		return nil, fmt.Errorf("input exceeds maximum size of %d MB", maxInputSize/(1024*1024))
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrNoRecords
	}

	format := opts.Format
	if format == "" || format == FormatAuto {
		format = DetectFormat(data)
	}

	var spans []Span
	switch format {
	case FormatRecords:
		records, err := DecodeRecords(data)
		if err != nil {
			return nil, err
		}
		spans = Normalize(records, NormalizeOptions{Logger: opts.Logger})
	case FormatOTLP:
		spans, err = parseOTLP(data)
	case FormatStdouttrace:
		spans, err = parseStdouttrace(data)
	default:
		return nil, fmt.Errorf("unknown format %q, valid formats: auto, records, otlp, stdouttrace", format)
	}
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return nil, ErrNoRecords
	}
	return spans, nil
}

// DetectFormat examines the input to determine the format. Anything that is
// neither OTLP nor stdouttrace is treated as raw records.
func DetectFormat(data []byte) Format {
	firstLine, _, hasMore := bytes.Cut(data, []byte{'\n'})
	firstLine = bytes.TrimSpace(firstLine)

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(firstLine, &keys); err == nil {
		if _, ok := keys["SpanContext"]; ok {
			return FormatStdouttrace
		}
		if _, ok := keys["resourceSpans"]; ok {
			return FormatOTLP
		}
		return FormatRecords
	}

	// First line wasn't a complete JSON object (pretty-printed document or array).
	if hasMore {
		if err := json.Unmarshal(data, &keys); err == nil {
			if _, ok := keys["resourceSpans"]; ok {
				return FormatOTLP
			}
			if _, ok := keys["SpanContext"]; ok {
				return FormatStdouttrace
			}
		}
	}
	return FormatRecords
}

// DecodeRecords decodes a JSON array of objects, a single object holding a
// "spans" array, or newline-delimited JSON objects.
func DecodeRecords(data []byte) ([]map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var records []map[string]any
		if err := decodeNumbers(data, &records); err != nil {
			return nil, fmt.Errorf("parsing records: %w", err)
		}
		return records, nil
	}

	var records []map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	for n := 1; ; n++ {
		var rec map[string]any
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", n, err)
		}
		if nested, ok := rec["spans"].([]any); ok {
			for _, item := range nested {
				if m, ok := item.(map[string]any); ok {
					records = append(records, m)
				}
			}
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// stdouttraceEvent mirrors the Go SDK's stdouttrace JSON output.
type stdouttraceEvent struct {
	Name        string `json:"Name"`
	SpanContext struct {
		TraceID string `json:"TraceID"`
		SpanID  string `json:"SpanID"`
	} `json:"SpanContext"`
	Parent struct {
		TraceID string `json:"TraceID"`
		SpanID  string `json:"SpanID"`
	} `json:"Parent"`
	StartTime  time.Time `json:"StartTime"`
	EndTime    time.Time `json:"EndTime"`
	Attributes []sdkAttr `json:"Attributes"`
	Status     struct {
		Code string `json:"Code"`
	} `json:"Status"`
}

type sdkAttr struct {
	Key   string `json:"Key"`
	Value struct {
		Type  string `json:"Type"`
		Value any    `json:"Value"`
	} `json:"Value"`
}

func parseStdouttrace(data []byte) ([]Span, error) {
	var spans []Span
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var evt stdouttraceEvent
		if err := json.Unmarshal(line, &evt); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		attrs := make(map[string]Value, len(evt.Attributes))
		for _, attr := range evt.Attributes {
			attrs[attr.Key] = ValueOf(attr.Value.Value)
		}

		spans = append(spans, fromSDK(
			evt.SpanContext.TraceID, evt.SpanContext.SpanID, evt.Parent.SpanID, evt.Name,
			evt.StartTime, evt.EndTime, evt.Status.Code == "Error", attrs,
		))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return spans, nil
}

func parseOTLP(data []byte) ([]Span, error) {
	var req coltracepb.ExportTraceServiceRequest
	opts := protojson.UnmarshalOptions{DiscardUnknown: true}
	if err := opts.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing OTLP: %w", err)
	}

	var spans []Span
	for _, rs := range req.ResourceSpans {
		for _, ss := range rs.ScopeSpans {
			for _, span := range ss.Spans {
				attrs := make(map[string]Value, len(span.Attributes))
				for _, attr := range span.Attributes {
					attrs[attr.Key] = anyValue(attr.Value)
				}
				isError := span.Status != nil && span.Status.Code == tracepb.Status_STATUS_CODE_ERROR
				spans = append(spans, fromSDK(
					hex.EncodeToString(span.TraceId),
					hex.EncodeToString(span.SpanId),
					hex.EncodeToString(span.ParentSpanId),
					span.Name,
					time.Unix(0, int64(span.StartTimeUnixNano)), //nolint:gosec // nanosecond timestamps are always positive
					time.Unix(0, int64(span.EndTimeUnixNano)),   //nolint:gosec // nanosecond timestamps are always positive
					isError,
					attrs,
				))
			}
		}
	}
	return spans, nil
}

// fromSDK builds a Span from OTel SDK-shaped fields. The operation type comes
// from an operation_type attribute when present, otherwise from the name.
func fromSDK(traceID, spanID, parentID, name string, start, end time.Time, isError bool, attrs map[string]Value) Span {
	if isZeroID(parentID) {
		parentID = ""
	}
	if traceID == "" {
		traceID = UnknownID
	}
	if spanID == "" {
		spanID = UnknownID
	}
	if isError {
		if _, set := attrs["error"]; !set {
			attrs["error"] = Bool(true)
		}
	}

	opType := InferOperationType(name)
	for _, key := range []string{"operation_type", "operation.type", "span.type"} {
		if s, ok := attrs[key].AsString(); ok && s != "" {
			opType = ParseOperationType(s)
			break
		}
	}

	var captured, duration float64
	if !start.IsZero() {
		captured = timeSeconds(start)
		if end.After(start) {
			duration = float64(end.Sub(start)) / float64(time.Millisecond)
		}
	}
	if len(attrs) == 0 {
		attrs = nil
	}

	return Span{
		TraceID:       traceID,
		SpanID:        spanID,
		ParentSpanID:  parentID,
		Name:          name,
		OperationType: opType,
		CapturedAt:    captured,
		DurationMs:    duration,
		Attributes:    attrs,
	}
}

// anyValue converts an OTLP AnyValue into a Value.
func anyValue(v *commonpb.AnyValue) Value {
	if v == nil {
		return Null()
	}
	switch x := v.Value.(type) {
	case *commonpb.AnyValue_StringValue:
		return String(x.StringValue)
	case *commonpb.AnyValue_BoolValue:
		return Bool(x.BoolValue)
	case *commonpb.AnyValue_IntValue:
		return Number(float64(x.IntValue))
	case *commonpb.AnyValue_DoubleValue:
		return Number(x.DoubleValue)
	case *commonpb.AnyValue_KvlistValue:
		m := make(map[string]Value, len(x.KvlistValue.GetValues()))
		for _, kv := range x.KvlistValue.GetValues() {
			m[kv.Key] = anyValue(kv.Value)
		}
		return Map(m)
	case *commonpb.AnyValue_ArrayValue:
		vals := x.ArrayValue.GetValues()
		l := make([]Value, len(vals))
		for i, item := range vals {
			l[i] = anyValue(item)
		}
		return List(l)
	case *commonpb.AnyValue_BytesValue:
		return String(hex.EncodeToString(x.BytesValue))
	default:
		return Null()
	}
}
