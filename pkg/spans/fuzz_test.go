// Fuzz targets for the span parsers and hierarchy builder
// Run with: go test -fuzz=FuzzParseSpans ./pkg/spans/ -fuzztime=30s
package spans

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

// FuzzParseSpans feeds arbitrary bytes to ParseSpans with each format. The
// property is that parsing never panics.
func FuzzParseSpans(f *testing.F) {
	f.Add([]byte(stdouttraceLine))
	f.Add([]byte(otlpDoc))
	f.Add([]byte(`[{"trace_id":"t","span_id":"a","name":"user_turn","captured_at":"2025-01-01T00:00:00Z"}]`))
	f.Add([]byte(`{"spans":[{"context":{"span_id":"a"}}]}`))
	f.Add([]byte(`not json at all`))
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, data []byte) {
		for _, format := range []Format{FormatAuto, FormatRecords, FormatOTLP, FormatStdouttrace} {
			_, _ = ParseSpans(bytes.NewReader(data), ParseOptions{Format: format})
		}
	})
}

// FuzzBuildHierarchy explores parent graphs with coverage guidance.
func FuzzBuildHierarchy(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(func(t *rapid.T) {
		in := genSpans(t)
		if got := len(BuildHierarchy(in, HierarchyOptions{})); got != len(in) {
			t.Fatalf("hierarchy has %d nodes, want %d", got, len(in))
		}
	}))
}
