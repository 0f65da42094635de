// Package source loads session inputs from files and SQL databases.
// Sources only read; normalisation and derivation happen in the session engine.
package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andrewh/turnscope/pkg/latency"
	"github.com/andrewh/turnscope/pkg/session"
	"github.com/andrewh/turnscope/pkg/spans"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrSessionNotFound is returned when a source has no data for a session.
var ErrSessionNotFound = errors.New("session not found")

// FormatBundle selects the bundle document loader regardless of extension.
const FormatBundle spans.Format = "bundle"

// maxBundleSize caps bundle documents read into memory.
const maxBundleSize = 256 * 1024 * 1024 // 256 MB

// Bundle is everything known about one session.
type Bundle struct {
	SessionID string               `json:"session_id" yaml:"session_id"`
	Call      latency.CallMetadata `json:"call" yaml:"call"`
	Spans     []spans.Span         `json:"-" yaml:"-"`
	Records   []map[string]any     `json:"spans" yaml:"spans"`
	Turns     []latency.TurnRecord `json:"turns" yaml:"turns"`
}

// Batch converts the bundle into an engine batch at the given version.
func (b *Bundle) Batch(version uint64) session.Batch {
	return session.Batch{
		SessionID: b.SessionID,
		Version:   version,
		Records:   b.Records,
		Spans:     b.Spans,
		Turns:     b.Turns,
		Call:      b.Call,
	}
}

// LoadFile reads a session from path. Bundle documents ({session_id, call,
// spans, turns} in JSON or YAML) are recognised by a .yaml/.yml extension,
// FormatBundle, or a top-level "turns" or "call" key. Anything else is parsed
// as spans only with spans.ParseSpans. A path of "-" reads standard input.
func LoadFile(path string, format spans.Format, logger *zap.Logger) (*Bundle, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path) //nolint:gosec // path comes from the command line
		if err != nil {
			return nil, fmt.Errorf("opening input: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBundleSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if len(data) > maxBundleSize {
		return nil, fmt.Errorf("input exceeds maximum size of %d MB", maxBundleSize/(1024*1024))
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case format == FormatBundle && (ext == ".yaml" || ext == ".yml"):
		return decodeYAMLBundle(data, path)
	case format == FormatBundle:
		return decodeJSONBundle(data, path)
	case format == "" || format == spans.FormatAuto:
		if ext == ".yaml" || ext == ".yml" {
			return decodeYAMLBundle(data, path)
		}
		if isJSONBundle(data) {
			return decodeJSONBundle(data, path)
		}
	}

	parsed, err := spans.ParseSpans(bytes.NewReader(data), spans.ParseOptions{Format: format, Logger: logger})
	if err != nil {
		return nil, err
	}
	return &Bundle{SessionID: sessionName(path), Spans: parsed}, nil
}

func isJSONBundle(data []byte) bool {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return false
	}
	_, hasTurns := keys["turns"]
	_, hasCall := keys["call"]
	_, hasSession := keys["session_id"]
	return hasTurns || hasCall || hasSession
}

func decodeJSONBundle(data []byte, path string) (*Bundle, error) {
	var b Bundle
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("parsing bundle: %w", err)
	}
	return finishBundle(&b, path)
}

func decodeYAMLBundle(data []byte, path string) (*Bundle, error) {
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing bundle: %w", err)
	}
	return finishBundle(&b, path)
}

func finishBundle(b *Bundle, path string) (*Bundle, error) {
	if len(b.Records) == 0 && len(b.Turns) == 0 {
		return nil, spans.ErrNoRecords
	}
	if b.SessionID == "" {
		b.SessionID = sessionName(path)
	}
	return b, nil
}

func sessionName(path string) string {
	if path == "-" || path == "" {
		return "stdin"
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
