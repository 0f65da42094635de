package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewTelemetry_Disabled(t *testing.T) {
	t.Parallel()

	tel, err := newTelemetry(context.Background(), otelConfig{Protocol: "http/protobuf"}, &bytes.Buffer{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, tracenoop.TracerProvider{}, tel.tracerProvider)
	tel.shutdown()
}

func TestSelfTelemetryStdout(t *testing.T) {
	t.Parallel()
	path := writeTestInput(t, "session.json", testSession)

	root := rootCmd()
	root.SetArgs([]string{"turns", path, "--otel-stdout", "-o", "json"})
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	require.NoError(t, root.Execute())

	assert.Contains(t, errOut.String(), `"Name":"session.derive"`)
	assert.Contains(t, errOut.String(), "turnscope.latency")
	assert.NotContains(t, out.String(), "session.derive", "telemetry stays off stdout")
}

func TestStartProfiler_Disabled(t *testing.T) {
	t.Parallel()

	stop, err := startProfiler("", "call-1")
	require.NoError(t, err)
	stop()
}

type stubShutdown struct {
	err    error
	called bool
}

func (s *stubShutdown) Shutdown(context.Context) error {
	s.called = true
	return s.err
}

func TestShutdownAll_LogsFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	ok := &stubShutdown{}
	failing := &stubShutdown{err: errors.New("exporter unreachable")}

	shutdownAll(context.Background(), zap.New(core), []*stubShutdown{ok, failing}, "telemetry provider")

	assert.True(t, ok.called)
	assert.True(t, failing.called)
	entries := logs.FilterMessage("shutdown failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "telemetry provider", fields["component"])
	assert.Equal(t, "exporter unreachable", fields["error"])
}
