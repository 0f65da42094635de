package main

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedDatabase(t *testing.T, dsn string) {
	t.Helper()

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	for _, stmt := range []string{
		`CREATE TABLE calls (id TEXT PRIMARY KEY, duration REAL, recording_url TEXT, platform TEXT, config TEXT, started_at INTEGER)`,
		`CREATE TABLE spans (session_id TEXT, seq INTEGER, payload TEXT)`,
		`CREATE TABLE turn_metrics (session_id TEXT, seq INTEGER, payload TEXT)`,
		`INSERT INTO calls VALUES ('call-9', 30, NULL, NULL, NULL, 1)`,
		`INSERT INTO spans VALUES ('call-9', 1, '{"trace_id":"t","span_id":"a","name":"user_turn","start_time":1740830400,"duration_ms":700}')`,
		`INSERT INTO spans VALUES ('call-9', 2, '{"trace_id":"t","span_id":"b","parent_span_id":"a","name":"stt","start_time":1740830400.1,"duration_ms":200}')`,
		`INSERT INTO turn_metrics VALUES ('call-9', 1, '{"stt":{"duration":0.2},"llm":{"ttft":0.5}}')`,
	} {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
}
