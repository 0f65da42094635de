// SQL record source over database/sql
// Reads the calls, spans and turn_metrics tables written by the voice pipeline
package source

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/andrewh/turnscope/pkg/latency"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	_ "modernc.org/sqlite"             // registers "sqlite" driver
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// SQL reads sessions from a relational store. The schema belongs to the
// producer; SQL never writes.
type SQL struct {
	db     *sql.DB
	driver string
}

// OpenSQL connects to the database and verifies the connection.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQL, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	case "postgres", "postgresql":
		driver = DriverPostgres
	default:
		return nil, fmt.Errorf("unknown database driver %q, valid drivers: sqlite, pgx", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("source open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("source ping: %w", err)
	}
	return NewSQL(db, driver), nil
}

// NewSQL wraps an existing connection pool.
func NewSQL(db *sql.DB, driver string) *SQL {
	return &SQL{db: db, driver: driver}
}

// Close closes the database.
func (s *SQL) Close() error {
	return s.db.Close()
}

// query rewrites $n placeholders for drivers that only accept ?.
func (s *SQL) query(q string) string {
	if s.driver != DriverSQLite {
		return q
	}
	for n := 9; n >= 1; n-- {
		q = strings.ReplaceAll(q, "$"+strconv.Itoa(n), "?")
	}
	return q
}

// Load reads one session. A session with no calls row returns ErrSessionNotFound.
func (s *SQL) Load(ctx context.Context, sessionID string) (*Bundle, error) {
	call, err := s.loadCall(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	records, err := s.loadPayloads(ctx,
		`SELECT payload FROM spans WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading spans: %w", err)
	}
	turnRows, err := s.loadPayloads(ctx,
		`SELECT payload FROM turn_metrics WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading turn metrics: %w", err)
	}
	return &Bundle{
		SessionID: sessionID,
		Call:      call,
		Records:   records,
		Turns:     latency.ParseTurnRecords(turnRows),
	}, nil
}

// Sessions lists session IDs, most recent first.
func (s *SQL) Sessions(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.query(`SELECT id FROM calls ORDER BY started_at DESC LIMIT $1`), limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQL) loadCall(ctx context.Context, sessionID string) (latency.CallMetadata, error) {
	var (
		call      latency.CallMetadata
		duration  sql.NullFloat64
		recording sql.NullString
		platform  sql.NullString
		config    sql.NullString
	)
	row := s.db.QueryRowContext(ctx, s.query(
		`SELECT duration, recording_url, platform, config FROM calls WHERE id = $1`), sessionID)
	if err := row.Scan(&duration, &recording, &platform, &config); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return call, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return call, fmt.Errorf("loading call: %w", err)
	}

	call.Duration = duration.Float64
	call.RecordingURL = recording.String
	if platform.Valid && platform.String != "" {
		p, err := latency.ParsePlatform(platform.String)
		if err != nil {
			return call, fmt.Errorf("call %s: %w", sessionID, err)
		}
		call.Platform = p
	}
	if config.Valid && strings.TrimSpace(config.String) != "" {
		if err := json.Unmarshal([]byte(config.String), &call.Config); err != nil {
			return call, fmt.Errorf("call %s config: %w", sessionID, err)
		}
	}
	return call, nil
}

func (s *SQL) loadPayloads(ctx context.Context, q, sessionID string) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, s.query(q), sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []map[string]any
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var m map[string]any
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("decoding payload %d: %w", len(out)+1, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
