// Voice-agent session inspector
// Reconstructs span hierarchies, turns, latency statistics, waterfalls and playback timelines
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andrewh/turnscope/pkg/session"
	"github.com/andrewh/turnscope/pkg/source"
	"github.com/andrewh/turnscope/pkg/spans"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries state shared by every subcommand once the root has resolved configuration.
type app struct {
	v          *viper.Viper
	cfg        *config
	logger     *zap.Logger
	configPath string
	format     string
	sessionID  string
	dbDriver   string
	dbDSN      string
}

func rootCmd() *cobra.Command {
	a := &app{v: newViper(), logger: zap.NewNop()}

	root := &cobra.Command{
		Use:          "turnscope",
		Short:        "Inspect voice-agent call sessions",
		Long:         "Reconstructs the span hierarchy of a voice-agent call, segments it into turns,\ncomputes pipeline latency statistics and projects the turns onto a playback timeline.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(a.v, a.configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("creating logger: %w", err)
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML config file")
	pf.StringVar(&a.format, "format", "auto", "input format: auto, bundle, records, otlp, or stdouttrace")
	pf.StringVar(&a.sessionID, "session", "", "session ID to load from the database")
	pf.StringVar(&a.dbDriver, "db-driver", source.DriverSQLite, "database driver: sqlite or pgx")
	pf.StringVar(&a.dbDSN, "db-dsn", "", "database connection string; reads the session from SQL instead of a file")
	pf.String("platform", "auto", "latency composition: auto, stt-included, or stt-separate")
	pf.StringP("output", "o", "table", "output format: table, json, or yaml")
	pf.String("log-level", "warn", "log level: debug, info, warn, or error")
	pf.Int64("cache-size", 64, "maximum number of cached session snapshots")
	pf.String("otel-endpoint", "", "OTLP endpoint for self-telemetry (e.g. localhost:4318)")
	pf.String("otel-protocol", "http/protobuf", "OTLP protocol (http/protobuf or grpc)")
	pf.Bool("otel-stdout", false, "emit self-telemetry to stderr as JSON")
	pf.String("pyroscope-server", "", "pyroscope server address for profiling replay")
	if err := bindFlags(a.v, root); err != nil {
		panic(err)
	}

	root.AddCommand(turnsCmd(a))
	root.AddCommand(statsCmd(a))
	root.AddCommand(waterfallCmd(a))
	root.AddCommand(timelineCmd(a))
	root.AddCommand(replayCmd(a))
	root.AddCommand(versionCmd())

	return root
}

// inputArgs accepts one input file, or none when reading from a database.
func (a *app) inputArgs(cmd *cobra.Command, args []string) error {
	if a.dbDSN != "" {
		return cobra.NoArgs(cmd, args)
	}
	if len(args) == 0 {
		return fmt.Errorf("missing input file\n\nUsage: turnscope %s <session.json | spans.json | ->\n"+
			"   or: turnscope %s --db-dsn <dsn> --session <id>", cmd.Name(), cmd.Name())
	}
	return cobra.ExactArgs(1)(cmd, args)
}

// load reads the session from the database or the input file.
func (a *app) load(ctx context.Context, args []string) (*source.Bundle, error) {
	if a.dbDSN != "" {
		if a.sessionID == "" {
			return nil, errors.New("--session is required with --db-dsn")
		}
		db, err := source.OpenSQL(ctx, a.dbDriver, a.dbDSN)
		if err != nil {
			return nil, err
		}
		defer func() { _ = db.Close() }()
		return db.Load(ctx, a.sessionID)
	}

	b, err := source.LoadFile(args[0], spans.Format(a.format), a.logger)
	if err != nil {
		if errors.Is(err, spans.ErrNoRecords) {
			return nil, fmt.Errorf("%w\n\nProvide a file or pipe stdin:\n  turnscope turns session.json\n  cat spans.json | turnscope turns -", err)
		}
		return nil, err
	}
	if a.sessionID != "" {
		b.SessionID = a.sessionID
	}
	return b, nil
}

// derivation is a committed snapshot plus the engine that produced it.
type derivation struct {
	engine   *session.Engine
	snapshot *session.Snapshot
	close    func()
}

// derive loads the session and runs every derivation stage once.
func (a *app) derive(cmd *cobra.Command, args []string) (*derivation, error) {
	ctx := cmd.Context()
	b, err := a.load(ctx, args)
	if err != nil {
		return nil, err
	}

	tel, err := newTelemetry(ctx, a.cfg.OTel, cmd.ErrOrStderr(), a.logger)
	if err != nil {
		return nil, err
	}
	engine, err := session.New(session.Options{
		CacheSize:      a.cfg.CacheSize,
		Platform:       a.cfg.Platform,
		Timeline:       a.cfg.Timeline,
		Logger:         a.logger,
		TracerProvider: tel.tracerProvider,
		MeterProvider:  tel.meterProvider,
	})
	if err != nil {
		tel.shutdown()
		return nil, err
	}

	snap, err := engine.Derive(ctx, b.Batch(0))
	if err != nil {
		engine.Close()
		tel.shutdown()
		return nil, err
	}
	return &derivation{
		engine:   engine,
		snapshot: snap,
		close: func() {
			engine.Close()
			tel.shutdown()
		},
	}, nil
}

func turnsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "turns <input>",
		Short: "Segment a session into conversation turns",
		Args:  a.inputArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.derive(cmd, args)
			if err != nil {
				return err
			}
			defer d.close()
			return renderTurns(cmd.OutOrStdout(), a.cfg.Output, d.snapshot.Turns)
		},
	}
}

func statsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <input>",
		Short: "Report per-stage latency statistics",
		Args:  a.inputArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.derive(cmd, args)
			if err != nil {
				return err
			}
			defer d.close()
			return renderStats(cmd.OutOrStdout(), a.cfg.Output, d.snapshot.Report)
		},
	}
}

func waterfallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "waterfall <input>",
		Short: "Group spans by trace and lay them out as a waterfall",
		Args:  a.inputArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.derive(cmd, args)
			if err != nil {
				return err
			}
			defer d.close()
			return renderWaterfall(cmd.OutOrStdout(), a.cfg.Output, d.snapshot.Groups)
		},
	}
}

func timelineCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <input>",
		Short: "Project turns onto the playback timeline",
		Args:  a.inputArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.derive(cmd, args)
			if err != nil {
				return err
			}
			defer d.close()
			return renderTimeline(cmd.OutOrStdout(), a.cfg.Output, d.snapshot.Timeline)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "turnscope %s (commit: %s, built: %s)\n", version, commit, buildTime)
		},
	}
}
