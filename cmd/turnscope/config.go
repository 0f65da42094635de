// Layered CLI configuration: defaults, optional YAML file, TURNSCOPE_ environment, flags
// Keys are dotted; flags with dashes map onto them through flagKeys
package main

import (
	"fmt"
	"strings"

	"github.com/andrewh/turnscope/pkg/latency"
	"github.com/andrewh/turnscope/pkg/timeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// flagKeys maps persistent flag names to configuration keys.
var flagKeys = map[string]string{
	"platform":         "platform",
	"output":           "output",
	"log-level":        "log_level",
	"cache-size":       "cache.max_sessions",
	"otel-endpoint":    "otel.endpoint",
	"otel-protocol":    "otel.protocol",
	"otel-stdout":      "otel.stdout",
	"pyroscope-server": "pyroscope.server",
}

var validOutputs = map[string]bool{
	"table": true,
	"json":  true,
	"yaml":  true,
}

type otelConfig struct {
	Endpoint string
	Protocol string
	Stdout   bool
}

// enabled reports whether self-telemetry should be exported at all.
func (c otelConfig) enabled() bool {
	return c.Stdout || c.Endpoint != ""
}

type config struct {
	Platform        latency.Platform
	Output          string
	LogLevel        zapcore.Level
	CacheSize       int64
	Timeline        timeline.Options
	OTel            otelConfig
	PyroscopeServer string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("TURNSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	d := timeline.DefaultOptions()
	v.SetDefault("platform", string(latency.PlatformAuto))
	v.SetDefault("output", "table")
	v.SetDefault("log_level", "warn")
	v.SetDefault("cache.max_sessions", 64)
	v.SetDefault("fallback.min_seconds", d.MinFallback)
	v.SetDefault("fallback.max_seconds", d.MaxFallback)
	v.SetDefault("fallback.seconds_per_char", d.SecondsPerChar)
	v.SetDefault("otel.protocol", "http/protobuf")
	return v
}

// bindFlags registers the persistent flags of cmd with v.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for flag, key := range flagKeys {
		f := cmd.PersistentFlags().Lookup(flag)
		if f == nil {
			return fmt.Errorf("BUG: flag --%s is not defined", flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding --%s: %w", flag, err)
		}
	}
	return nil
}

// loadConfig reads the optional config file and validates every key.
func loadConfig(v *viper.Viper, path string) (*config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	platform, err := latency.ParsePlatform(v.GetString("platform"))
	if err != nil {
		return nil, err
	}

	output := strings.ToLower(v.GetString("output"))
	if !validOutputs[output] {
		return nil, fmt.Errorf("unknown output %q, valid outputs: table, json, yaml", output)
	}

	level, err := zapcore.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q, supported levels are debug, info, warn, error", v.GetString("log_level"))
	}

	cacheSize := v.GetInt64("cache.max_sessions")
	if cacheSize <= 0 {
		return nil, fmt.Errorf("cache.max_sessions must be positive, got %d", cacheSize)
	}

	tl := timeline.Options{
		MinFallback:    v.GetFloat64("fallback.min_seconds"),
		MaxFallback:    v.GetFloat64("fallback.max_seconds"),
		SecondsPerChar: v.GetFloat64("fallback.seconds_per_char"),
	}
	if tl.MinFallback <= 0 || tl.MaxFallback < tl.MinFallback || tl.SecondsPerChar <= 0 {
		return nil, fmt.Errorf("invalid fallback settings: min %.2fs, max %.2fs, %.3fs per char",
			tl.MinFallback, tl.MaxFallback, tl.SecondsPerChar)
	}

	oc := otelConfig{
		Endpoint: v.GetString("otel.endpoint"),
		Protocol: v.GetString("otel.protocol"),
		Stdout:   v.GetBool("otel.stdout"),
	}
	if err := validateProtocol(oc.Protocol); err != nil {
		return nil, err
	}

	return &config{
		Platform:        platform,
		Output:          output,
		LogLevel:        level,
		CacheSize:       cacheSize,
		Timeline:        tl,
		OTel:            oc,
		PyroscopeServer: v.GetString("pyroscope.server"),
	}, nil
}

var validProtocols = map[string]bool{
	"http/protobuf": true,
	"grpc":          true,
}

func validateProtocol(p string) error {
	if !validProtocols[p] {
		return fmt.Errorf("unsupported protocol %q, supported: http/protobuf, grpc", p)
	}
	return nil
}

// newLogger builds the CLI logger: development encoding on stderr at the configured level.
func newLogger(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
