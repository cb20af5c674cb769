// Package logging configures the zerolog logger shared by the exporter.
//
// Every line carries the component that wrote it. Lines written during an
// export run also carry the run id, the operation and the sheet, so one run
// can be followed through the client, the sink and the guard:
//
//	{"level":"info","component":"exporter","run_id":"…","operation":"export_all","sheet":"Offer Prices","offers":1000,"total":2000,"message":"Page exported"}
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Field names shared across packages.
const (
	FieldComponent = "component"
	FieldCampaign  = "campaign_id"
	FieldRunID     = "run_id"
	FieldOperation = "operation"
	FieldSheet     = "sheet"
)

// LogLevel is a textual log level as it appears in LOG_LEVEL.
type LogLevel string

// Supported levels.
const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// ParseLevel maps a LogLevel to zerolog. "warning" is accepted for warn;
// the empty level is info.
func ParseLevel(level LogLevel) (zerolog.Level, error) {
	switch name := strings.ToLower(strings.TrimSpace(string(level))); name {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	case string(LevelDebug), string(LevelInfo), string(LevelWarn), string(LevelError):
		return zerolog.ParseLevel(name)
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console writer.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer

	// Campaign is attached to every line when set.
	Campaign string
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// Setup installs the global logger and returns it. An unknown level falls
// back to info; validate with ParseLevel beforehand to reject it instead.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Campaign != "" {
		ctx = ctx.Str(FieldCampaign, cfg.Campaign)
	}
	log.Logger = ctx.Logger()

	if err != nil {
		log.Warn().Err(err).Msg("Falling back to info level")
	}
	return log.Logger
}

// NewLogger returns a child of the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str(FieldComponent, component).Logger()
}

// WithRun tags logger for one run of operation against sheet and returns
// the fresh run id alongside. An empty sheet is left out.
func WithRun(logger zerolog.Logger, operation, sheet string) (zerolog.Logger, string) {
	id := uuid.NewString()
	ctx := logger.With().Str(FieldRunID, id).Str(FieldOperation, operation)
	if sheet != "" {
		ctx = ctx.Str(FieldSheet, sheet)
	}
	return ctx.Logger(), id
}
