// Package log wires structured logging for the launch engine via
// github.com/rs/zerolog, in the shape of the teacher's package: a
// package-level Logger, an Init(Config) choosing JSON vs. console
// output, and With* helpers attaching component/job/step/node/task
// fields. Log lines are observational only — they never replace the
// Event Pipe as the authoritative state-change channel.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level represents log level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with a component field, used
// by the pool, msghandler and launcher packages and the demo's fake
// slurmd.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithStep creates a child logger scoped to a (job_id, step_id) pair.
func WithStep(jobID, stepID uint32) zerolog.Logger {
	return Logger.With().Uint32("job_id", jobID).Uint32("step_id", stepID).Logger()
}

// WithNode creates a child logger with a node_index field.
func WithNode(nodeIndex int) zerolog.Logger {
	return Logger.With().Int("node_index", nodeIndex).Logger()
}

// WithTask creates a child logger with a task_id field.
func WithTask(taskID int) zerolog.Logger {
	return Logger.With().Int("task_id", taskID).Logger()
}

func Info(msg string) { Logger.Info().Msg(msg) }

func Debug(msg string) { Logger.Debug().Msg(msg) }

func Warn(msg string) { Logger.Warn().Msg(msg) }

func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) { Logger.Error().Err(err).Msg(format) }

func Fatal(msg string) { Logger.Fatal().Msg(msg) }
