package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, valid only after Init.
var Logger zerolog.Logger

// Level is a logging threshold name, independent of zerolog's own Level
// type so callers of this package never need to import zerolog directly
// just to configure it.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var levels = map[Level]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger. Safe to call more than once, e.g.
// a test resetting output to a buffer.
func Init(cfg Config) {
	level, ok := levels[cfg.Level]
	if !ok {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

func with(key, value string) zerolog.Logger {
	return Logger.With().Str(key, value).Logger()
}

// WithComponent scopes a logger to a named subsystem (e.g. "scheduler").
func WithComponent(component string) zerolog.Logger { return with("component", component) }

// WithJobID scopes a logger to a single Job's lifetime.
func WithJobID(jobID string) zerolog.Logger { return with("job_id", jobID) }

// WithExecutionID scopes a logger to a single Execution attempt.
func WithExecutionID(executionID string) zerolog.Logger { return with("execution_id", executionID) }

// WithWorkerID scopes a logger to frames/events from one worker connection.
func WithWorkerID(workerID string) zerolog.Logger { return with("worker_id", workerID) }

// WithPoolID scopes a logger to a capacity pool.
func WithPoolID(poolID string) zerolog.Logger { return with("pool_id", poolID) }

// Sampled returns a logger that only emits every n-th call, whatever its
// level, for call sites that fire once per heartbeat or frame and would
// otherwise flood output (worker heartbeats, per-chunk artifact transfer
// progress).
func Sampled(n uint32) zerolog.Logger {
	if n < 2 {
		return Logger
	}
	return Logger.Sample(&zerolog.BasicSampler{N: n})
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) { Logger.Fatal().Msg(msg) }
