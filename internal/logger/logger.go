// Package logger builds the zap loggers used across the harness.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pingcap/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration
type Config struct {
	Level         zapcore.Level
	ConsoleOutput bool
	Console       io.Writer
	FileOutput    bool
	Filename      string
	MaxSize       int  // megabytes
	MaxAge        int  // days
	MaxBackups    int  // number of backups to keep
	Compress      bool // compress rotated files
	JSONFormat    bool // use JSON format for console output
}

const (
	DefaultFilename   = "logs/gpu-cpu-test.log"
	DefaultMaxSize    = 100 // megabytes
	DefaultMaxAge     = 30  // days
	DefaultMaxBackups = 10
	DefaultCompress   = true
)

// Option is a function that configures the logger
type Option func(*Config)

// ParseLevel maps a verbosity name to a zap level. "trace" is accepted and
// treated as debug, zap's most verbose level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, errors.Errorf("unknown log level %q", level)
	}
}

// WithLevel sets the logging level
func WithLevel(level zapcore.Level) Option {
	return func(c *Config) { c.Level = level }
}

// WithConsoleOutput enables/disables console output
func WithConsoleOutput(enabled bool) Option {
	return func(c *Config) { c.ConsoleOutput = enabled }
}

// WithConsole redirects console output, stderr by default.
func WithConsole(w io.Writer) Option {
	return func(c *Config) { c.Console = w }
}

// WithFilename enables file output with rotation to filename.
func WithFilename(filename string) Option {
	return func(c *Config) {
		c.FileOutput = filename != ""
		c.Filename = filename
	}
}

// WithJSONFormat enables JSON format for console output
func WithJSONFormat(enabled bool) Option {
	return func(c *Config) { c.JSONFormat = enabled }
}

// WithRotationConfig sets the log rotation configuration
func WithRotationConfig(maxSize, maxAge, maxBackups int, compress bool) Option {
	return func(c *Config) {
		c.MaxSize = maxSize
		c.MaxAge = maxAge
		c.MaxBackups = maxBackups
		c.Compress = compress
	}
}

// New builds a logger. Nothing is stored globally; callers pass the result down.
func New(opts ...Option) (*zap.Logger, error) {
	config := &Config{
		Level:         zapcore.InfoLevel,
		ConsoleOutput: true,
		Console:       os.Stderr,
		Filename:      DefaultFilename,
		MaxSize:       DefaultMaxSize,
		MaxAge:        DefaultMaxAge,
		MaxBackups:    DefaultMaxBackups,
		Compress:      DefaultCompress,
	}
	for _, opt := range opts {
		opt(config)
	}

	var cores []zapcore.Core

	if config.ConsoleOutput {
		var consoleEncoder zapcore.Encoder
		if config.JSONFormat {
			jsonConfig := zap.NewProductionEncoderConfig()
			jsonConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			jsonConfig.StacktraceKey = ""
			consoleEncoder = zapcore.NewJSONEncoder(jsonConfig)
		} else {
			consoleConfig := zap.NewDevelopmentEncoderConfig()
			consoleConfig.EncodeTime = zapcore.RFC3339TimeEncoder
			consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
			consoleConfig.EncodeCaller = zapcore.ShortCallerEncoder
			consoleEncoder = zapcore.NewConsoleEncoder(consoleConfig)
		}
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(config.Console), config.Level))
	}

	if config.FileOutput {
		if err := os.MkdirAll(filepath.Dir(config.Filename), 0o755); err != nil {
			return nil, errors.Annotate(err, "creating log directory")
		}

		fileEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			TimeKey:      "ts",
			LevelKey:     "level",
			NameKey:      "logger",
			CallerKey:    "caller",
			MessageKey:   "msg",
			EncodeLevel:  zapcore.LowercaseLevelEncoder,
			EncodeTime:   zapcore.ISO8601TimeEncoder,
			EncodeCaller: zapcore.ShortCallerEncoder,
		})
		cores = append(cores, zapcore.NewCore(
			fileEncoder,
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   config.Filename,
				MaxSize:    config.MaxSize,
				MaxAge:     config.MaxAge,
				MaxBackups: config.MaxBackups,
				Compress:   config.Compress,
			}),
			config.Level,
		))
	}

	if len(cores) == 0 {
		return nil, errors.New("no output configured for logger")
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// NewForCLI builds the human-readable stderr logger used by the command.
func NewForCLI(level string, filename string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return New(WithLevel(lvl), WithFilename(filename))
}
