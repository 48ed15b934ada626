package utils

import (
	"os"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// zapLevel maps our levels onto zap. zap has no trace level, so TRACE sits one below debug.
func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case TRACE:
		return zapcore.DebugLevel - 1
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.DPanicLevel
	}
}

// ParseLevel maps trace|debug|info|warn|error|critical onto a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return TRACE
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "critical":
		return CRITICAL
	default:
		return INFO
	}
}

// FileLogConfig controls log file rotation.
type FileLogConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Logger is a levelled printf-style logger over zap.
type Logger struct {
	level  zap.AtomicLevel
	sugar  *zap.SugaredLogger
	closer func() error
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    encodeLevel,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch {
	case l < zapcore.DebugLevel:
		enc.AppendString("TRACE")
	case l >= zapcore.DPanicLevel:
		enc.AppendString("CRITICAL")
	default:
		enc.AppendString(l.CapitalString())
	}
}

// NewFileLogger writes rotated logs to cfg.Path and optionally mirrors them to stdout.
func NewFileLogger(cfg FileLogConfig, minLevel LogLevel, alsoStdout bool) (*Logger, error) {
	if cfg.Path == "" {
		return nil, errors.New("log file path is empty")
	}
	rot := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	level := zap.NewAtomicLevelAt(minLevel.zapLevel())
	sinks := []zapcore.WriteSyncer{zapcore.AddSync(rot)}
	if alsoStdout {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.NewMultiWriteSyncer(sinks...), level)

	return &Logger{
		level:  level,
		sugar:  zap.New(core).Sugar(),
		closer: rot.Close,
	}, nil
}

// NewStdoutLogger logs to stdout only.
func NewStdoutLogger(minLevel LogLevel) *Logger {
	level := zap.NewAtomicLevelAt(minLevel.zapLevel())
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.Lock(os.Stdout), level)
	return &Logger{level: level, sugar: zap.New(core).Sugar()}
}

// NewZapLogger wraps an existing zap logger, e.g. one built on an observer core in tests.
func NewZapLogger(z *zap.Logger) *Logger {
	return &Logger{level: zap.NewAtomicLevelAt(TRACE.zapLevel()), sugar: z.Sugar()}
}

// NewTestLogger routes every level to the test's log output.
func NewTestLogger(tb testing.TB) *Logger {
	level := zap.NewAtomicLevelAt(TRACE.zapLevel())
	return &Logger{level: level, sugar: zaptest.NewLogger(tb, zaptest.Level(level)).Sugar()}
}

// Named returns a child logger sharing level and outputs.
func (l *Logger) Named(name string) *Logger {
	return &Logger{level: l.level, sugar: l.sugar.Named(name)}
}

func (l *Logger) Close() error {
	_ = l.sugar.Sync()
	if l.closer != nil {
		return l.closer()
	}
	return nil
}

func (l *Logger) SetMinLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	lvl := level.zapLevel()
	if !l.sugar.Desugar().Core().Enabled(lvl) {
		return
	}
	l.sugar.Logf(lvl, msg, args...)
}

func (l *Logger) Trace(msg string, args ...any)    { l.log(TRACE, msg, args...) }
func (l *Logger) Debug(msg string, args ...any)    { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...any)     { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)     { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...any)    { l.log(ERROR, msg, args...) }
func (l *Logger) Critical(msg string, args ...any) { l.log(CRITICAL, msg, args...) }
