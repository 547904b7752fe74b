package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	FilePath    string `yaml:"file_path"`   // empty writes to stdout only
	Level       string `yaml:"level"`       // debug info warn error
	MaxSize     int    `yaml:"max_size"`    // MB per file
	MaxBackups  int    `yaml:"max_backups"` // rotated files kept
	MaxAge      int    `yaml:"max_age"`     // days
	Compress    bool   `yaml:"compress"`
	Development bool   `yaml:"development"` // also write to stdout with stack traces
	JSON        bool   `yaml:"json"`
}

// Logger pairs a zap logger with the level it was built at, so the level can
// be changed while the process runs.
type Logger struct {
	*zap.Logger
	Level zap.AtomicLevel
}

func ParseLevel(level string) zapcore.Level {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel
	}
	return zapLevel
}

func New(opts Options) *Logger {
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	var writeSyncers []zapcore.WriteSyncer
	if opts.FilePath != "" {
		writeSyncers = append(writeSyncers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		}))
	}
	if opts.FilePath == "" || opts.Development {
		writeSyncers = append(writeSyncers, zapcore.AddSync(os.Stdout))
	}

	encoder := zapcore.NewConsoleEncoder(encoderConfig)
	if opts.JSON {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}
	level := zap.NewAtomicLevelAt(ParseLevel(opts.Level))
	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writeSyncers...), level)

	l := zap.New(core, zap.AddCaller())
	if opts.Development {
		l = l.WithOptions(zap.Development(), zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return &Logger{Logger: l, Level: level}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop(), Level: zap.NewAtomicLevel()}
}

// SetLevel applies level if it parses; it reports whether the level changed.
func (l *Logger) SetLevel(level string) bool {
	next := ParseLevel(level)
	if l.Level.Level() == next {
		return false
	}
	l.Level.SetLevel(next)
	return true
}
