// Package logger sets up the zap logger shared by every command.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// MaxFileSizeMB and MaxBackups bound the rotating log file.
	MaxFileSizeMB = 10
	MaxBackups    = 5
)

type Options struct {
	Level string
	// File enables a JSON log file rotated by size. Empty disables it.
	File string
	// Console receives human readable output; nil means stderr.
	Console io.Writer
}

type Logger struct {
	*zap.SugaredLogger
	file *lumberjack.Logger
}

func New(opts Options) (*Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(console), level),
	}

	var rotating *lumberjack.Logger
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotating = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    MaxFileSizeMB,
			MaxBackups: MaxBackups,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotating), level))
	}

	zapLogger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.DPanicLevel))
	return &Logger{SugaredLogger: zapLogger.Sugar(), file: rotating}, nil
}

func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func (l *Logger) Close() {
	_ = l.Sync()
	if l.file != nil {
		_ = l.file.Close()
	}
}
