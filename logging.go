package main

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger: records below Error go to stdout,
// Error and above to stderr. Debug records are kept only when verbose.
func NewLogger(verbose bool) *zap.SugaredLogger {
	return newLogger(os.Stdout, os.Stderr, verbose)
}

func newLogger(stdout, stderr io.Writer, verbose bool) *zap.SugaredLogger {
	minLevel := zapcore.InfoLevel
	if verbose {
		minLevel = zapcore.DebugLevel
	}
	isErrorLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})
	isInfoLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= minLevel && lvl < zapcore.ErrorLevel
	})

	config := zap.NewDevelopmentEncoderConfig()
	config.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(config)

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(stderr)), isErrorLevel),
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(stdout)), isInfoLevel),
	)
	return zap.New(core).Sugar()
}
