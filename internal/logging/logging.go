// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the level and the rotated log file. An empty File logs to
// stderr only.
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Setup installs the text formatter and fans output out to stderr and the
// rotated file. An unknown level falls back to info.
func Setup(opts Options) io.Closer {
	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
	})

	level, err := log.ParseLevel(opts.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if opts.File == "" {
		log.SetOutput(os.Stderr)
		return io.NopCloser(nil)
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		log.SetOutput(os.Stderr)
		log.WithError(err).Warn("create log directory failed, logging to stderr only")
		return io.NopCloser(nil)
	}

	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 5
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 3
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return rotator
}

// CronLogger adapts logrus to the cron.Logger interface.
type CronLogger struct {
	Entry *log.Entry
}

func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.Entry.WithFields(fields(keysAndValues)).Debug(msg)
}

func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.Entry.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(kv []interface{}) log.Fields {
	f := log.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			f[k] = kv[i+1]
		}
	}
	return f
}
