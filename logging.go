package main

import (
	"io"

	"github.com/juju/lumberjack/v2"
	"github.com/sirupsen/logrus"

	"gerrit-watch/internal/config"
)

// newLogger builds the process logger. The terminal belongs to the change
// table, so logs go to a rotating file unless stderr is asked for.
func newLogger(cfg config.LoggingConfig, stderr io.Writer) (*logrus.Logger, io.Closer) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetOutput(stderr)
	logger.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(cfg.Level)
	if err == nil {
		logger.SetLevel(level)
	}

	var closer io.Closer
	if cfg.File != "" && cfg.File != config.LogToStderr {
		writer := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB, // megabytes
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		logger.SetOutput(writer)
		closer = writer
	}

	if err != nil {
		logger.Warnf("Invalid log level %q, using info", cfg.Level)
	}
	return logger, closer
}
