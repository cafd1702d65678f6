package main

import (
	"io"
	"log"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/agentworkforce/relayjournal/internal/config"
)

const logPrefix = "[relayjournal] "

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger writes to stderr and, when a log file is configured, to a
// rotated copy of it. The standard logger is pointed at the same sink so
// env fallbacks and library messages land in one place.
func newLogger(cfg config.LogConfig, stderr io.Writer) (*log.Logger, io.Closer) {
	out := stderr
	var closer io.Closer = nopCloser{}
	if path := strings.TrimSpace(cfg.File); path != "" {
		rotated := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(stderr, rotated)
		closer = rotated
	}
	log.SetOutput(out)
	log.SetPrefix(logPrefix)
	return log.New(out, logPrefix, log.LstdFlags), closer
}
