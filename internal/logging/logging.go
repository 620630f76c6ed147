// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package logging sets up loggo for a runtimefeed process.
package logging

import (
	"io"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/lumberjack/v2"
)

const (
	// FileWriterName is the name the log file writer is registered under.
	FileWriterName = "file"

	// DefaultMaxSizeMB is the size at which the log file is rotated.
	DefaultMaxSizeMB = 100

	// DefaultMaxBackups is how many rotated log files are kept.
	DefaultMaxBackups = 2
)

// Config describes where log output goes and at what levels.
type Config struct {
	// LoggingConfig is a loggo specification such as
	// "<root>=INFO;runtimefeed.store=DEBUG".
	LoggingConfig string
	// LogFile, if set, gets a copy of the output. It is rotated by size.
	LogFile    string
	MaxSizeMB  int
	MaxBackups int
}

// Configure applies the config to the logging context. The returned
// closer releases the log file and must be called on shutdown; it is a
// no-op when no file is configured.
func Configure(ctx *loggo.Context, cfg Config) (io.Closer, error) {
	if cfg.LoggingConfig != "" {
		if err := ctx.ConfigureLoggers(cfg.LoggingConfig); err != nil {
			return nil, errors.Annotatef(err, "logging config %q", cfg.LoggingConfig)
		}
	}
	if cfg.LogFile == "" {
		return nopCloser{}, nil
	}

	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = DefaultMaxSizeMB
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = DefaultMaxBackups
	}
	writer := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	if err := ctx.AddWriter(FileWriterName, loggo.NewSimpleWriter(writer, loggo.DefaultFormatter)); err != nil {
		_ = writer.Close()
		return nil, errors.Annotate(err, "adding log file writer")
	}
	ctx.GetLogger("runtimefeed").Debugf("created rotating log file %q with max size %d MB and max backups %d",
		writer.Filename, writer.MaxSize, writer.MaxBackups)
	return &fileCloser{ctx: ctx, writer: writer}, nil
}

type fileCloser struct {
	ctx    *loggo.Context
	writer *lumberjack.Logger
}

// Close removes the file writer from the context before closing the
// file, so nothing is written to it afterwards.
func (f *fileCloser) Close() error {
	_, _ = f.ctx.RemoveWriter(FileWriterName)
	return errors.Trace(f.writer.Close())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
