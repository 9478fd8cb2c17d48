package slogutil

import (
	"io"
	"log/slog"
	"os"

	"ctxlink/internal/config"
	"ctxlink/internal/paths"
)

// LoggerFactory creates the loggers used by the CLI and the correlation pipeline.
// Level precedence: CLI flags > config > info.
type LoggerFactory struct {
	repoRoot string
	config   *config.Config
	cliLevel *slog.Level
	closers  []io.Closer
}

// NewLoggerFactory creates a new logger factory.
// cliLevel is nil when no CLI override was specified.
func NewLoggerFactory(repoRoot string, cfg *config.Config, cliLevel *slog.Level) *LoggerFactory {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &LoggerFactory{
		repoRoot: repoRoot,
		config:   cfg,
		cliLevel: cliLevel,
	}
}

// ConsoleLogger logs to w only, in the configured format.
func (f *LoggerFactory) ConsoleLogger(w io.Writer) *slog.Logger {
	return NewFormattedLogger(w, f.effectiveLevel(), f.config.Logging.Format)
}

// PipelineLogger logs to <repoRoot>/.ctxlink/logs/ctxlink.log and tees to console.
// When the log file can't be opened it degrades to console-only.
func (f *LoggerFactory) PipelineLogger(console io.Writer) *slog.Logger {
	level := f.effectiveLevel()
	consoleHandler := newFormatHandler(console, level, f.config.Logging.Format)

	if f.repoRoot == "" {
		return slog.New(consoleHandler)
	}
	if _, err := paths.EnsureLogsDir(f.repoRoot); err != nil {
		return slog.New(consoleHandler)
	}

	file, err := os.OpenFile(paths.GetLogPath(f.repoRoot), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return slog.New(consoleHandler)
	}
	f.closers = append(f.closers, file)

	// The file always records at least info so runs can be reconstructed.
	fileLevel := level
	if fileLevel > slog.LevelInfo {
		fileLevel = slog.LevelInfo
	}
	fileHandler := NewHandler(file, &slog.HandlerOptions{Level: fileLevel})

	return slog.New(NewTeeHandler(consoleHandler, fileHandler))
}

// effectiveLevel returns the effective log level.
func (f *LoggerFactory) effectiveLevel() slog.Level {
	if f.cliLevel != nil {
		return *f.cliLevel
	}
	if f.config.Logging.Level != "" {
		return LevelFromString(f.config.Logging.Level)
	}
	return slog.LevelInfo
}

// Close closes all open log files.
func (f *LoggerFactory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}
