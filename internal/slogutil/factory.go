package slogutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flowgraph/planner/internal/config"
)

// LoggerFactory creates appropriately configured loggers for different subsystems.
// It respects the configuration precedence: CLI flags > subsystem config > global config.
type LoggerFactory struct {
	stateDir     string
	config       *config.Config
	cliLevel     slog.Level // from CLI flags (0 means not set)
	closers      []io.Closer
	lokiHandlers []*LokiHandler
}

// NewLoggerFactory creates a new logger factory. stateDir is the directory
// logs and caches are rooted under (typically <repoRoot>/.planner).
// cliLevel should be 0 if no CLI override was specified.
func NewLoggerFactory(stateDir string, cfg *config.Config, cliLevel slog.Level) *LoggerFactory {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &LoggerFactory{
		stateDir: stateDir,
		config:   cfg,
		cliLevel: cliLevel,
		closers:  make([]io.Closer, 0),
	}
}

// MCPLogger creates a logger for the MCP stdio server.
// Writes to <stateDir>/logs/mcp.log so stdout stays reserved for the
// JSON-RPC transport.
func (f *LoggerFactory) MCPLogger() (*slog.Logger, error) {
	if f.stateDir == "" {
		return NewDiscardLogger(), nil
	}

	logDir := filepath.Join(f.stateDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return NewDiscardLogger(), nil
	}
	logPath := filepath.Join(logDir, "mcp.log")

	level := f.effectiveLevel("mcp")
	logger, closer, err := f.createFileLogger(logPath, level, "mcp")
	if err != nil {
		return NewDiscardLogger(), nil
	}

	f.closers = append(f.closers, closer)
	return logger, nil
}

// SystemLogger creates a logger for learning-loop and metrics-recompute
// background operations. Writes to <stateDir>/logs/system.log.
func (f *LoggerFactory) SystemLogger() (*slog.Logger, error) {
	if f.stateDir == "" {
		return NewDiscardLogger(), nil
	}

	logDir := filepath.Join(f.stateDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return NewDiscardLogger(), nil
	}
	logPath := filepath.Join(logDir, "system.log")

	level := f.effectiveLevel("system")
	logger, closer, err := f.createFileLogger(logPath, level, "system")
	if err != nil {
		return NewDiscardLogger(), nil
	}

	f.closers = append(f.closers, closer)
	return logger, nil
}

// createFileLogger creates a file logger with optional rotation and remote logging.
func (f *LoggerFactory) createFileLogger(path string, level slog.Level, subsystem string) (*slog.Logger, io.Closer, error) {
	var fileLogger *slog.Logger
	var closer io.Closer
	var err error

	// Check if rotation is configured
	if f.config.Logging.MaxSize != "" {
		fileLogger, closer, err = NewFileLoggerWithRotation(path, level, f.config.Logging.MaxSize, f.config.Logging.MaxBackups)
	} else {
		// No rotation, use regular file logger
		fileLogger, closer, err = NewFileLogger(path, level)
	}
	if err != nil {
		return nil, nil, err
	}

	// Check if Loki remote logging is configured
	if f.config.Logging.Remote != nil && f.config.Logging.Remote.Type == "loki" {
		repoName := filepath.Base(f.stateDir)
		if repoName == "" || repoName == "." {
			repoName = "unknown"
		}

		lokiHandler, lokiErr := NewLokiHandler(f.config.Logging.Remote, map[string]string{
			"app":       "plannerd",
			"repo":      repoName,
			"subsystem": subsystem,
		}, level)

		if lokiErr == nil {
			lokiHandler.Start()
			f.lokiHandlers = append(f.lokiHandlers, lokiHandler)

			// Create tee logger with both file and Loki handlers
			return slog.New(NewTeeHandler(fileLogger.Handler(), lokiHandler)), closer, nil
		}
		// If Loki setup fails, just use file logger (best effort)
	}

	return fileLogger, closer, nil
}

// effectiveLevel returns the effective log level for a subsystem.
// Precedence: CLI flag > subsystem config > global config > default (info)
func (f *LoggerFactory) effectiveLevel(subsystem string) slog.Level {
	// CLI flag takes highest precedence
	if f.cliLevel != 0 {
		return f.cliLevel
	}

	// Check subsystem-specific config
	var subsystemLevel string
	switch subsystem {
	case "mcp":
		subsystemLevel = f.config.Logging.MCP
	case "system":
		subsystemLevel = f.config.Logging.Index
	}

	if subsystemLevel != "" {
		return LevelFromString(subsystemLevel)
	}

	// Fall back to global config level
	if f.config.Logging.Level != "" {
		return LevelFromString(f.config.Logging.Level)
	}

	// Default
	return slog.LevelInfo
}

// Close closes all open log files and stops Loki handlers.
func (f *LoggerFactory) Close() error {
	var firstErr error

	// Stop Loki handlers first (flush remaining logs)
	for _, lh := range f.lokiHandlers {
		if err := lh.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.lokiHandlers = nil

	// Close file handles
	for _, c := range f.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil

	return firstErr
}
