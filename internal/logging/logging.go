// Package logging builds the process logger from the ledger configuration:
// a level-gated logger writing to logs/ inside the ledger root.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/taskledger/taskledger/internal/ledger"
)

const LogFileName = "taskledger.log"

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger writes leveled lines plus a plain *log.Logger for the components
// that take one. Component chatter is info-granularity, so a level above
// info silences it as a block.
type Logger struct {
	std     *log.Logger
	printer *log.Logger
	level   Level
	closer  io.Closer
}

// Open appends to logs/taskledger.log under the ledger root.
func Open(root string, level Level) (*Logger, error) {
	path := filepath.Join(root, ledger.LogsDirName, LogFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	lg := New(f, level)
	lg.closer = f
	return lg, nil
}

func New(w io.Writer, level Level) *Logger {
	printer := log.New(w, "", log.LstdFlags|log.LUTC)
	if level > LevelInfo {
		printer = log.New(io.Discard, "", 0)
	}
	return &Logger{
		std:     log.New(w, "", 0),
		printer: printer,
		level:   level,
	}
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

func (l *Logger) logf(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.std.Printf("%s %s %s", time.Now().UTC().Format(time.RFC3339), level, msg)
}

// Printer is the logger handed to components that accept a *log.Logger.
func (l *Logger) Printer() *log.Logger {
	return l.printer
}

func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
