package applog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	maxFileSize = 5 << 20 // 5 MB
	maxValueLen = 200
	truncSuffix = "…"
)

var (
	mu     sync.Mutex
	file   *os.File
	logger = newLogger(io.Discard)
)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		DisableColors:   true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Init opens the log file for appending. Call once at startup.
// If the file exceeds 5 MB, it is rotated (renamed to .log.1) before opening.
// Safe to skip: all log calls become no-ops if not initialized.
func Init(dir string) error {
	path := filepath.Join(dir, "codeatlas.log")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// Rotate if too large.
	if info, err := os.Stat(path); err == nil && info.Size() > maxFileSize {
		os.Rename(path, path+".1")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		file.Close()
	}
	file = f
	logger.SetOutput(f)
	return nil
}

// SetOutput redirects log lines to w. Used by headless commands and tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

// SetLevel sets the minimum level ("debug", "info", "warn", "error").
// Unknown levels fall back to info.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		Error("applog.level", err, "level", level)
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		logger.SetOutput(io.Discard)
		file.Close()
		file = nil
	}
}

// Debug logs a verbose event line, dropped unless the level is debug.
func Debug(event string, kv ...any) {
	logger.WithFields(fields(kv)).Debug(event)
}

// Info logs a structured event line.
//
//	applog.Info("ws.connected", "job", id)
//	applog.Info("poll.status", "state", "running", "progress", 0.4)
func Info(event string, kv ...any) {
	logger.WithFields(fields(kv)).Info(event)
}

// Error logs an event with an error.
//
//	applog.Error("ws.read", err, "job", id)
func Error(event string, err error, kv ...any) {
	entry := logger.WithFields(fields(kv))
	if err != nil {
		entry = entry.WithField("err", truncate(err.Error()))
	}
	entry.Error(event)
}

func fields(kv []any) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = truncate(fmt.Sprint(kv[i+1]))
	}
	return f
}

func truncate(s string) string {
	if len(s) > maxValueLen {
		return s[:maxValueLen] + truncSuffix
	}
	return s
}
