package testutils

import (
	"sync"

	"github.com/evdnx/gofloor/logger"
)

// logEntry captures a single log invocation for inspection in tests.
type logEntry struct {
	level  string
	msg    string
	fields []logger.Field
}

type logBook struct {
	mu      sync.Mutex
	entries []logEntry
}

// MockLogger implements logger.Logger but stores entries in-memory. Loggers
// derived with With share the parent's entries.
type MockLogger struct {
	book   *logBook
	fields []logger.Field
}

// NewMockLogger returns a logger that records everything.
func NewMockLogger() *MockLogger { return &MockLogger{book: &logBook{}} }

func (l *MockLogger) record(level, msg string, fields ...logger.Field) {
	all := make([]logger.Field, 0, len(l.fields)+len(fields))
	all = append(all, l.fields...)
	all = append(all, fields...)
	l.book.mu.Lock()
	l.book.entries = append(l.book.entries, logEntry{level: level, msg: msg, fields: all})
	l.book.mu.Unlock()
}

func (l *MockLogger) Debug(msg string, fields ...logger.Field) {
	l.record("debug", msg, fields...)
}
func (l *MockLogger) Info(msg string, fields ...logger.Field) {
	l.record("info", msg, fields...)
}
func (l *MockLogger) Warn(msg string, fields ...logger.Field) {
	l.record("warn", msg, fields...)
}
func (l *MockLogger) Error(msg string, fields ...logger.Field) {
	l.record("error", msg, fields...)
}

func (l *MockLogger) With(fields ...logger.Field) logger.Logger {
	merged := append(append([]logger.Field(nil), l.fields...), fields...)
	return &MockLogger{book: l.book, fields: merged}
}

// LastMessage returns the message associated with the most recent log entry.
func (l *MockLogger) LastMessage() string {
	l.book.mu.Lock()
	defer l.book.mu.Unlock()
	if len(l.book.entries) == 0 {
		return ""
	}
	return l.book.entries[len(l.book.entries)-1].msg
}

// Messages returns every message logged at level, oldest first.
func (l *MockLogger) Messages(level string) []string {
	l.book.mu.Lock()
	defer l.book.mu.Unlock()
	var out []string
	for _, e := range l.book.entries {
		if e.level == level {
			out = append(out, e.msg)
		}
	}
	return out
}

// Has reports whether msg was logged at any level.
func (l *MockLogger) Has(msg string) bool {
	l.book.mu.Lock()
	defer l.book.mu.Unlock()
	for _, e := range l.book.entries {
		if e.msg == msg {
			return true
		}
	}
	return false
}
