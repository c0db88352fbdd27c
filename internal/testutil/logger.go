package testutil

import (
	"fmt"
	"strings"
	"sync"
)

// RecordingLogger keeps every message so tests can assert that a warning
// was logged. Safe for concurrent use.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

func (l *RecordingLogger) record(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	l.entries = append(l.entries, b.String())
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.record("DEBUG", msg, args...) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args...) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args...) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args...) }

// Entries returns the recorded lines, "LEVEL msg k=v ...".
func (l *RecordingLogger) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// Contains reports whether any recorded line contains substr.
func (l *RecordingLogger) Contains(substr string) bool {
	for _, e := range l.Entries() {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}
