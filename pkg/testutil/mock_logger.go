package testutil

import (
	"strings"
	"sync"

	"github.com/nimburion/mqttpersist/pkg/observability/logger"
)

// MockLogger is a test logger that captures log entries for assertion in tests.
// Children created with With share the parent's captured entries.
type MockLogger struct {
	mu   sync.Mutex
	Logs []LogEntry

	parent *MockLogger
	fields map[string]interface{}
}

// LogEntry represents a single log entry captured by MockLogger.
type LogEntry struct {
	Level  string
	Msg    string
	Fields map[string]interface{}
}

// Debug records a debug-level log entry for testing assertions.
func (m *MockLogger) Debug(msg string, args ...any) { m.append("debug", msg, args) }

// Info records an info-level log entry for testing assertions.
func (m *MockLogger) Info(msg string, args ...any) { m.append("info", msg, args) }

// Warn records a warn-level log entry for testing assertions.
func (m *MockLogger) Warn(msg string, args ...any) { m.append("warn", msg, args) }

// Error records an error-level log entry for testing assertions.
func (m *MockLogger) Error(msg string, args ...any) { m.append("error", msg, args) }

// With returns a child logger whose entries carry args and land in the root logger.
func (m *MockLogger) With(args ...any) logger.Logger {
	fields := make(map[string]interface{}, len(m.fields))
	for k, v := range m.fields {
		fields[k] = v
	}
	for k, v := range argsToMap(args) {
		fields[k] = v
	}
	return &MockLogger{parent: m.root(), fields: fields}
}

// Has reports whether an entry with level and a message containing msg was captured.
func (m *MockLogger) Has(level, msg string) bool {
	return m.Find(level, msg) != nil
}

// Find returns the first captured entry matching level and msg, or nil.
func (m *MockLogger) Find(level, msg string) *LogEntry {
	root := m.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	for i := range root.Logs {
		if root.Logs[i].Level == level && strings.Contains(root.Logs[i].Msg, msg) {
			entry := root.Logs[i]
			return &entry
		}
	}
	return nil
}

func (m *MockLogger) root() *MockLogger {
	if m.parent != nil {
		return m.parent
	}
	return m
}

func (m *MockLogger) append(level, msg string, args []any) {
	fields := argsToMap(args)
	for k, v := range m.fields {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	root := m.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	root.Logs = append(root.Logs, LogEntry{Level: level, Msg: msg, Fields: fields})
}

func argsToMap(args []any) map[string]interface{} {
	fields := make(map[string]interface{})
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			fields[key] = args[i+1]
		}
	}
	return fields
}
