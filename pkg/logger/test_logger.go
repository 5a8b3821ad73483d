package logger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogMessage is one captured entry
type LogMessage struct {
	Level   string
	Message string
	Fields  map[string]interface{}
	Error   error
}

// String renders the entry on one line with fields in key order
func (m LogMessage) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", m.Level, m.Message)
	if len(m.Fields) > 0 {
		keys := make([]string, 0, len(m.Fields))
		for k := range m.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, m.Fields[k])
		}
	}
	if m.Error != nil {
		fmt.Fprintf(&b, " error=%v", m.Error)
	}
	return b.String()
}

// capture is the entry list shared by a TestLogger and every logger derived from it
type capture struct {
	mu      sync.Mutex
	entries []LogMessage
}

// TestLogger records entries in memory. Loggers returned by WithField, WithFields
// and WithError write into the same capture, so assertions on the root logger
// see everything a component logged through its derived loggers.
type TestLogger struct {
	capture *capture
	fields  map[string]interface{}
	err     error
	nop     zerolog.Logger
}

// NewTestLogger creates an empty capturing logger
func NewTestLogger() *TestLogger {
	return &TestLogger{capture: &capture{}, nop: zerolog.Nop()}
}

func (l *TestLogger) derive(fields map[string]interface{}, err error) *TestLogger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &TestLogger{capture: l.capture, fields: merged, err: err, nop: l.nop}
}

func (l *TestLogger) record(level, msg string, fields map[string]interface{}) {
	entry := LogMessage{Level: level, Message: msg, Error: l.err}
	if len(l.fields) > 0 || len(fields) > 0 {
		entry.Fields = l.derive(fields, nil).fields
	}

	l.capture.mu.Lock()
	l.capture.entries = append(l.capture.entries, entry)
	l.capture.mu.Unlock()
}

func (l *TestLogger) Debug(msg string) { l.record("DEBUG", msg, nil) }
func (l *TestLogger) Info(msg string)  { l.record("INFO", msg, nil) }
func (l *TestLogger) Warn(msg string)  { l.record("WARN", msg, nil) }
func (l *TestLogger) Error(msg string) { l.record("ERROR", msg, nil) }

// Fatal is recorded like any other level; it never exits
func (l *TestLogger) Fatal(msg string) { l.record("FATAL", msg, nil) }

func (l *TestLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	l.record("DEBUG", msg, fields)
}

func (l *TestLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	l.record("INFO", msg, fields)
}

func (l *TestLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	l.record("WARN", msg, fields)
}

func (l *TestLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.record("ERROR", msg, fields)
}

func (l *TestLogger) FatalWithFields(msg string, fields map[string]interface{}) {
	l.record("FATAL", msg, fields)
}

func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return l.derive(map[string]interface{}{key: value}, l.err)
}

func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	return l.derive(fields, l.err)
}

func (l *TestLogger) WithError(err error) Logger {
	return l.derive(nil, err)
}

func (l *TestLogger) WithContext(ctx context.Context) Logger { return l }

func (l *TestLogger) GetZerolog() *zerolog.Logger { return &l.nop }

// GetMessages returns a copy of every captured entry in logging order
func (l *TestLogger) GetMessages() []LogMessage {
	l.capture.mu.Lock()
	defer l.capture.mu.Unlock()
	out := make([]LogMessage, len(l.capture.entries))
	copy(out, l.capture.entries)
	return out
}

// filter returns the entries keep accepts
func (l *TestLogger) filter(keep func(LogMessage) bool) []LogMessage {
	var out []LogMessage
	for _, m := range l.GetMessages() {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// GetMessagesByLevel returns the entries logged at level (DEBUG, INFO, WARN, ERROR, FATAL)
func (l *TestLogger) GetMessagesByLevel(level string) []LogMessage {
	return l.filter(func(m LogMessage) bool { return m.Level == level })
}

// Entries returns the entries whose message is exactly msg
func (l *TestLogger) Entries(msg string) []LogMessage {
	return l.filter(func(m LogMessage) bool { return m.Message == msg })
}

// EntriesWithPrefix returns the entries whose message starts with prefix,
// e.g. "Processing search " for every search page handled
func (l *TestLogger) EntriesWithPrefix(prefix string) []LogMessage {
	return l.filter(func(m LogMessage) bool { return strings.HasPrefix(m.Message, prefix) })
}

// HasMessage reports whether msg was logged at any level
func (l *TestLogger) HasMessage(msg string) bool {
	return len(l.Entries(msg)) > 0
}

// Count returns how many times msg was logged
func (l *TestLogger) Count(msg string) int {
	return len(l.Entries(msg))
}

// FieldValues collects the value of key from every entry logged as msg.
// Entries without the key are left out.
func (l *TestLogger) FieldValues(msg, key string) []interface{} {
	var out []interface{}
	for _, m := range l.Entries(msg) {
		if v, ok := m.Fields[key]; ok {
			out = append(out, v)
		}
	}
	return out
}

// ErrorsFor returns the errors attached to entries logged as msg
func (l *TestLogger) ErrorsFor(msg string) []error {
	var out []error
	for _, m := range l.Entries(msg) {
		if m.Error != nil {
			out = append(out, m.Error)
		}
	}
	return out
}

// HasError reports whether anything was logged at ERROR
func (l *TestLogger) HasError() bool {
	return len(l.GetMessagesByLevel("ERROR")) > 0
}

// Clear drops every captured entry, including those from derived loggers
func (l *TestLogger) Clear() {
	l.capture.mu.Lock()
	l.capture.entries = nil
	l.capture.mu.Unlock()
}

// String renders the capture one entry per line, useful in failure messages
func (l *TestLogger) String() string {
	var b strings.Builder
	for _, m := range l.GetMessages() {
		b.WriteString(m.String())
		b.WriteByte('\n')
	}
	return b.String()
}
