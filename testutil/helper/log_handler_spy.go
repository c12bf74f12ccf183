package helper

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

// LogHandlerSpy is a slog.Handler that captures log records for testing.
type LogHandlerSpy struct {
	records     []slog.Record
	mu          sync.Mutex
	logToStdout bool
}

// NewLogHandlerSpy creates a LogHandlerSpy.
// Switchable to log to stdout, which helps when debugging a test.
func NewLogHandlerSpy(logToStdout bool) *LogHandlerSpy {
	return &LogHandlerSpy{
		records:     make([]slog.Record, 0),
		logToStdout: logToStdout,
	}
}

// Handle implements slog.Handler.
func (h *LogHandlerSpy) Handle(ctx context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, record.Clone())

	if h.logToStdout {
		_ = slog.NewJSONHandler(os.Stdout, nil).Handle(ctx, record)
	}

	return nil
}

// Enabled implements slog.Handler.
func (h *LogHandlerSpy) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

// WithAttrs implements slog.Handler.
func (h *LogHandlerSpy) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

// WithGroup implements slog.Handler.
func (h *LogHandlerSpy) WithGroup(_ string) slog.Handler {
	return h
}

// GetRecordCount returns the number of captured log records.
func (h *LogHandlerSpy) GetRecordCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.records)
}

// HasLog starts a fluent chain to check for a record with the given level and message.
func (h *LogHandlerSpy) HasLog(level slog.Level, message string) *LogRecordMatcher {
	h.mu.Lock()
	defer h.mu.Unlock()

	var matches []slog.Record
	for _, record := range h.records {
		if record.Level == level && record.Message == message {
			matches = append(matches, record)
		}
	}

	return &LogRecordMatcher{records: matches}
}

// LogRecordMatcher narrows down the records matched so far.
type LogRecordMatcher struct {
	records []slog.Record
}

// WithAttr keeps the records that carry the attribute key with the given string form of its value.
func (m *LogRecordMatcher) WithAttr(key, value string) *LogRecordMatcher {
	var kept []slog.Record
	for _, record := range m.records {
		record.Attrs(func(attr slog.Attr) bool {
			if attr.Key == key && attr.Value.String() == value {
				kept = append(kept, record)
				return false
			}

			return true
		})
	}

	return &LogRecordMatcher{records: kept}
}

// WithDurationMS keeps the records that carry a non-negative duration_ms attribute.
func (m *LogRecordMatcher) WithDurationMS() *LogRecordMatcher {
	var kept []slog.Record
	for _, record := range m.records {
		record.Attrs(func(attr slog.Attr) bool {
			if attr.Key != "duration_ms" {
				return true
			}

			switch attr.Value.Kind() {
			case slog.KindFloat64:
				if attr.Value.Float64() >= 0 {
					kept = append(kept, record)
				}
			case slog.KindInt64:
				if attr.Value.Int64() >= 0 {
					kept = append(kept, record)
				}
			default:
			}

			return false
		})
	}

	return &LogRecordMatcher{records: kept}
}

// Assert reports whether any record matched.
func (m *LogRecordMatcher) Assert() bool {
	return len(m.records) > 0
}

// Count returns the number of matching records.
func (m *LogRecordMatcher) Count() int {
	return len(m.records)
}
