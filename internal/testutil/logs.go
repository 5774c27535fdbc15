package testutil

import (
	"context"
	"log/slog"
	"sync"
)

// LogRecord is one captured log event.
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

type logStore struct {
	mu      sync.Mutex
	records []LogRecord
}

// LogRecorder is a [slog.Handler] that keeps every record in memory so
// tests can assert on emitted events. It is safe for concurrent use.
type LogRecorder struct {
	store *logStore
	attrs []slog.Attr
}

// NewLogRecorder returns a recorder and a logger writing to it at every
// level.
func NewLogRecorder() (*LogRecorder, *slog.Logger) {
	r := &LogRecorder{store: &logStore{}}
	return r, slog.New(r)
}

// Enabled implements [slog.Handler].
func (r *LogRecorder) Enabled(context.Context, slog.Level) bool { return true }

// Handle implements [slog.Handler].
func (r *LogRecorder) Handle(_ context.Context, rec slog.Record) error {
	attrs := make(map[string]any, len(r.attrs)+rec.NumAttrs())
	for _, a := range r.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	rec.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.records = append(r.store.records, LogRecord{Level: rec.Level, Message: rec.Message, Attrs: attrs})
	return nil
}

// WithAttrs implements [slog.Handler]. The derived handler shares the
// record buffer.
func (r *LogRecorder) WithAttrs(as []slog.Attr) slog.Handler {
	attrs := make([]slog.Attr, 0, len(r.attrs)+len(as))
	attrs = append(attrs, r.attrs...)
	return &LogRecorder{store: r.store, attrs: append(attrs, as...)}
}

// WithGroup implements [slog.Handler]. Groups are flattened.
func (r *LogRecorder) WithGroup(string) slog.Handler { return r }

// Records returns a copy of the captured records.
func (r *LogRecorder) Records() []LogRecord {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return append([]LogRecord(nil), r.store.records...)
}

// AtLevel returns the captured records with exactly the given level.
func (r *LogRecorder) AtLevel(level slog.Level) []LogRecord {
	var out []LogRecord
	for _, rec := range r.Records() {
		if rec.Level == level {
			out = append(out, rec)
		}
	}
	return out
}
