// Package postmortem persists incident records produced by crash
// containment so they survive the kernel that wrote them.
//
// Three sinks satisfy [containment.Recorder]:
//
//   - [MemorySink] keeps a bounded ring in process memory. It is the
//     default and what tests use.
//   - [RedisSink] appends JSON records to a capped Redis list.
//   - [ObjectSink] writes one JSON object per incident to an S3-compatible
//     bucket (MinIO in development).
//
// Every sink call opens an OpenTelemetry span and reports failures as
// [kerr.Error] values with code FS_006 (storage i/o) or CORE_002 when the
// caller's context ended first. Recording is best effort: containment
// logs a failed write and carries on.
package postmortem

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/models"
)

const tracerName = "github.com/StricklySoft/stricklysoft-faultcore/pkg/postmortem"

// maxStatementLen bounds the db.statement span attribute.
const maxStatementLen = 100

// Sink is the common surface of every incident store.
type Sink interface {
	Record(ctx context.Context, inc *models.Incident) error
	Close() error
}

// Reader is implemented by sinks that can list what they recorded.
type Reader interface {
	Recent(ctx context.Context, n int) ([]*models.Incident, error)
}

var (
	_ Sink   = (*MemorySink)(nil)
	_ Sink   = (*RedisSink)(nil)
	_ Sink   = (*ObjectSink)(nil)
	_ Reader = (*MemorySink)(nil)
	_ Reader = (*RedisSink)(nil)
)

// DefaultMemoryCapacity is the ring size used by [NewMemorySink] when the
// caller passes a non-positive capacity.
const DefaultMemoryCapacity = 64

// MemorySink keeps the most recent incidents in a fixed-size ring.
// It is safe for concurrent use.
type MemorySink struct {
	mu    sync.Mutex
	ring  []*models.Incident
	next  int
	count int
}

// NewMemorySink creates a ring holding at most capacity records.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemorySink{ring: make([]*models.Incident, capacity)}
}

// Record stores a validated copy of inc, evicting the oldest record when
// the ring is full.
func (s *MemorySink) Record(_ context.Context, inc *models.Incident) error {
	if err := checkIncident(inc); err != nil {
		return err
	}
	cp := inc.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.next] = cp
	s.next = (s.next + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
	return nil
}

// Recent returns up to n records, oldest first. A non-positive n returns
// everything held.
func (s *MemorySink) Recent(_ context.Context, n int) ([]*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > s.count {
		n = s.count
	}
	out := make([]*models.Incident, 0, n)
	start := (s.next - n + len(s.ring)) % len(s.ring)
	for i := 0; i < n; i++ {
		out = append(out, s.ring[(start+i)%len(s.ring)].Clone())
	}
	return out, nil
}

// Len reports how many records the ring currently holds.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close is a no-op.
func (s *MemorySink) Close() error { return nil }

func checkIncident(inc *models.Incident) error {
	if inc == nil {
		return kerr.InvalidParam("postmortem: incident is nil")
	}
	if err := inc.Validate(); err != nil {
		return kerr.Wrap(err, kerr.CodeInvalidParam, "postmortem: invalid incident")
	}
	return nil
}

func startSpan(ctx context.Context, tracer trace.Tracer, name, system, statement string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", system),
			attribute.String("db.statement", truncate(statement)),
		),
	)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError maps a storage failure onto the kernel taxonomy.
func wrapError(err error, message string) *kerr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return kerr.Canceled(err).WithDetail("op", message)
	}
	return kerr.Wrap(err, kerr.CodeFileIO, message)
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxStatementLen {
		return s
	}
	return string(r[:maxStatementLen]) + "..."
}
