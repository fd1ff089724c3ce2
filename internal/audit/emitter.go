// Package audit emits security-relevant events to the audit sink. Emission
// is fire-and-forget: it never blocks the request outcome and never
// propagates sink failures to the caller.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Event kinds emitted by the identity core.
const (
	KindLoginSucceeded      = "auth.login.succeeded"
	KindLoginFailed         = "auth.login.failed"
	KindRegistered          = "auth.principal.registered"
	KindTokenReuse          = "auth.token.reuse_detected"
	KindSessionRevoked      = "auth.session.revoked"
	KindSessionsInvalidated = "auth.sessions.invalidated"
)

// Event is a single audit record.
type Event struct {
	Kind       string
	SubjectID  string
	Attributes map[string]any
}

// Emitter delivers events to the audit sink at most once.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// Enqueuer is the queue client side of the audit pipeline.
type Enqueuer interface {
	EnqueueAuditRecord(ctx context.Context, event Event) error
}

// QueueEmitter hands events to the background queue. Delivery runs on a
// detached context so client cancellation does not drop the record, but the
// enqueue itself stays bounded.
type QueueEmitter struct {
	queue   Enqueuer
	logger  *slog.Logger
	timeout time.Duration
}

// NewQueueEmitter constructs a queue-backed emitter.
func NewQueueEmitter(queue Enqueuer, logger *slog.Logger) *QueueEmitter {
	return &QueueEmitter{queue: queue, logger: logger, timeout: 2 * time.Second}
}

// Emit enqueues the event. Failures are logged and swallowed.
func (e *QueueEmitter) Emit(ctx context.Context, event Event) {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	if err := e.queue.EnqueueAuditRecord(detached, event); err != nil {
		e.logger.Warn("audit emit failed",
			slog.String("kind", event.Kind),
			slog.String("subject", event.SubjectID),
			slog.Any("error", err))
	}
}

// NopEmitter discards every event.
type NopEmitter struct{}

// Emit does nothing.
func (NopEmitter) Emit(context.Context, Event) {}

var _ Emitter = (*QueueEmitter)(nil)
var _ Emitter = NopEmitter{}
