package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type captureQueue struct {
	mu     sync.Mutex
	events []Event
	fail   error
}

func (q *captureQueue) EnqueueAuditRecord(ctx context.Context, event Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		return q.fail
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	q.events = append(q.events, event)
	return nil
}

func TestQueueEmitterDelivers(t *testing.T) {
	queue := &captureQueue{}
	emitter := NewQueueEmitter(queue, slog.Default())

	emitter.Emit(context.Background(), Event{
		Kind:      KindLoginSucceeded,
		SubjectID: "user-1",
	})

	require.Len(t, queue.events, 1)
	require.Equal(t, KindLoginSucceeded, queue.events[0].Kind)
}

func TestQueueEmitterSwallowsFailures(t *testing.T) {
	queue := &captureQueue{fail: errors.New("sink down")}
	emitter := NewQueueEmitter(queue, slog.Default())

	// Must not panic and must not surface the error.
	emitter.Emit(context.Background(), Event{Kind: KindLoginFailed, SubjectID: "user-1"})
	require.Empty(t, queue.events)
}

func TestQueueEmitterDetachesFromCancelledContext(t *testing.T) {
	queue := &captureQueue{}
	emitter := NewQueueEmitter(queue, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	emitter.Emit(ctx, Event{Kind: KindRegistered, SubjectID: "user-2"})

	// The caller's cancellation does not stop delivery.
	require.Len(t, queue.events, 1)
}
