package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/minerva-edu/minerva-edu/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditRecord is the task type for persisting audit events.
	TaskAuditRecord = "audit:record"
)

// AuditRecordPayload carries one audit event to the worker.
type AuditRecordPayload struct {
	Kind       string         `json:"kind"`
	SubjectID  string         `json:"subject_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewAuditRecordTask constructs an Asynq task for the event.
func NewAuditRecordTask(payload AuditRecordPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRecord, data), nil
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueAuditRecord enqueues an audit event for persistence. It satisfies
// audit.Enqueuer.
func (c *Client) EnqueueAuditRecord(ctx context.Context, event audit.Event) error {
	task, err := NewAuditRecordTask(AuditRecordPayload{
		Kind:       event.Kind,
		SubjectID:  event.SubjectID,
		Attributes: event.Attributes,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

var _ audit.Enqueuer = (*Client)(nil)
