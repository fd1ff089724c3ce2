package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/minerva-edu/minerva-edu/internal/jobs"
)

// AuditRecordJob persists audit events into audit_logs.
type AuditRecordJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditRecordJob initialises the audit record handler.
func NewAuditRecordJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditRecordJob {
	return &AuditRecordJob{Pool: pool, Logger: logger, Metrics: metrics}
}

// Handle executes the audit insert.
func (j *AuditRecordJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("audit record: handler not configured")
	}
	var payload AuditRecordPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Kind == "" {
		return asynq.SkipRetry
	}
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = time.Now().UTC()
	}

	tracker := j.Metrics.Track(TaskAuditRecord)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		return asynq.SkipRetry
	}
	_, resultErr = j.Pool.Exec(ctx,
		`INSERT INTO audit_logs (kind, subject_id, attributes, occurred_at) VALUES ($1, $2, $3, $4)`,
		payload.Kind, payload.SubjectID, attrs, payload.OccurredAt)
	if resultErr != nil {
		j.Logger.Error("persist audit event",
			slog.String("kind", payload.Kind), slog.Any("error", resultErr))
		return resultErr
	}
	return nil
}
