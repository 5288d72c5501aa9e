// Package audit records who did what to which appointment. Entries are
// appended fire-and-forget; a failed append never blocks or fails the
// operation that produced it.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Entry is a single audit record.
type Entry struct {
	ID         uuid.UUID         `json:"id"`
	ActorID    uuid.UUID         `json:"actor_id"`
	ActorKind  string            `json:"actor_kind"`
	Action     string            `json:"action"`
	Resource   string            `json:"resource"`
	ResourceID uuid.UUID         `json:"resource_id"`
	HospitalID *uuid.UUID        `json:"hospital_id,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// LogRecorder writes audit entries to the structured log. Development
// deployments use it instead of the audit_log table.
type LogRecorder struct {
	logger zerolog.Logger
}

// NewLogRecorder creates a Recorder backed by zerolog.
func NewLogRecorder(logger zerolog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Record(_ context.Context, e Entry) error {
	evt := r.logger.Info().
		Str("type", "audit").
		Str("actor_id", e.ActorID.String()).
		Str("actor_kind", e.ActorKind).
		Str("action", e.Action).
		Str("resource", e.Resource).
		Str("resource_id", e.ResourceID.String()).
		Str("request_id", e.RequestID).
		Time("occurred_at", e.OccurredAt)
	if e.HospitalID != nil {
		evt = evt.Str("hospital_id", e.HospitalID.String())
	}
	for k, v := range e.Details {
		evt = evt.Str("detail_"+k, v)
	}
	evt.Msg("audit")
	return nil
}

// PGRecorder appends audit entries to the audit_log table.
type PGRecorder struct {
	pool *pgxpool.Pool
}

// NewPGRecorder creates a Recorder backed by PostgreSQL.
func NewPGRecorder(pool *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{pool: pool}
}

func (r *PGRecorder) Record(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (id, actor_id, actor_kind, action, resource, resource_id,
			hospital_id, details, ip_address, request_id, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.ID, e.ActorID, e.ActorKind, e.Action, e.Resource, e.ResourceID,
		e.HospitalID, e.Details, e.IPAddress, e.RequestID, e.OccurredAt)
	return err
}
