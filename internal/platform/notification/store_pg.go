package notification

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgStore struct{ pool *pgxpool.Pool }

// NewPGStore creates a Store backed by the notification table.
func NewPGStore(pool *pgxpool.Pool) Store { return &pgStore{pool: pool} }

const notificationCols = `id, patient_id, kind, title, message, read, created_at, read_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.PatientID, &n.Kind, &n.Title, &n.Message, &n.Read, &n.CreatedAt, &n.ReadAt)
	return &n, err
}

func (s *pgStore) Insert(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	return s.pool.QueryRow(ctx, `
		INSERT INTO notification (id, patient_id, kind, title, message)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		n.ID, n.PatientID, n.Kind, n.Title, n.Message).Scan(&n.CreatedAt)
}

func (s *pgStore) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notification WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+notificationCols+` FROM notification WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, nil
}

func (s *pgStore) MarkRead(ctx context.Context, patientID, id uuid.UUID) (*Notification, error) {
	return scanNotification(s.pool.QueryRow(ctx, `
		UPDATE notification SET read = TRUE, read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND patient_id = $2
		RETURNING `+notificationCols, id, patientID))
}
