package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nirujan14/HealthCareSystem/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type profileStorePG struct {
	pool *pgxpool.Pool
}

// NewProfileStore creates the PostgreSQL-backed ProfileStore.
func NewProfileStore(pool *pgxpool.Pool) ProfileStore {
	return &profileStorePG{pool: pool}
}

func (s *profileStorePG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const profileCols = `id, full_name, last_visit_at, last_visit_hospital_id, last_visit_department_id, created_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.FullName, &p.LastVisitAt, &p.LastVisitHospitalID, &p.LastVisitDepartmentID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *profileStorePG) GetByID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	p, err := scanProfile(s.conn(ctx).QueryRow(ctx,
		`SELECT `+profileCols+` FROM patient WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("patient get by id: %w", err)
	}
	return p, nil
}

func (s *profileStorePG) RecordVisit(ctx context.Context, patientID, hospitalID, departmentID uuid.UUID, at time.Time) error {
	_, err := s.conn(ctx).Exec(ctx, `
		UPDATE patient
		SET last_visit_at = $2, last_visit_hospital_id = $3, last_visit_department_id = $4
		WHERE id = $1`,
		patientID, at, hospitalID, departmentID)
	if err != nil {
		return fmt.Errorf("patient record visit: %w", err)
	}
	return nil
}
