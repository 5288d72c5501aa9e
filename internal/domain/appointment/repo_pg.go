package appointment

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
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

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepo creates the PostgreSQL-backed appointment repository.
func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const apptCols = `id, appointment_number, patient_id, hospital_id, department_id, doctor_id,
	appointment_type, scheduled_at, status, priority, token_number, reason,
	notes, patient_notes, staff_notes,
	check_in_time, consultation_start, consultation_end,
	cancellation_reason, cancelled_by_id, cancelled_by_kind, cancelled_at,
	created_by_id, created_by_kind, created_at, updated_at`

func scanAppt(row pgx.Row) (*Appointment, error) {
	var (
		a               Appointment
		cancelledByID   *uuid.UUID
		cancelledByKind *string
	)
	err := row.Scan(
		&a.ID, &a.AppointmentNumber, &a.PatientID, &a.HospitalID, &a.DepartmentID, &a.DoctorID,
		&a.Type, &a.ScheduledAt, &a.Status, &a.Priority, &a.TokenNumber, &a.Reason,
		&a.Notes, &a.PatientNotes, &a.StaffNotes,
		&a.CheckInTime, &a.ConsultationStart, &a.ConsultationEnd,
		&a.CancellationReason, &cancelledByID, &cancelledByKind, &a.CancelledAt,
		&a.CreatedBy.ActorID, &a.CreatedBy.ActorKind, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if cancelledByID != nil && cancelledByKind != nil {
		a.CancelledBy = &ActorRef{ActorID: *cancelledByID, ActorKind: *cancelledByKind}
	}
	a.ScheduledAt = a.ScheduledAt.UTC()
	return &a, nil
}

// slotLockKey derives the advisory lock key for one slot bucket of one
// hospital department.
func slotLockKey(hospitalID, departmentID uuid.UUID, bucket time.Time) int64 {
	h := fnv.New64a()
	h.Write(hospitalID[:])
	h.Write(departmentID[:])
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(bucket.Unix()))
	h.Write(b[:])
	return int64(h.Sum64())
}

// lockSlotRange takes transaction-scoped advisory locks on the candidate
// bucket and both neighbours, in ascending time order so concurrent
// reservations of overlapping ranges cannot deadlock. The window check that
// follows is then race-free: any competing booking within the buffer window
// holds at least one of the same locks.
func lockSlotRange(ctx context.Context, tx pgx.Tx, hospitalID, departmentID uuid.UUID, at time.Time) error {
	bucket := SlotBucket(at)
	for _, b := range []time.Time{bucket.Add(-SlotDuration), bucket, bucket.Add(SlotDuration)} {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, slotLockKey(hospitalID, departmentID, b)); err != nil {
			return fmt.Errorf("acquire slot lock: %w", err)
		}
	}
	return nil
}

// hasActiveConflict reports whether any active appointment in the department
// starts within the inclusive buffer window around at. excludeID skips the
// appointment being rescheduled.
func hasActiveConflict(ctx context.Context, tx pgx.Tx, hospitalID, departmentID uuid.UUID, at time.Time, excludeID uuid.UUID) (bool, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment
		WHERE hospital_id = $1 AND department_id = $2
		  AND status IN ('BOOKED', 'CONFIRMED')
		  AND scheduled_at >= $3 AND scheduled_at <= $4
		  AND id <> $5`,
		hospitalID, departmentID, at.Add(-ConflictWindow), at.Add(ConflictWindow), excludeID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("conflict check: %w", err)
	}
	return n > 0, nil
}

// isSlotUniqueViolation recognises the partial unique index on
// (hospital_id, department_id, slot_bucket). It is the backstop behind the
// advisory locks: a violation still means the slot was taken.
func isSlotUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "appointment_active_slot_uq"
}

func (r *repoPG) CreateReserved(ctx context.Context, a *Appointment) error {
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		tx := db.TxFromContext(ctx)

		if err := lockSlotRange(ctx, tx, a.HospitalID, a.DepartmentID, a.ScheduledAt); err != nil {
			return err
		}
		conflict, err := hasActiveConflict(ctx, tx, a.HospitalID, a.DepartmentID, a.ScheduledAt, uuid.Nil)
		if err != nil {
			return err
		}
		if conflict {
			return &SlotConflictError{HospitalID: a.HospitalID, DepartmentID: a.DepartmentID, ScheduledAt: a.ScheduledAt}
		}

		day := a.ScheduledAt.UTC().Truncate(24 * time.Hour)

		var seq int
		err = tx.QueryRow(ctx, `
			INSERT INTO appointment_counter (day, seq) VALUES ($1, 1)
			ON CONFLICT (day) DO UPDATE SET seq = appointment_counter.seq + 1
			RETURNING seq`, day).Scan(&seq)
		if err != nil {
			return fmt.Errorf("next appointment number: %w", err)
		}
		a.AppointmentNumber = FormatNumber(day, seq)

		var token int
		err = tx.QueryRow(ctx, `
			SELECT COUNT(*) + 1 FROM appointment
			WHERE hospital_id = $1 AND department_id = $2
			  AND scheduled_at >= $3 AND scheduled_at < $4`,
			a.HospitalID, a.DepartmentID, day, day.Add(24*time.Hour),
		).Scan(&token)
		if err != nil {
			return fmt.Errorf("next token number: %w", err)
		}
		a.TokenNumber = &token

		a.ID = uuid.New()
		err = tx.QueryRow(ctx, `
			INSERT INTO appointment (
				id, appointment_number, patient_id, hospital_id, department_id, doctor_id,
				appointment_type, scheduled_at, slot_bucket, status, priority, token_number, reason,
				notes, patient_notes, created_by_id, created_by_kind
			) VALUES (
				$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
			) RETURNING created_at, updated_at`,
			a.ID, a.AppointmentNumber, a.PatientID, a.HospitalID, a.DepartmentID, a.DoctorID,
			a.Type, a.ScheduledAt, SlotBucket(a.ScheduledAt), a.Status, a.Priority, a.TokenNumber, a.Reason,
			a.Notes, a.PatientNotes, a.CreatedBy.ActorID, a.CreatedBy.ActorKind,
		).Scan(&a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		return nil
	})
	if isSlotUniqueViolation(err) {
		return &SlotConflictError{HospitalID: a.HospitalID, DepartmentID: a.DepartmentID, ScheduledAt: a.ScheduledAt}
	}
	return err
}

func (r *repoPG) RescheduleReserved(ctx context.Context, a *Appointment, newTime time.Time) error {
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		tx := db.TxFromContext(ctx)

		if err := lockSlotRange(ctx, tx, a.HospitalID, a.DepartmentID, newTime); err != nil {
			return err
		}
		conflict, err := hasActiveConflict(ctx, tx, a.HospitalID, a.DepartmentID, newTime, a.ID)
		if err != nil {
			return err
		}
		if conflict {
			return &SlotConflictError{HospitalID: a.HospitalID, DepartmentID: a.DepartmentID, ScheduledAt: newTime}
		}

		err = tx.QueryRow(ctx, `
			UPDATE appointment
			SET scheduled_at = $2, slot_bucket = $3, status = $4, updated_at = now()
			WHERE id = $1 AND status IN ('BOOKED', 'CONFIRMED')
			RETURNING updated_at`,
			a.ID, newTime, SlotBucket(newTime), StatusBooked,
		).Scan(&a.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.staleRowError(ctx, a.ID, "reschedule")
		}
		if err != nil {
			return fmt.Errorf("reschedule appointment: %w", err)
		}
		a.ScheduledAt = newTime
		a.Status = StatusBooked
		return nil
	})
	if isSlotUniqueViolation(err) {
		return &SlotConflictError{HospitalID: a.HospitalID, DepartmentID: a.DepartmentID, ScheduledAt: newTime}
	}
	return err
}

// staleRowError distinguishes a missing row from one whose status moved on
// under a concurrent writer.
func (r *repoPG) staleRowError(ctx context.Context, id uuid.UUID, op string) error {
	var current Status
	err := r.conn(ctx).QueryRow(ctx, `SELECT status FROM appointment WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return &NotFoundError{Resource: "appointment", ID: id}
	}
	if err != nil {
		return fmt.Errorf("appointment status recheck: %w", err)
	}
	return &InvalidStateError{Current: current, Operation: op}
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppt(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("appointment get by id: %w", err)
	}
	return a, nil
}

func (r *repoPG) Update(ctx context.Context, a *Appointment, from Status) error {
	var (
		cancelledByID   *uuid.UUID
		cancelledByKind *string
	)
	if a.CancelledBy != nil {
		cancelledByID = &a.CancelledBy.ActorID
		cancelledByKind = &a.CancelledBy.ActorKind
	}

	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment
		SET status = $2, notes = $3, patient_notes = $4, staff_notes = $5,
		    check_in_time = $6, consultation_start = $7, consultation_end = $8,
		    cancellation_reason = $9, cancelled_by_id = $10, cancelled_by_kind = $11, cancelled_at = $12,
		    updated_at = now()
		WHERE id = $1 AND status = $13
		RETURNING updated_at`,
		a.ID, a.Status, a.Notes, a.PatientNotes, a.StaffNotes,
		a.CheckInTime, a.ConsultationStart, a.ConsultationEnd,
		a.CancellationReason, cancelledByID, cancelledByKind, a.CancelledAt,
		from,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.staleRowError(ctx, a.ID, "update")
	}
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	where := `WHERE patient_id = $1`
	args := []interface{}{patientID}

	if f.Status != nil {
		args = append(args, *f.Status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.Upcoming {
		args = append(args, f.Now)
		where += fmt.Sprintf(` AND scheduled_at >= $%d AND status = 'BOOKED'`, len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM appointment %s ORDER BY scheduled_at ASC LIMIT $%d OFFSET $%d`,
		apptCols, where, len(args)-1, len(args))

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppt(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *repoPG) ActiveStartsBetween(ctx context.Context, hospitalID, departmentID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT scheduled_at FROM appointment
		WHERE hospital_id = $1 AND department_id = $2
		  AND status IN ('BOOKED', 'CONFIRMED')
		  AND scheduled_at >= $3 AND scheduled_at <= $4
		ORDER BY scheduled_at`,
		hospitalID, departmentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list active starts: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan start time: %w", err)
		}
		out = append(out, t.UTC())
	}
	return out, rows.Err()
}

func (r *repoPG) StatsForDay(ctx context.Context, hospitalID uuid.UUID, dayStart, dayEnd time.Time) (*DayStats, error) {
	var s DayStats
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status IN ('BOOKED', 'CONFIRMED')),
		       COUNT(*) FILTER (WHERE status = 'CHECKED_IN'),
		       COUNT(*) FILTER (WHERE status = 'IN_PROGRESS'),
		       COUNT(*) FILTER (WHERE status = 'COMPLETED'),
		       COUNT(*) FILTER (WHERE status = 'CANCELLED'),
		       COUNT(*) FILTER (WHERE status = 'NO_SHOW')
		FROM appointment
		WHERE hospital_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3`,
		hospitalID, dayStart, dayEnd,
	).Scan(&s.Total, &s.Pending, &s.CheckedIn, &s.InProgress, &s.Completed, &s.Cancelled, &s.NoShow)
	if err != nil {
		return nil, fmt.Errorf("day stats: %w", err)
	}
	s.Date = dayStart.UTC().Format("2006-01-02")
	return &s, nil
}
