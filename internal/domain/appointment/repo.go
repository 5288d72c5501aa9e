package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows a patient's appointment listing.
type ListFilter struct {
	Status   *Status
	Upcoming bool
	Now      time.Time
}

// DayStats aggregates a hospital's appointments for one day, for the staff
// check-in dashboard.
type DayStats struct {
	Date       string `json:"date"`
	Total      int    `json:"total"`
	Pending    int    `json:"pending"`
	CheckedIn  int    `json:"checked_in"`
	InProgress int    `json:"in_progress"`
	Completed  int    `json:"completed"`
	Cancelled  int    `json:"cancelled"`
	NoShow     int    `json:"no_show"`
}

// Repository provides appointment persistence. Reservation methods own the
// transactional slot-conflict enforcement: callers get either a stored
// appointment or a *SlotConflictError, never a silent double booking.
type Repository interface {
	// CreateReserved inserts a new appointment after verifying no active
	// appointment in the same hospital department starts within the buffer
	// window. Assigns ID, AppointmentNumber and TokenNumber on success.
	CreateReserved(ctx context.Context, a *Appointment) error

	// RescheduleReserved moves an existing appointment to newTime under the
	// same window check, excluding the appointment itself, and resets its
	// status to BOOKED. The appointment keeps its number and token. Only
	// rows still in an active status move; a row a concurrent writer
	// already closed yields *InvalidStateError.
	RescheduleReserved(ctx context.Context, a *Appointment, newTime time.Time) error

	// GetByID returns the appointment or (nil, nil) when absent.
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Update persists lifecycle fields (status, notes, timestamps,
	// cancellation details) of an existing appointment, but only while the
	// row is still in status from. A row a concurrent writer moved out of
	// that status yields *InvalidStateError.
	Update(ctx context.Context, a *Appointment, from Status) error

	ListByPatient(ctx context.Context, patientID uuid.UUID, f ListFilter, limit, offset int) ([]*Appointment, int, error)

	// ActiveStartsBetween returns the start times of active appointments for
	// a hospital department within [from, to], both bounds inclusive.
	ActiveStartsBetween(ctx context.Context, hospitalID, departmentID uuid.UUID, from, to time.Time) ([]time.Time, error)

	// StatsForDay aggregates status counts for a hospital over [dayStart, dayEnd).
	StatsForDay(ctx context.Context, hospitalID uuid.UUID, dayStart, dayEnd time.Time) (*DayStats, error)
}
