package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusBooked      Status = "BOOKED"
	StatusConfirmed   Status = "CONFIRMED"
	StatusCheckedIn   Status = "CHECKED_IN"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusCompleted   Status = "COMPLETED"
	StatusCancelled   Status = "CANCELLED"
	StatusNoShow      Status = "NO_SHOW"
	StatusRescheduled Status = "RESCHEDULED"
)

var validStatuses = map[Status]bool{
	StatusBooked: true, StatusConfirmed: true, StatusCheckedIn: true,
	StatusInProgress: true, StatusCompleted: true, StatusCancelled: true,
	StatusNoShow: true, StatusRescheduled: true,
}

// Active statuses occupy a slot and count toward conflict detection.
func (s Status) Active() bool {
	return s == StatusBooked || s == StatusConfirmed
}

// Terminal statuses admit no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// transitions holds the allowed state machine edges. Rescheduling resets an
// active appointment back to BOOKED in place, hence the BOOKED self-edge.
var transitions = map[Status]map[Status]bool{
	StatusBooked: {
		StatusBooked: true, StatusConfirmed: true, StatusCheckedIn: true,
		StatusCancelled: true, StatusNoShow: true,
	},
	StatusConfirmed: {
		StatusBooked: true, StatusCheckedIn: true,
		StatusCancelled: true, StatusNoShow: true,
	},
	StatusCheckedIn:  {StatusInProgress: true},
	StatusInProgress: {StatusCompleted: true},
}

// CanTransition reports whether the state machine allows moving from one
// status to another.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Appointment types, matching the booking form.
const (
	TypeConsultation = "CONSULTATION"
	TypeFollowUp     = "FOLLOW_UP"
	TypeEmergency    = "EMERGENCY"
	TypeCheckup      = "CHECKUP"
	TypeVaccination  = "VACCINATION"
	TypeLabTest      = "LAB_TEST"
	TypeScan         = "SCAN"
	TypeTherapy      = "THERAPY"
	TypeOther        = "OTHER"
)

var validTypes = map[string]bool{
	TypeConsultation: true, TypeFollowUp: true, TypeEmergency: true,
	TypeCheckup: true, TypeVaccination: true, TypeLabTest: true,
	TypeScan: true, TypeTherapy: true, TypeOther: true,
}

var validPriorities = map[string]bool{
	"NORMAL": true, "URGENT": true, "EMERGENCY": true,
}

// DefaultReason is used when a booking arrives without one.
const DefaultReason = "General consultation"

// ActorRef records which principal performed an action on an appointment.
type ActorRef struct {
	ActorID   uuid.UUID `db:"actor_id" json:"actor_id"`
	ActorKind string    `db:"actor_kind" json:"actor_kind"`
}

// Appointment maps to the appointment table.
type Appointment struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	AppointmentNumber string     `db:"appointment_number" json:"appointment_number"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	HospitalID        uuid.UUID  `db:"hospital_id" json:"hospital_id"`
	DepartmentID      uuid.UUID  `db:"department_id" json:"department_id"`
	DoctorID          *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	Type              string     `db:"appointment_type" json:"appointment_type"`
	ScheduledAt       time.Time  `db:"scheduled_at" json:"scheduled_at"`
	Status            Status     `db:"status" json:"status"`
	Priority          string     `db:"priority" json:"priority"`
	TokenNumber       *int       `db:"token_number" json:"token_number,omitempty"`
	Reason            string     `db:"reason" json:"reason"`
	Notes             *string    `db:"notes" json:"notes,omitempty"`
	PatientNotes      *string    `db:"patient_notes" json:"patient_notes,omitempty"`
	StaffNotes        *string    `db:"staff_notes" json:"staff_notes,omitempty"`
	CheckInTime       *time.Time `db:"check_in_time" json:"check_in_time,omitempty"`
	ConsultationStart *time.Time `db:"consultation_start" json:"consultation_start,omitempty"`
	ConsultationEnd   *time.Time `db:"consultation_end" json:"consultation_end,omitempty"`
	CancellationReason *string   `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledBy       *ActorRef  `db:"-" json:"cancelled_by,omitempty"`
	CancelledAt       *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedBy         ActorRef   `db:"-" json:"created_by"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Duration returns the consultation length in minutes, or nil when the
// consultation has not finished.
func (a *Appointment) Duration() *int {
	if a.ConsultationStart == nil || a.ConsultationEnd == nil {
		return nil
	}
	minutes := int(a.ConsultationEnd.Sub(*a.ConsultationStart) / time.Minute)
	return &minutes
}

// Slot and conflict geometry.
const (
	SlotDuration   = 30 * time.Minute
	ConflictWindow = 30 * time.Minute
)

// SlotBucket truncates a time to its 30-minute slot, in UTC. Two active
// appointments can never share a bucket.
func SlotBucket(t time.Time) time.Time {
	return t.UTC().Truncate(SlotDuration)
}

// InConflictWindow reports whether two start times are within the buffer
// window of each other. The bound is inclusive: starts exactly 30 minutes
// apart still conflict.
func InConflictWindow(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= ConflictWindow
}

// FormatNumber renders the human-facing appointment number for the given
// booking day and per-day sequence, e.g. APT-20260315-00042.
func FormatNumber(day time.Time, seq int) string {
	return fmt.Sprintf("APT-%s-%05d", day.UTC().Format("20060102"), seq)
}
