package appointment

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nirujan14/HealthCareSystem/internal/domain/patient"
	"github.com/nirujan14/HealthCareSystem/internal/platform/audit"
	"github.com/nirujan14/HealthCareSystem/internal/platform/auth"
	"github.com/nirujan14/HealthCareSystem/internal/platform/notification"
	"github.com/nirujan14/HealthCareSystem/internal/platform/websocket"
)

// Notifier delivers in-app notifications to patients.
type Notifier interface {
	Notify(ctx context.Context, patientID uuid.UUID, kind notification.Kind, data map[string]string) (*notification.Notification, error)
}

// Service implements the appointment lifecycle: booking with slot-conflict
// enforcement, cancellation, rescheduling, and the staff check-in flow.
type Service struct {
	repo     Repository
	patients patient.ProfileStore
	events   websocket.EventPublisher
	auditor  audit.Recorder
	notifier Notifier
	log      zerolog.Logger

	now func() time.Time
}

// NewService wires the appointment service. events, auditor and notifier may
// be nil; the corresponding side effects are then skipped.
func NewService(repo Repository, patients patient.ProfileStore, events websocket.EventPublisher,
	auditor audit.Recorder, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		patients: patients,
		events:   events,
		auditor:  auditor,
		notifier: notifier,
		log:      logger,
		now:      time.Now,
	}
}

// CreateInput carries a booking request.
type CreateInput struct {
	PatientID    uuid.UUID
	HospitalID   uuid.UUID
	DepartmentID uuid.UUID
	DoctorID     *uuid.UUID
	ScheduledAt  time.Time
	Type         string
	Priority     string
	Reason       string
	PatientNotes *string
}

// Create books a new appointment. Patients always book for themselves; staff
// book on behalf of a patient within their own hospital.
func (s *Service) Create(ctx context.Context, actor auth.Actor, in CreateInput) (*Appointment, error) {
	if actor.IsStaff() {
		if in.PatientID == uuid.Nil {
			return nil, &ValidationError{Field: "patient_id", Reason: "required when booking on behalf of a patient"}
		}
		if !actor.WorksAt(in.HospitalID) {
			return nil, &AuthorizationError{Reason: "staff can only book appointments at their own hospital"}
		}
	} else {
		in.PatientID = actor.ID
	}

	if in.HospitalID == uuid.Nil {
		return nil, &ValidationError{Field: "hospital_id", Reason: "required"}
	}
	if in.DepartmentID == uuid.Nil {
		return nil, &ValidationError{Field: "department_id", Reason: "required"}
	}
	if !in.ScheduledAt.After(s.now()) {
		return nil, &ValidationError{Field: "scheduled_at", Reason: "must be in the future"}
	}
	if in.Type == "" {
		in.Type = TypeConsultation
	}
	if !validTypes[in.Type] {
		return nil, &ValidationError{Field: "appointment_type", Reason: "unknown type " + in.Type}
	}
	if in.Priority == "" {
		in.Priority = "NORMAL"
	}
	if !validPriorities[in.Priority] {
		return nil, &ValidationError{Field: "priority", Reason: "unknown priority " + in.Priority}
	}
	if in.Reason == "" {
		in.Reason = DefaultReason
	}

	a := &Appointment{
		PatientID:    in.PatientID,
		HospitalID:   in.HospitalID,
		DepartmentID: in.DepartmentID,
		DoctorID:     in.DoctorID,
		Type:         in.Type,
		ScheduledAt:  in.ScheduledAt.UTC(),
		Status:       StatusBooked,
		Priority:     in.Priority,
		Reason:       in.Reason,
		PatientNotes: in.PatientNotes,
		CreatedBy:    ActorRef{ActorID: actor.ID, ActorKind: actor.Kind},
	}

	if err := s.repo.CreateReserved(ctx, a); err != nil {
		return nil, err
	}

	s.dispatch(a, actor, "appointment.create", websocket.EventAppointmentCreated, notification.KindConfirmed)
	return a, nil
}

// GetByID returns an appointment the actor is allowed to see. Appointments
// outside the actor's scope are reported as not found rather than forbidden.
func (s *Service) GetByID(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	return s.load(ctx, actor, id)
}

// ListForPatient lists a patient's appointments ordered by scheduled time.
// Patients can only list their own; staff can list any patient's.
func (s *Service) ListForPatient(ctx context.Context, actor auth.Actor, patientID uuid.UUID,
	f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	if patientID == uuid.Nil {
		patientID = actor.ID
	}
	if !actor.IsStaff() && patientID != actor.ID {
		return nil, 0, &AuthorizationError{Reason: "patients can only list their own appointments"}
	}
	if f.Upcoming && f.Now.IsZero() {
		f.Now = s.now().UTC()
	}
	return s.repo.ListByPatient(ctx, patientID, f, limit, offset)
}

// Cancel cancels an active appointment. Both the owning patient and staff at
// the appointment's hospital may cancel.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Appointment, error) {
	a, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, StatusCancelled) {
		return nil, &InvalidStateError{Current: a.Status, Operation: "cancel"}
	}

	if reason == "" {
		switch actor.Kind {
		case auth.KindStaff:
			reason = "Cancelled by staff"
		default:
			reason = "Cancelled by patient"
		}
	}

	from := a.Status
	now := s.now().UTC()
	a.Status = StatusCancelled
	a.CancellationReason = &reason
	a.CancelledBy = &ActorRef{ActorID: actor.ID, ActorKind: actor.Kind}
	a.CancelledAt = &now

	if err := s.repo.Update(ctx, a, from); err != nil {
		return nil, err
	}

	s.dispatch(a, actor, "appointment.cancel", websocket.EventAppointmentUpdated, notification.KindCancelled)
	return a, nil
}

// Reschedule moves an active appointment to a new start time. The slot
// window is enforced against everything except the appointment itself, so a
// conflict leaves the original booking untouched.
func (s *Service) Reschedule(ctx context.Context, actor auth.Actor, id uuid.UUID, newTime time.Time) (*Appointment, error) {
	a, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !a.Status.Active() {
		return nil, &InvalidStateError{Current: a.Status, Operation: "reschedule"}
	}
	if !newTime.After(s.now()) {
		return nil, &ValidationError{Field: "scheduled_at", Reason: "must be in the future"}
	}

	if err := s.repo.RescheduleReserved(ctx, a, newTime.UTC()); err != nil {
		return nil, err
	}

	s.dispatch(a, actor, "appointment.reschedule", websocket.EventAppointmentUpdated, notification.KindRescheduled)
	return a, nil
}

// CheckIn marks the patient as arrived. Staff only, scoped to their hospital.
// Also stamps the patient's last visit.
func (s *Service) CheckIn(ctx context.Context, actor auth.Actor, id uuid.UUID, staffNotes string) (*Appointment, error) {
	a, err := s.staffLoad(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, StatusCheckedIn) {
		return nil, &InvalidStateError{Current: a.Status, Operation: "check in"}
	}

	from := a.Status
	now := s.now().UTC()
	a.Status = StatusCheckedIn
	a.CheckInTime = &now
	if staffNotes != "" {
		a.StaffNotes = &staffNotes
	}

	if err := s.repo.Update(ctx, a, from); err != nil {
		return nil, err
	}

	if s.patients != nil {
		if err := s.patients.RecordVisit(ctx, a.PatientID, a.HospitalID, a.DepartmentID, now); err != nil {
			s.log.Warn().Err(err).Str("patient_id", a.PatientID.String()).Msg("failed to record patient visit")
		}
	}

	s.dispatch(a, actor, "appointment.checkin", websocket.EventAppointmentCheckedIn, notification.KindCheckedIn)
	return a, nil
}

// BeginConsultation moves a checked-in appointment into the consultation.
func (s *Service) BeginConsultation(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.staffLoad(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, StatusInProgress) {
		return nil, &InvalidStateError{Current: a.Status, Operation: "begin consultation for"}
	}

	from := a.Status
	now := s.now().UTC()
	a.Status = StatusInProgress
	a.ConsultationStart = &now

	if err := s.repo.Update(ctx, a, from); err != nil {
		return nil, err
	}

	s.dispatch(a, actor, "appointment.begin", websocket.EventAppointmentUpdated, "")
	return a, nil
}

// Complete finishes an in-progress consultation.
func (s *Service) Complete(ctx context.Context, actor auth.Actor, id uuid.UUID, staffNotes string) (*Appointment, error) {
	a, err := s.staffLoad(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, StatusCompleted) {
		return nil, &InvalidStateError{Current: a.Status, Operation: "complete"}
	}

	from := a.Status
	now := s.now().UTC()
	a.Status = StatusCompleted
	a.ConsultationEnd = &now
	if staffNotes != "" {
		a.StaffNotes = &staffNotes
	}

	if err := s.repo.Update(ctx, a, from); err != nil {
		return nil, err
	}

	s.dispatch(a, actor, "appointment.complete", websocket.EventAppointmentUpdated, "")
	return a, nil
}

// MarkNoShow records that the patient never arrived for an active
// appointment. Only allowed once the scheduled time has passed.
func (s *Service) MarkNoShow(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.staffLoad(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, StatusNoShow) {
		return nil, &InvalidStateError{Current: a.Status, Operation: "mark no-show for"}
	}
	if a.ScheduledAt.After(s.now()) {
		return nil, &ValidationError{Field: "scheduled_at", Reason: "appointment time has not passed yet"}
	}

	from := a.Status
	a.Status = StatusNoShow

	if err := s.repo.Update(ctx, a, from); err != nil {
		return nil, err
	}

	s.dispatch(a, actor, "appointment.no_show", websocket.EventAppointmentUpdated, "")
	return a, nil
}

// AvailableSlots builds the booking grid for a hospital department on one
// day. Queries one buffer window past each edge of the day so appointments
// just outside it still block the boundary slots.
func (s *Service) AvailableSlots(ctx context.Context, hospitalID, departmentID uuid.UUID, day time.Time) ([]Slot, error) {
	if hospitalID == uuid.Nil {
		return nil, &ValidationError{Field: "hospital_id", Reason: "required"}
	}
	if departmentID == uuid.Nil {
		return nil, &ValidationError{Field: "department_id", Reason: "required"}
	}

	y, m, d := day.UTC().Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	busy, err := s.repo.ActiveStartsBetween(ctx, hospitalID, departmentID,
		dayStart.Add(-ConflictWindow), dayStart.Add(24*time.Hour).Add(ConflictWindow))
	if err != nil {
		return nil, err
	}
	return DaySlots(dayStart, busy, s.now().UTC()), nil
}

// CheckInStats aggregates today's appointments for the staff actor's
// hospital.
func (s *Service) CheckInStats(ctx context.Context, actor auth.Actor) (*DayStats, error) {
	if !actor.IsStaff() || actor.HospitalID == nil {
		return nil, &AuthorizationError{Reason: "check-in stats are staff only"}
	}
	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return s.repo.StatsForDay(ctx, *actor.HospitalID, dayStart, dayStart.Add(24*time.Hour))
}

// load fetches an appointment and applies the visibility rule: patients see
// only their own, staff see only their hospital's. Anything else is not
// found.
func (s *Service) load(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &NotFoundError{Resource: "appointment", ID: id}
	}
	if actor.IsStaff() {
		if !actor.WorksAt(a.HospitalID) {
			return nil, &NotFoundError{Resource: "appointment", ID: id}
		}
	} else if a.PatientID != actor.ID {
		return nil, &NotFoundError{Resource: "appointment", ID: id}
	}
	return a, nil
}

// staffLoad is load plus the staff-only rule for the check-in flow.
func (s *Service) staffLoad(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	if !actor.IsStaff() {
		return nil, &AuthorizationError{Reason: "this operation is staff only"}
	}
	return s.load(ctx, actor, id)
}

type eventPayload struct {
	AppointmentNumber string    `json:"appointment_number"`
	Status            Status    `json:"status"`
	ScheduledAt       time.Time `json:"scheduled_at"`
	TokenNumber       *int      `json:"token_number,omitempty"`
}

// dispatch fires the post-commit side effects of a lifecycle change: a
// websocket event on the patient and hospital channels, an audit entry, and
// optionally an in-app notification. All of them are best effort and never
// gate the operation that already committed.
func (s *Service) dispatch(a *Appointment, actor auth.Actor, action, eventType string, kind notification.Kind) {
	snapshot := *a
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if s.events != nil {
			data, err := json.Marshal(eventPayload{
				AppointmentNumber: snapshot.AppointmentNumber,
				Status:            snapshot.Status,
				ScheduledAt:       snapshot.ScheduledAt,
				TokenNumber:       snapshot.TokenNumber,
			})
			if err == nil {
				for _, channel := range []string{
					websocket.PatientChannel(snapshot.PatientID),
					websocket.HospitalChannel(snapshot.HospitalID),
				} {
					event := websocket.Event{
						Type:          eventType,
						Channel:       channel,
						AppointmentID: snapshot.ID.String(),
						Data:          data,
					}
					if err := s.events.Publish(ctx, event); err != nil {
						s.log.Warn().Err(err).Str("channel", channel).Msg("failed to publish appointment event")
					}
				}
			}
		}

		if s.auditor != nil {
			entry := audit.Entry{
				ActorID:    actor.ID,
				ActorKind:  actor.Kind,
				Action:     action,
				Resource:   "appointment",
				ResourceID: snapshot.ID,
				HospitalID: &snapshot.HospitalID,
				Details: map[string]string{
					"appointment_number": snapshot.AppointmentNumber,
					"status":             string(snapshot.Status),
				},
			}
			if err := s.auditor.Record(ctx, entry); err != nil {
				s.log.Warn().Err(err).Str("action", action).Msg("failed to record audit entry")
			}
		}

		if s.notifier != nil && kind != "" {
			data := map[string]string{
				"appointment_number": snapshot.AppointmentNumber,
				"date":               snapshot.ScheduledAt.Format("2006-01-02"),
				"time":               snapshot.ScheduledAt.Format("15:04"),
				"reason":             snapshot.Reason,
			}
			if snapshot.CancellationReason != nil {
				data["reason"] = *snapshot.CancellationReason
			}
			if snapshot.TokenNumber != nil {
				data["token"] = strconv.Itoa(*snapshot.TokenNumber)
			}
			if _, err := s.notifier.Notify(ctx, snapshot.PatientID, kind, data); err != nil {
				s.log.Warn().Err(err).Str("kind", string(kind)).Msg("failed to deliver notification")
			}
		}
	}()
}
