package appointment

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nirujan14/HealthCareSystem/internal/domain/patient"
	"github.com/nirujan14/HealthCareSystem/internal/platform/auth"
)

// memRepo is an in-memory Repository enforcing the same slot-conflict rules
// as the PostgreSQL implementation.
type memRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Appointment
	seq   int
}

func newMemRepo() *memRepo {
	return &memRepo{items: map[uuid.UUID]*Appointment{}}
}

func (r *memRepo) conflicts(hospitalID, departmentID uuid.UUID, at time.Time, exclude uuid.UUID) bool {
	for _, a := range r.items {
		if a.ID == exclude || a.HospitalID != hospitalID || a.DepartmentID != departmentID {
			continue
		}
		if a.Status.Active() && InConflictWindow(a.ScheduledAt, at) {
			return true
		}
	}
	return false
}

func (r *memRepo) CreateReserved(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conflicts(a.HospitalID, a.DepartmentID, a.ScheduledAt, uuid.Nil) {
		return &SlotConflictError{HospitalID: a.HospitalID, DepartmentID: a.DepartmentID, ScheduledAt: a.ScheduledAt}
	}

	r.seq++
	a.ID = uuid.New()
	a.AppointmentNumber = FormatNumber(a.ScheduledAt, r.seq)
	token := r.seq
	a.TokenNumber = &token
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt

	stored := *a
	r.items[a.ID] = &stored
	return nil
}

func (r *memRepo) RescheduleReserved(_ context.Context, a *Appointment, newTime time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conflicts(a.HospitalID, a.DepartmentID, newTime, a.ID) {
		return &SlotConflictError{HospitalID: a.HospitalID, DepartmentID: a.DepartmentID, ScheduledAt: newTime}
	}

	stored, ok := r.items[a.ID]
	if !ok {
		return &NotFoundError{Resource: "appointment", ID: a.ID}
	}
	if !stored.Status.Active() {
		return &InvalidStateError{Current: stored.Status, Operation: "reschedule"}
	}
	stored.ScheduledAt = newTime
	stored.Status = StatusBooked
	stored.UpdatedAt = time.Now().UTC()
	a.ScheduledAt = newTime
	a.Status = StatusBooked
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) Update(_ context.Context, a *Appointment, from Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[a.ID]
	if !ok {
		return &NotFoundError{Resource: "appointment", ID: a.ID}
	}
	if stored.Status != from {
		return &InvalidStateError{Current: stored.Status, Operation: "update"}
	}
	cp := *a
	cp.UpdatedAt = time.Now().UTC()
	r.items[a.ID] = &cp
	return nil
}

func (r *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []*Appointment
	for _, a := range r.items {
		if a.PatientID != patientID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.Upcoming && (a.Status != StatusBooked || a.ScheduledAt.Before(f.Now)) {
			continue
		}
		cp := *a
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ScheduledAt.Before(all[j].ScheduledAt) })

	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *memRepo) ActiveStartsBetween(_ context.Context, hospitalID, departmentID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []time.Time
	for _, a := range r.items {
		if a.HospitalID != hospitalID || a.DepartmentID != departmentID || !a.Status.Active() {
			continue
		}
		if !a.ScheduledAt.Before(from) && !a.ScheduledAt.After(to) {
			out = append(out, a.ScheduledAt)
		}
	}
	return out, nil
}

func (r *memRepo) StatsForDay(_ context.Context, hospitalID uuid.UUID, dayStart, dayEnd time.Time) (*DayStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &DayStats{Date: dayStart.Format("2006-01-02")}
	for _, a := range r.items {
		if a.HospitalID != hospitalID || a.ScheduledAt.Before(dayStart) || !a.ScheduledAt.Before(dayEnd) {
			continue
		}
		s.Total++
		switch a.Status {
		case StatusBooked, StatusConfirmed:
			s.Pending++
		case StatusCheckedIn:
			s.CheckedIn++
		case StatusInProgress:
			s.InProgress++
		case StatusCompleted:
			s.Completed++
		case StatusCancelled:
			s.Cancelled++
		case StatusNoShow:
			s.NoShow++
		}
	}
	return s, nil
}

var testNow = time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	repo     *memRepo
	profiles *profilesAdapter
}

// profilesAdapter is an in-memory patient.ProfileStore recording visits.
type profilesAdapter struct {
	visits map[uuid.UUID]visitStamp
	mu     sync.Mutex
}

type visitStamp struct {
	hospitalID   uuid.UUID
	departmentID uuid.UUID
	at           time.Time
}

func (p *profilesAdapter) GetByID(context.Context, uuid.UUID) (*patient.Profile, error) {
	return nil, nil
}

func (p *profilesAdapter) RecordVisit(_ context.Context, patientID, hospitalID, departmentID uuid.UUID, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visits[patientID] = visitStamp{hospitalID: hospitalID, departmentID: departmentID, at: at}
	return nil
}

func newFixture() *fixture {
	repo := newMemRepo()
	profiles := &profilesAdapter{visits: map[uuid.UUID]visitStamp{}}
	svc := NewService(repo, profiles, nil, nil, nil, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	return &fixture{svc: svc, repo: repo, profiles: profiles}
}

func patientActor() auth.Actor {
	return auth.Actor{ID: uuid.New(), Kind: auth.KindPatient}
}

func staffActor(hospitalID uuid.UUID) auth.Actor {
	return auth.Actor{ID: uuid.New(), Kind: auth.KindStaff, HospitalID: &hospitalID}
}

func validInput() CreateInput {
	return CreateInput{
		HospitalID:   uuid.New(),
		DepartmentID: uuid.New(),
		ScheduledAt:  testNow.Add(2 * time.Hour),
		Type:         TypeConsultation,
		Reason:       "Knee pain",
	}
}

func TestCreate_BooksAppointment(t *testing.T) {
	f := newFixture()
	actor := patientActor()

	a, err := f.svc.Create(context.Background(), actor, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Status != StatusBooked {
		t.Errorf("expected status BOOKED, got %s", a.Status)
	}
	if a.PatientID != actor.ID {
		t.Error("expected patient actor to book for itself")
	}
	if !strings.HasPrefix(a.AppointmentNumber, "APT-20260315-") {
		t.Errorf("unexpected appointment number %q", a.AppointmentNumber)
	}
	if a.TokenNumber == nil {
		t.Error("expected a token number")
	}
	if a.CreatedBy.ActorID != actor.ID || a.CreatedBy.ActorKind != auth.KindPatient {
		t.Errorf("unexpected created_by %+v", a.CreatedBy)
	}
}

func TestCreate_PastTimeRejected(t *testing.T) {
	f := newFixture()
	in := validInput()
	in.ScheduledAt = testNow.Add(-time.Hour)

	_, err := f.svc.Create(context.Background(), patientActor(), in)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Field != "scheduled_at" {
		t.Errorf("expected scheduled_at to be rejected, got %s", ve.Field)
	}
}

func TestCreate_DefaultsApplied(t *testing.T) {
	f := newFixture()
	in := validInput()
	in.Type = ""
	in.Priority = ""
	in.Reason = ""

	a, err := f.svc.Create(context.Background(), patientActor(), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Type != TypeConsultation || a.Priority != "NORMAL" || a.Reason != DefaultReason {
		t.Errorf("expected defaults, got type=%s priority=%s reason=%q", a.Type, a.Priority, a.Reason)
	}
}

func TestCreate_ConflictingSlotRejected(t *testing.T) {
	f := newFixture()
	in := validInput()

	if _, err := f.svc.Create(context.Background(), patientActor(), in); err != nil {
		t.Fatalf("first create: %v", err)
	}

	tests := []struct {
		name   string
		offset time.Duration
		wantOK bool
	}{
		{"same time", 0, false},
		{"15 minutes later", 15 * time.Minute, false},
		{"exactly 30 minutes later", 30 * time.Minute, false},
		{"exactly 30 minutes earlier", -30 * time.Minute, false},
		{"31 minutes later", 31 * time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := in
			next.ScheduledAt = in.ScheduledAt.Add(tt.offset)
			_, err := f.svc.Create(context.Background(), patientActor(), next)

			var sc *SlotConflictError
			if tt.wantOK && err != nil {
				t.Fatalf("expected booking to succeed, got %v", err)
			}
			if !tt.wantOK && !errors.As(err, &sc) {
				t.Fatalf("expected SlotConflictError, got %v", err)
			}
		})
	}
}

func TestCreate_OtherDepartmentDoesNotConflict(t *testing.T) {
	f := newFixture()
	in := validInput()
	if _, err := f.svc.Create(context.Background(), patientActor(), in); err != nil {
		t.Fatalf("first create: %v", err)
	}

	other := in
	other.DepartmentID = uuid.New()
	if _, err := f.svc.Create(context.Background(), patientActor(), other); err != nil {
		t.Fatalf("expected other department to book freely, got %v", err)
	}
}

func TestCreate_StaffBooksForPatientAtOwnHospitalOnly(t *testing.T) {
	f := newFixture()
	in := validInput()
	in.PatientID = uuid.New()

	staff := staffActor(in.HospitalID)
	if _, err := f.svc.Create(context.Background(), staff, in); err != nil {
		t.Fatalf("staff booking at own hospital: %v", err)
	}

	outsider := staffActor(uuid.New())
	next := in
	next.ScheduledAt = in.ScheduledAt.Add(2 * time.Hour)
	_, err := f.svc.Create(context.Background(), outsider, next)
	var ae *AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthorizationError for foreign hospital, got %v", err)
	}
}

func TestCancel_DefaultsReasonByActorKind(t *testing.T) {
	f := newFixture()
	actor := patientActor()
	a, err := f.svc.Create(context.Background(), actor, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cancelled, err := f.svc.Cancel(context.Background(), actor, a.ID, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", cancelled.Status)
	}
	if cancelled.CancellationReason == nil || *cancelled.CancellationReason != "Cancelled by patient" {
		t.Errorf("unexpected cancellation reason %v", cancelled.CancellationReason)
	}
	if cancelled.CancelledAt == nil || cancelled.CancelledBy == nil || cancelled.CancelledBy.ActorID != actor.ID {
		t.Error("expected cancellation audit fields to be set")
	}
}

func TestCancel_AlreadyCancelledRejected(t *testing.T) {
	f := newFixture()
	actor := patientActor()
	a, _ := f.svc.Create(context.Background(), actor, validInput())

	if _, err := f.svc.Cancel(context.Background(), actor, a.ID, "changed plans"); err != nil {
		t.Fatalf("first cancel: %v", err)
	}

	_, err := f.svc.Cancel(context.Background(), actor, a.ID, "")
	var is *InvalidStateError
	if !errors.As(err, &is) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
	if is.Current != StatusCancelled {
		t.Errorf("expected current status CANCELLED, got %s", is.Current)
	}
}

func TestCancel_FreesSlotForRebooking(t *testing.T) {
	f := newFixture()
	actor := patientActor()
	in := validInput()

	a, err := f.svc.Create(context.Background(), actor, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Cancel(context.Background(), actor, a.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := f.svc.Create(context.Background(), patientActor(), in); err != nil {
		t.Fatalf("expected freed slot to be bookable, got %v", err)
	}
}

func TestReschedule_ConflictLeavesOriginalUntouched(t *testing.T) {
	f := newFixture()
	actor := patientActor()
	first := validInput()

	if _, err := f.svc.Create(context.Background(), actor, first); err != nil {
		t.Fatalf("create blocker: %v", err)
	}

	second := first
	second.ScheduledAt = first.ScheduledAt.Add(2 * time.Hour)
	a, err := f.svc.Create(context.Background(), actor, second)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.svc.Reschedule(context.Background(), actor, a.ID, first.ScheduledAt.Add(15*time.Minute))
	var sc *SlotConflictError
	if !errors.As(err, &sc) {
		t.Fatalf("expected SlotConflictError, got %v", err)
	}

	got, err := f.svc.GetByID(context.Background(), actor, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.ScheduledAt.Equal(second.ScheduledAt) {
		t.Errorf("expected original time %v preserved, got %v", second.ScheduledAt, got.ScheduledAt)
	}
	if got.Status != StatusBooked {
		t.Errorf("expected status unchanged, got %s", got.Status)
	}
}

func TestReschedule_ResetsStatusToBooked(t *testing.T) {
	f := newFixture()
	actor := patientActor()
	a, err := f.svc.Create(context.Background(), actor, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Simulate staff confirmation before the patient moves the booking.
	stored, _ := f.repo.GetByID(context.Background(), a.ID)
	stored.Status = StatusConfirmed
	if err := f.repo.Update(context.Background(), stored, StatusBooked); err != nil {
		t.Fatalf("update: %v", err)
	}

	moved, err := f.svc.Reschedule(context.Background(), actor, a.ID, a.ScheduledAt.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if moved.Status != StatusBooked {
		t.Errorf("expected reschedule to reset status to BOOKED, got %s", moved.Status)
	}
	if moved.AppointmentNumber != a.AppointmentNumber {
		t.Error("expected appointment number to survive reschedule")
	}
}

func TestReschedule_TerminalStatusRejected(t *testing.T) {
	f := newFixture()
	actor := patientActor()
	a, _ := f.svc.Create(context.Background(), actor, validInput())
	if _, err := f.svc.Cancel(context.Background(), actor, a.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := f.svc.Reschedule(context.Background(), actor, a.ID, testNow.Add(6*time.Hour))
	var is *InvalidStateError
	if !errors.As(err, &is) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestRescheduleReserved_CancelledRowNotResurrected(t *testing.T) {
	f := newFixture()
	actor := patientActor()
	in := validInput()
	a, err := f.svc.Create(context.Background(), actor, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Snapshot loaded before another writer cancels, as a racing
	// reschedule request would hold.
	stale := *a
	if _, err := f.svc.Cancel(context.Background(), actor, a.ID, "patient called in"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	err = f.repo.RescheduleReserved(context.Background(), &stale, testNow.Add(5*time.Hour))
	var is *InvalidStateError
	if !errors.As(err, &is) {
		t.Fatalf("expected InvalidStateError for reschedule of a cancelled row, got %v", err)
	}

	got, err := f.repo.GetByID(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected status to stay CANCELLED, got %s", got.Status)
	}
	if got.CancellationReason == nil || got.CancelledAt == nil {
		t.Error("expected cancellation fields to survive the racing reschedule")
	}
}

func TestLifecycleUpdate_RequiresCurrentStatus(t *testing.T) {
	f := newFixture()
	actor := patientActor()
	in := validInput()
	a, err := f.svc.Create(context.Background(), actor, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	stale := *a
	if _, err := f.svc.Cancel(context.Background(), actor, a.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	checkIn := testNow
	stale.Status = StatusCheckedIn
	stale.CheckInTime = &checkIn
	err = f.repo.Update(context.Background(), &stale, StatusBooked)
	var is *InvalidStateError
	if !errors.As(err, &is) {
		t.Fatalf("expected InvalidStateError for stale-status update, got %v", err)
	}
	if is.Current != StatusCancelled {
		t.Errorf("expected error to carry the actual status, got %s", is.Current)
	}

	got, _ := f.repo.GetByID(context.Background(), a.ID)
	if got.Status != StatusCancelled {
		t.Errorf("expected row to stay CANCELLED, got %s", got.Status)
	}
}

func TestCreate_ConcurrentSameSlotSingleWinner(t *testing.T) {
	f := newFixture()
	in := validInput()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Create(context.Background(), patientActor(), in)
		}(i)
	}
	wg.Wait()

	var won, conflicts int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		var sc *SlotConflictError
		if !errors.As(err, &sc) {
			t.Errorf("unexpected error %v", err)
			continue
		}
		conflicts++
	}
	if won != 1 || conflicts != attempts-1 {
		t.Errorf("expected exactly one booking to win, got %d winners and %d conflicts", won, conflicts)
	}
}

func TestCheckIn_StaffOnlyAndScoped(t *testing.T) {
	f := newFixture()
	actor := patientActor()
	in := validInput()
	a, err := f.svc.Create(context.Background(), actor, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.svc.CheckIn(context.Background(), actor, a.ID, ""); err == nil {
		t.Fatal("expected patient check-in to be rejected")
	} else {
		var ae *AuthorizationError
		if !errors.As(err, &ae) {
			t.Fatalf("expected AuthorizationError, got %v", err)
		}
	}

	foreign := staffActor(uuid.New())
	_, err = f.svc.CheckIn(context.Background(), foreign, a.ID, "")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected foreign hospital staff to see not found, got %v", err)
	}

	staff := staffActor(in.HospitalID)
	checked, err := f.svc.CheckIn(context.Background(), staff, a.ID, "arrived early")
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if checked.Status != StatusCheckedIn || checked.CheckInTime == nil {
		t.Errorf("expected CHECKED_IN with timestamp, got %s %v", checked.Status, checked.CheckInTime)
	}
	if checked.StaffNotes == nil || *checked.StaffNotes != "arrived early" {
		t.Error("expected staff notes to be stored")
	}
	visit, ok := f.profiles.visits[actor.ID]
	if !ok {
		t.Fatal("expected check-in to record the patient's last visit")
	}
	if visit.hospitalID != in.HospitalID || visit.departmentID != in.DepartmentID {
		t.Errorf("expected visit at hospital %s department %s, got %+v", in.HospitalID, in.DepartmentID, visit)
	}
}

func TestCheckIn_CancelledRejected(t *testing.T) {
	f := newFixture()
	actor := patientActor()
	in := validInput()
	a, _ := f.svc.Create(context.Background(), actor, in)
	if _, err := f.svc.Cancel(context.Background(), actor, a.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := f.svc.CheckIn(context.Background(), staffActor(in.HospitalID), a.ID, "")
	var is *InvalidStateError
	if !errors.As(err, &is) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestConsultationFlow_GuardsEachStep(t *testing.T) {
	f := newFixture()
	actor := patientActor()
	in := validInput()
	a, err := f.svc.Create(context.Background(), actor, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	staff := staffActor(in.HospitalID)
	ctx := context.Background()

	var is *InvalidStateError
	if _, err := f.svc.BeginConsultation(ctx, staff, a.ID); !errors.As(err, &is) {
		t.Fatalf("expected begin before check-in to fail, got %v", err)
	}
	if _, err := f.svc.Complete(ctx, staff, a.ID, ""); !errors.As(err, &is) {
		t.Fatalf("expected complete before consultation to fail, got %v", err)
	}

	if _, err := f.svc.CheckIn(ctx, staff, a.ID, ""); err != nil {
		t.Fatalf("check in: %v", err)
	}
	started, err := f.svc.BeginConsultation(ctx, staff, a.ID)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if started.Status != StatusInProgress || started.ConsultationStart == nil {
		t.Errorf("expected IN_PROGRESS with start time, got %s", started.Status)
	}

	done, err := f.svc.Complete(ctx, staff, a.ID, "prescribed rest")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusCompleted || done.ConsultationEnd == nil {
		t.Errorf("expected COMPLETED with end time, got %s", done.Status)
	}
	if done.Duration() == nil {
		t.Error("expected a consultation duration")
	}
}

func TestMarkNoShow(t *testing.T) {
	f := newFixture()
	actor := patientActor()
	in := validInput()
	a, _ := f.svc.Create(context.Background(), actor, in)
	staff := staffActor(in.HospitalID)

	// Not allowed while the appointment is still in the future.
	var ve *ValidationError
	if _, err := f.svc.MarkNoShow(context.Background(), staff, a.ID); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError before the scheduled time, got %v", err)
	}

	f.svc.now = func() time.Time { return in.ScheduledAt.Add(time.Hour) }
	marked, err := f.svc.MarkNoShow(context.Background(), staff, a.ID)
	if err != nil {
		t.Fatalf("no-show: %v", err)
	}
	if marked.Status != StatusNoShow {
		t.Errorf("expected NO_SHOW, got %s", marked.Status)
	}

	var is *InvalidStateError
	if _, err := f.svc.MarkNoShow(context.Background(), staff, a.ID); !errors.As(err, &is) {
		t.Fatalf("expected second no-show to fail, got %v", err)
	}
}

func TestGetByID_HidesForeignAppointments(t *testing.T) {
	f := newFixture()
	owner := patientActor()
	a, _ := f.svc.Create(context.Background(), owner, validInput())

	_, err := f.svc.GetByID(context.Background(), patientActor(), a.ID)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError for stranger, got %v", err)
	}

	if _, err := f.svc.GetByID(context.Background(), owner, a.ID); err != nil {
		t.Fatalf("owner get: %v", err)
	}
}

func TestListForPatient_GuardsOwnership(t *testing.T) {
	f := newFixture()
	owner := patientActor()
	in := validInput()
	if _, err := f.svc.Create(context.Background(), owner, in); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, _, err := f.svc.ListForPatient(context.Background(), patientActor(), owner.ID, ListFilter{}, 10, 0)
	var ae *AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}

	items, total, err := f.svc.ListForPatient(context.Background(), owner, uuid.Nil, ListFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("expected 1 appointment, got total=%d len=%d", total, len(items))
	}

	staff := staffActor(in.HospitalID)
	if _, _, err := f.svc.ListForPatient(context.Background(), staff, owner.ID, ListFilter{}, 10, 0); err != nil {
		t.Fatalf("staff list: %v", err)
	}
}

func TestAvailableSlots_ReflectsBookings(t *testing.T) {
	f := newFixture()
	in := validInput()
	in.ScheduledAt = time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC)
	if _, err := f.svc.Create(context.Background(), patientActor(), in); err != nil {
		t.Fatalf("create: %v", err)
	}

	slots, err := f.svc.AvailableSlots(context.Background(), in.HospitalID, in.DepartmentID,
		time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("availability: %v", err)
	}

	byTime := map[string]bool{}
	for _, s := range slots {
		byTime[s.StartsAt.Format("15:04")] = s.Available
	}
	for _, blocked := range []string{"09:30", "10:00", "10:30"} {
		if byTime[blocked] {
			t.Errorf("expected slot %s to be blocked", blocked)
		}
	}
	if !byTime["11:00"] {
		t.Error("expected slot 11:00 to be available")
	}
}

func TestCheckInStats_StaffOnly(t *testing.T) {
	f := newFixture()
	in := validInput()
	actor := patientActor()
	a, err := f.svc.Create(context.Background(), actor, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	staff := staffActor(in.HospitalID)
	if _, err := f.svc.CheckIn(context.Background(), staff, a.ID, ""); err != nil {
		t.Fatalf("check in: %v", err)
	}

	if _, err := f.svc.CheckInStats(context.Background(), actor); err == nil {
		t.Fatal("expected patient stats request to be rejected")
	}

	stats, err := f.svc.CheckInStats(context.Background(), staff)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 || stats.CheckedIn != 1 || stats.Pending != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}
