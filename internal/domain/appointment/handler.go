package appointment

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nirujan14/HealthCareSystem/internal/platform/auth"
	"github.com/nirujan14/HealthCareSystem/pkg/pagination"
)

// Handler exposes the appointment lifecycle over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers appointment routes on the given Echo group. The
// group is expected to sit behind JWT auth.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/appointments", h.Create)
	g.GET("/appointments", h.List)
	g.GET("/appointments/availability", h.Availability)
	g.GET("/appointments/:id", h.Get)
	g.PATCH("/appointments/:id/cancel", h.Cancel)
	g.PATCH("/appointments/:id/reschedule", h.Reschedule)
	g.PATCH("/appointments/:id/checkin", h.CheckIn)
	g.PATCH("/appointments/:id/begin", h.BeginConsultation)
	g.PATCH("/appointments/:id/complete", h.Complete)
	g.PATCH("/appointments/:id/no-show", h.MarkNoShow)
	g.GET("/checkin/stats", h.CheckInStats)
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// writeError maps domain errors onto the API error envelope.
func writeError(c echo.Context, err error) error {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		conflict   *SlotConflictError
		state      *InvalidStateError
		forbidden  *AuthorizationError
	)
	switch {
	case errors.As(err, &validation):
		return c.JSON(http.StatusBadRequest, errorBody{errorDetail{"VALIDATION", err.Error()}})
	case errors.As(err, &notFound):
		return c.JSON(http.StatusNotFound, errorBody{errorDetail{"NOT_FOUND", err.Error()}})
	case errors.As(err, &conflict):
		return c.JSON(http.StatusConflict, errorBody{errorDetail{"SLOT_CONFLICT", err.Error()}})
	case errors.As(err, &state):
		return c.JSON(http.StatusConflict, errorBody{errorDetail{"INVALID_STATE", err.Error()}})
	case errors.As(err, &forbidden):
		return c.JSON(http.StatusForbidden, errorBody{errorDetail{"FORBIDDEN", err.Error()}})
	default:
		return c.JSON(http.StatusInternalServerError, errorBody{errorDetail{"INTERNAL", "internal server error"}})
	}
}

func actor(c echo.Context) (auth.Actor, error) {
	a, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return auth.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return a, nil
}

type createRequest struct {
	PatientID    string  `json:"patient_id"`
	HospitalID   string  `json:"hospital_id"`
	DepartmentID string  `json:"department_id"`
	DoctorID     *string `json:"doctor_id"`
	ScheduledAt  string  `json:"scheduled_at"`
	Type         string  `json:"appointment_type"`
	Priority     string  `json:"priority"`
	Reason       string  `json:"reason"`
	PatientNotes *string `json:"patient_notes"`
}

// Create handles POST /appointments.
func (h *Handler) Create(c echo.Context) error {
	act, err := actor(c)
	if err != nil {
		return err
	}

	var req createRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, &ValidationError{Field: "body", Reason: "malformed request"})
	}

	in := CreateInput{
		Type:     req.Type,
		Priority: req.Priority,
		Reason:   req.Reason,
	}
	in.PatientNotes = req.PatientNotes

	if req.PatientID != "" {
		id, err := uuid.Parse(req.PatientID)
		if err != nil {
			return writeError(c, &ValidationError{Field: "patient_id", Reason: "must be a UUID"})
		}
		in.PatientID = id
	}
	hospitalID, err := uuid.Parse(req.HospitalID)
	if err != nil {
		return writeError(c, &ValidationError{Field: "hospital_id", Reason: "must be a UUID"})
	}
	in.HospitalID = hospitalID

	departmentID, err := uuid.Parse(req.DepartmentID)
	if err != nil {
		return writeError(c, &ValidationError{Field: "department_id", Reason: "must be a UUID"})
	}
	in.DepartmentID = departmentID

	if req.DoctorID != nil {
		id, err := uuid.Parse(*req.DoctorID)
		if err != nil {
			return writeError(c, &ValidationError{Field: "doctor_id", Reason: "must be a UUID"})
		}
		in.DoctorID = &id
	}

	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		return writeError(c, &ValidationError{Field: "scheduled_at", Reason: "must be an RFC 3339 timestamp"})
	}
	in.ScheduledAt = scheduledAt

	a, err := h.svc.Create(c.Request().Context(), act, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

// List handles GET /appointments. Patients get their own appointments; staff
// may pass ?patient_id= to list another patient's.
func (h *Handler) List(c echo.Context) error {
	act, err := actor(c)
	if err != nil {
		return err
	}

	patientID := act.ID
	if raw := c.QueryParam("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return writeError(c, &ValidationError{Field: "patient_id", Reason: "must be a UUID"})
		}
		patientID = id
	}

	var f ListFilter
	if raw := c.QueryParam("status"); raw != "" {
		status := Status(raw)
		if !validStatuses[status] {
			return writeError(c, &ValidationError{Field: "status", Reason: "unknown status " + raw})
		}
		f.Status = &status
	}
	if c.QueryParam("upcoming") == "true" {
		f.Upcoming = true
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForPatient(c.Request().Context(), act, patientID, f, pg.Limit, pg.Offset)
	if err != nil {
		return writeError(c, err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// Get handles GET /appointments/:id.
func (h *Handler) Get(c echo.Context) error {
	act, err := actor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeError(c, &ValidationError{Field: "id", Reason: "must be a UUID"})
	}

	a, err := h.svc.GetByID(c.Request().Context(), act, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles PATCH /appointments/:id/cancel.
func (h *Handler) Cancel(c echo.Context) error {
	act, err := actor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeError(c, &ValidationError{Field: "id", Reason: "must be a UUID"})
	}

	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, &ValidationError{Field: "body", Reason: "malformed request"})
	}

	a, err := h.svc.Cancel(c.Request().Context(), act, id, req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

type rescheduleRequest struct {
	ScheduledAt string `json:"scheduled_at"`
}

// Reschedule handles PATCH /appointments/:id/reschedule.
func (h *Handler) Reschedule(c echo.Context) error {
	act, err := actor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeError(c, &ValidationError{Field: "id", Reason: "must be a UUID"})
	}

	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, &ValidationError{Field: "body", Reason: "malformed request"})
	}
	newTime, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		return writeError(c, &ValidationError{Field: "scheduled_at", Reason: "must be an RFC 3339 timestamp"})
	}

	a, err := h.svc.Reschedule(c.Request().Context(), act, id, newTime)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

type staffNotesRequest struct {
	StaffNotes string `json:"staff_notes"`
}

// CheckIn handles PATCH /appointments/:id/checkin.
func (h *Handler) CheckIn(c echo.Context) error {
	return h.staffTransition(c, func(ctx echo.Context, act auth.Actor, id uuid.UUID, notes string) (*Appointment, error) {
		return h.svc.CheckIn(ctx.Request().Context(), act, id, notes)
	})
}

// BeginConsultation handles PATCH /appointments/:id/begin.
func (h *Handler) BeginConsultation(c echo.Context) error {
	return h.staffTransition(c, func(ctx echo.Context, act auth.Actor, id uuid.UUID, _ string) (*Appointment, error) {
		return h.svc.BeginConsultation(ctx.Request().Context(), act, id)
	})
}

// Complete handles PATCH /appointments/:id/complete.
func (h *Handler) Complete(c echo.Context) error {
	return h.staffTransition(c, func(ctx echo.Context, act auth.Actor, id uuid.UUID, notes string) (*Appointment, error) {
		return h.svc.Complete(ctx.Request().Context(), act, id, notes)
	})
}

// MarkNoShow handles PATCH /appointments/:id/no-show.
func (h *Handler) MarkNoShow(c echo.Context) error {
	return h.staffTransition(c, func(ctx echo.Context, act auth.Actor, id uuid.UUID, _ string) (*Appointment, error) {
		return h.svc.MarkNoShow(ctx.Request().Context(), act, id)
	})
}

func (h *Handler) staffTransition(c echo.Context,
	fn func(echo.Context, auth.Actor, uuid.UUID, string) (*Appointment, error)) error {
	act, err := actor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeError(c, &ValidationError{Field: "id", Reason: "must be a UUID"})
	}

	var req staffNotesRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, &ValidationError{Field: "body", Reason: "malformed request"})
	}

	a, err := fn(c, act, id, req.StaffNotes)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

type availabilityResponse struct {
	HospitalID   uuid.UUID `json:"hospital_id"`
	DepartmentID uuid.UUID `json:"department_id"`
	Date         string    `json:"date"`
	Slots        []Slot    `json:"slots"`
}

// Availability handles GET /appointments/availability.
func (h *Handler) Availability(c echo.Context) error {
	if _, err := actor(c); err != nil {
		return err
	}

	hospitalID, err := uuid.Parse(c.QueryParam("hospital_id"))
	if err != nil {
		return writeError(c, &ValidationError{Field: "hospital_id", Reason: "must be a UUID"})
	}
	departmentID, err := uuid.Parse(c.QueryParam("department_id"))
	if err != nil {
		return writeError(c, &ValidationError{Field: "department_id", Reason: "must be a UUID"})
	}
	day, err := time.Parse("2006-01-02", c.QueryParam("date"))
	if err != nil {
		return writeError(c, &ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"})
	}

	slots, err := h.svc.AvailableSlots(c.Request().Context(), hospitalID, departmentID, day)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, availabilityResponse{
		HospitalID:   hospitalID,
		DepartmentID: departmentID,
		Date:         day.Format("2006-01-02"),
		Slots:        slots,
	})
}

// CheckInStats handles GET /checkin/stats.
func (h *Handler) CheckInStats(c echo.Context) error {
	act, err := actor(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.CheckInStats(c.Request().Context(), act)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
