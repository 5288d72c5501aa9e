package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a missing appointment, or one the caller may not see.
type NotFoundError struct {
	Resource string
	ID       uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// SlotConflictError reports that the requested start time collides with an
// active appointment in the same hospital department.
type SlotConflictError struct {
	HospitalID   uuid.UUID
	DepartmentID uuid.UUID
	ScheduledAt  time.Time
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("slot at %s is not available for this department, please choose a different time",
		e.ScheduledAt.UTC().Format(time.RFC3339))
}

// InvalidStateError reports an operation that the appointment's current
// status does not allow.
type InvalidStateError struct {
	Current   Status
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s an appointment in status %s", e.Operation, e.Current)
}

// AuthorizationError reports an actor acting outside its scope.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return e.Reason
}
