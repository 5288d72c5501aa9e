package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Profile is the slice of the patient record this service reads and writes.
type Profile struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	FullName              string     `db:"full_name" json:"full_name"`
	LastVisitAt           *time.Time `db:"last_visit_at" json:"last_visit_at,omitempty"`
	LastVisitHospitalID   *uuid.UUID `db:"last_visit_hospital_id" json:"last_visit_hospital_id,omitempty"`
	LastVisitDepartmentID *uuid.UUID `db:"last_visit_department_id" json:"last_visit_department_id,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
}

// ProfileStore provides access to patient profiles.
type ProfileStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Profile, error)
	// RecordVisit stamps the patient's last visit with where it happened.
	// Called on check-in.
	RecordVisit(ctx context.Context, patientID, hospitalID, departmentID uuid.UUID, at time.Time) error
}
