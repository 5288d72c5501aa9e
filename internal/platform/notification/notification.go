// Package notification stores in-app notifications for patients and renders
// them from appointment templates. Delivery is fire-and-forget: the caller
// never waits on or fails because of a notification.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what happened to the appointment.
type Kind string

const (
	KindConfirmed   Kind = "APPOINTMENT_CONFIRMED"
	KindCancelled   Kind = "APPOINTMENT_CANCELLED"
	KindRescheduled Kind = "APPOINTMENT_RESCHEDULED"
	KindCheckedIn   Kind = "APPOINTMENT_CHECKED_IN"
)

// Notification is a single in-app message for a patient.
type Notification struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	Kind      Kind       `db:"kind" json:"kind"`
	Title     string     `db:"title" json:"title"`
	Message   string     `db:"message" json:"message"`
	Read      bool       `db:"read" json:"read"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	ReadAt    *time.Time `db:"read_at" json:"read_at,omitempty"`
}

// Store persists notifications.
type Store interface {
	Insert(ctx context.Context, n *Notification) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Notification, int, error)
	MarkRead(ctx context.Context, patientID, id uuid.UUID) (*Notification, error)
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template defines a reusable notification template.
type Template struct {
	Kind    Kind   `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// TemplateEngine renders notification templates with {{key}} replacement.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[Kind]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in appointment
// templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[Kind]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			Kind:    KindConfirmed,
			Title:   "Appointment booked",
			Message: "Your appointment {{appointment_number}} is booked for {{date}} at {{time}}.",
		},
		{
			Kind:    KindCancelled,
			Title:   "Appointment cancelled",
			Message: "Your appointment {{appointment_number}} on {{date}} has been cancelled. Reason: {{reason}}",
		},
		{
			Kind:    KindRescheduled,
			Title:   "Appointment rescheduled",
			Message: "Your appointment {{appointment_number}} has been moved to {{date}} at {{time}}.",
		},
		{
			Kind:    KindCheckedIn,
			Title:   "Checked in",
			Message: "You are checked in for appointment {{appointment_number}}. Your token number is {{token}}.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.Kind] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.Kind] = &t
}

// Render looks up a template by kind and performs {{key}} replacement using
// the supplied data map. Keys present in the template but absent from data
// are left as-is.
func (e *TemplateEngine) Render(kind Kind, data map[string]string) (title, message string, err error) {
	e.mu.RLock()
	t, ok := e.templates[kind]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template for %q not found", kind)
	}

	title = t.Title
	message = t.Message
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		message = strings.ReplaceAll(message, placeholder, v)
	}
	return title, message, nil
}

// ---------------------------------------------------------------------------
// Center
// ---------------------------------------------------------------------------

// Center renders and stores notifications.
type Center struct {
	store     Store
	templates *TemplateEngine
}

// NewCenter constructs a Center.
func NewCenter(store Store, templates *TemplateEngine) *Center {
	return &Center{store: store, templates: templates}
}

// Notify renders the template for kind and stores the resulting notification
// for the patient.
func (c *Center) Notify(ctx context.Context, patientID uuid.UUID, kind Kind, data map[string]string) (*Notification, error) {
	title, message, err := c.templates.Render(kind, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	n := &Notification{
		PatientID: patientID,
		Kind:      kind,
		Title:     title,
		Message:   message,
	}
	if err := c.store.Insert(ctx, n); err != nil {
		return nil, fmt.Errorf("store notification: %w", err)
	}
	return n, nil
}

// List returns a patient's notifications, newest first.
func (c *Center) List(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	return c.store.ListByPatient(ctx, patientID, limit, offset)
}

// MarkRead marks a notification read. The patient id guards against reading
// someone else's notification.
func (c *Center) MarkRead(ctx context.Context, patientID, id uuid.UUID) (*Notification, error) {
	return c.store.MarkRead(ctx, patientID, id)
}

// ---------------------------------------------------------------------------
// In-memory store
// ---------------------------------------------------------------------------

// MemoryStore is an in-memory Store used in development mode and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Notification
	order []uuid.UUID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[uuid.UUID]*Notification)}
}

func (s *MemoryStore) Insert(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = uuid.New()
	n.CreatedAt = time.Now().UTC()
	s.items[n.ID] = n
	s.order = append(s.order, n.ID)
	return nil
}

func (s *MemoryStore) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*Notification
	// Newest first.
	for i := len(s.order) - 1; i >= 0; i-- {
		if n := s.items[s.order[i]]; n.PatientID == patientID {
			all = append(all, n)
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, patientID, id uuid.UUID) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[id]
	if !ok || n.PatientID != patientID {
		return nil, fmt.Errorf("notification %s not found", id)
	}
	if !n.Read {
		n.Read = true
		now := time.Now().UTC()
		n.ReadAt = &now
	}
	return n, nil
}
