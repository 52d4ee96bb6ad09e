package envelope

import (
	"fmt"
	"time"

	"github.com/kebairia/tenantbackup/internal/backup"
)

// Kind names an entity collection. It doubles as the table name.
type Kind string

const (
	KindPatients      Kind = "patients"
	KindConsultations Kind = "consultations"
	KindPrescriptions Kind = "prescriptions"
	KindAppointments  Kind = "appointments"
	KindInvoices      Kind = "invoices"
)

// Ref points at the primary key of a record of another kind.
type Ref struct {
	Kind Kind
	ID   string
}

// Entity is one tenant-owned record. Implementations are plain structs
// whose json tags define the envelope schema and whose db tags define the
// table columns.
type Entity interface {
	Kind() Kind
	Key() string
	Tenant() string
	Refs() []Ref
	Validate() error
}

type Patient struct {
	ID          string     `json:"id"            db:"id"`
	TenantID    string     `json:"tenant_id"     db:"tenant_id"`
	FirstName   string     `json:"first_name"    db:"first_name"`
	LastName    string     `json:"last_name"     db:"last_name"`
	DateOfBirth *time.Time `json:"date_of_birth" db:"date_of_birth"`
	Email       *string    `json:"email"         db:"email"`
	Phone       *string    `json:"phone"         db:"phone"`
	CreatedAt   time.Time  `json:"created_at"    db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"    db:"updated_at"`
}

func (p Patient) Kind() Kind     { return KindPatients }
func (p Patient) Key() string    { return p.ID }
func (p Patient) Tenant() string { return p.TenantID }
func (p Patient) Refs() []Ref    { return nil }

func (p Patient) Validate() error {
	return required(p, map[string]string{"last_name": p.LastName})
}

type Consultation struct {
	ID           string    `json:"id"           db:"id"`
	TenantID     string    `json:"tenant_id"    db:"tenant_id"`
	PatientID    string    `json:"patient_id"   db:"patient_id"`
	Practitioner string    `json:"practitioner" db:"practitioner"`
	OccurredAt   time.Time `json:"occurred_at"  db:"occurred_at"`
	Reason       *string   `json:"reason"       db:"reason"`
	Notes        *string   `json:"notes"        db:"notes"`
	CreatedAt    time.Time `json:"created_at"   db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"   db:"updated_at"`
}

func (c Consultation) Kind() Kind     { return KindConsultations }
func (c Consultation) Key() string    { return c.ID }
func (c Consultation) Tenant() string { return c.TenantID }

func (c Consultation) Refs() []Ref {
	return []Ref{{Kind: KindPatients, ID: c.PatientID}}
}

func (c Consultation) Validate() error {
	return required(c, map[string]string{"patient_id": c.PatientID})
}

type Prescription struct {
	ID             string    `json:"id"              db:"id"`
	TenantID       string    `json:"tenant_id"       db:"tenant_id"`
	ConsultationID string    `json:"consultation_id" db:"consultation_id"`
	PatientID      string    `json:"patient_id"      db:"patient_id"`
	Medication     string    `json:"medication"      db:"medication"`
	Dosage         string    `json:"dosage"          db:"dosage"`
	Instructions   *string   `json:"instructions"    db:"instructions"`
	IssuedAt       time.Time `json:"issued_at"       db:"issued_at"`
	CreatedAt      time.Time `json:"created_at"      db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"      db:"updated_at"`
}

func (p Prescription) Kind() Kind     { return KindPrescriptions }
func (p Prescription) Key() string    { return p.ID }
func (p Prescription) Tenant() string { return p.TenantID }

func (p Prescription) Refs() []Ref {
	return []Ref{
		{Kind: KindConsultations, ID: p.ConsultationID},
		{Kind: KindPatients, ID: p.PatientID},
	}
}

func (p Prescription) Validate() error {
	return required(p, map[string]string{
		"consultation_id": p.ConsultationID,
		"patient_id":      p.PatientID,
		"medication":      p.Medication,
	})
}

type Appointment struct {
	ID              string    `json:"id"               db:"id"`
	TenantID        string    `json:"tenant_id"        db:"tenant_id"`
	PatientID       string    `json:"patient_id"       db:"patient_id"`
	ScheduledAt     time.Time `json:"scheduled_at"     db:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes" db:"duration_minutes"`
	Status          string    `json:"status"           db:"status"`
	Notes           *string   `json:"notes"            db:"notes"`
	CreatedAt       time.Time `json:"created_at"       db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"       db:"updated_at"`
}

func (a Appointment) Kind() Kind     { return KindAppointments }
func (a Appointment) Key() string    { return a.ID }
func (a Appointment) Tenant() string { return a.TenantID }

func (a Appointment) Refs() []Ref {
	return []Ref{{Kind: KindPatients, ID: a.PatientID}}
}

func (a Appointment) Validate() error {
	if a.DurationMinutes < 0 {
		return fmt.Errorf("%w: appointment %s: negative duration", backup.ErrSchemaMismatch, a.ID)
	}
	return required(a, map[string]string{"patient_id": a.PatientID, "status": a.Status})
}

type Invoice struct {
	ID             string    `json:"id"              db:"id"`
	TenantID       string    `json:"tenant_id"       db:"tenant_id"`
	PatientID      string    `json:"patient_id"      db:"patient_id"`
	ConsultationID *string   `json:"consultation_id" db:"consultation_id"`
	AmountCents    int64     `json:"amount_cents"    db:"amount_cents"`
	Currency       string    `json:"currency"        db:"currency"`
	Status         string    `json:"status"          db:"status"`
	IssuedAt       time.Time `json:"issued_at"       db:"issued_at"`
	CreatedAt      time.Time `json:"created_at"      db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"      db:"updated_at"`
}

func (i Invoice) Kind() Kind     { return KindInvoices }
func (i Invoice) Key() string    { return i.ID }
func (i Invoice) Tenant() string { return i.TenantID }

func (i Invoice) Refs() []Ref {
	refs := []Ref{{Kind: KindPatients, ID: i.PatientID}}
	if i.ConsultationID != nil {
		refs = append(refs, Ref{Kind: KindConsultations, ID: *i.ConsultationID})
	}
	return refs
}

func (i Invoice) Validate() error {
	return required(i, map[string]string{
		"patient_id": i.PatientID,
		"currency":   i.Currency,
		"status":     i.Status,
	})
}

func required(e Entity, fields map[string]string) error {
	for name, v := range fields {
		if v == "" {
			return fmt.Errorf("%w: %s %s: missing %s", backup.ErrSchemaMismatch, e.Kind(), e.Key(), name)
		}
	}
	return nil
}
