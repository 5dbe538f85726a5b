package store

import (
	"context"

	"github.com/saudebot/exam-reminders/internal/domain"
)

// PatientStore keeps the whole patient set in memory and flushes it as one
// snapshot on Persist. Mutations are cheap map writes; durability is decided
// by the caller, which persists after every mutation that must survive a
// restart. Backends differ only in where the snapshot lands.
type PatientStore interface {
	// Load initializes the in-memory set from the backend. An absent or
	// corrupt snapshot initializes empty rather than failing startup.
	Load(ctx context.Context) error

	// Get returns a copy of the patient, so callers can mutate freely and
	// commit via Put.
	Get(id string) (*domain.Patient, bool)
	Put(id string, p *domain.Patient)
	Delete(id string)

	// All returns a stable snapshot copy; mutations during iteration cannot
	// corrupt the scan.
	All() map[string]*domain.Patient

	Persist(ctx context.Context) error
}

func clonePatient(p *domain.Patient) *domain.Patient {
	cp := *p
	if p.FeedbackScore != nil {
		v := *p.FeedbackScore
		cp.FeedbackScore = &v
	}
	return &cp
}
