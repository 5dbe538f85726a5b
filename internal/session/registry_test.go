package session

import (
	"testing"

	"github.com/saudebot/exam-reminders/internal/domain"
)

func TestMemoryRegistry(t *testing.T) {
	r := NewMemoryRegistry()

	if _, ok := r.Get("id"); ok {
		t.Fatal("empty registry returned a session")
	}

	r.Set("id", domain.NewRegistrationSession())
	s, ok := r.Get("id")
	if !ok || s.Kind != domain.SessionRegistering || s.Step != 1 {
		t.Fatalf("got %+v", s)
	}

	r.Clear("id")
	if _, ok := r.Get("id"); ok {
		t.Error("session survived Clear")
	}
}

func TestSetOverwritesActiveSession(t *testing.T) {
	r := NewMemoryRegistry()

	// One active session per identifier: entering a new flow replaces
	// whatever was in progress.
	r.Set("id", domain.NewRegistrationSession())
	r.Set("id", domain.NewConfirmationSession(7))

	s, _ := r.Get("id")
	if s.Kind != domain.SessionAwaitingConfirmation || s.ThresholdDays != 7 {
		t.Errorf("got %+v, want confirmation session", s)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := NewMemoryRegistry()
	r.Set("id", domain.NewRegistrationSession())

	s, _ := r.Get("id")
	s.Step = 99

	again, _ := r.Get("id")
	if again.Step != 1 {
		t.Error("mutating a returned session leaked into the registry")
	}
}
