package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/saudebot/exam-reminders/internal/domain"
	"github.com/saudebot/exam-reminders/pkg/logger"
)

// document is the persisted layout: a single JSON object mapping patient
// identifier to record.
type document struct {
	Patients map[string]*domain.Patient `json:"patients"`
}

// FileStore persists the patient snapshot to a single JSON file. When the
// primary write fails it falls back to a timestamped recovery file next to
// it, keeping the in-memory state so the next successful write reconciles.
type FileStore struct {
	path string

	mu       sync.RWMutex
	patients map[string]*domain.Patient

	// Serializes whole persist cycles. Concurrent lanes may each trigger a
	// persist; interleaved writes to the same path would tear the file.
	persistMu sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:     path,
		patients: make(map[string]*domain.Patient),
	}
}

func (s *FileStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("patient file unreadable, starting empty", "path", s.path, "error", err)
		}
		s.patients = make(map[string]*domain.Patient)
		return nil
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Patients == nil {
		logger.Warn("patient file corrupt, starting empty", "path", s.path, "error", err)
		s.patients = make(map[string]*domain.Patient)
		return nil
	}

	s.patients = doc.Patients
	return nil
}

func (s *FileStore) Get(id string) (*domain.Patient, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, false
	}
	return clonePatient(p), true
}

func (s *FileStore) Put(id string, p *domain.Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[id] = clonePatient(p)
}

func (s *FileStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.patients, id)
}

func (s *FileStore) All() map[string]*domain.Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*domain.Patient, len(s.patients))
	for id, p := range s.patients {
		out[id] = clonePatient(p)
	}
	return out
}

func (s *FileStore) Persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	raw, err := json.MarshalIndent(document{Patients: s.patients}, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return &domain.PersistenceError{Err: err}
	}

	if err := s.writeAtomic(raw); err != nil {
		recovery := s.path + ".recovery-" + time.Now().Format("20060102T150405")
		if rerr := os.WriteFile(recovery, raw, 0o644); rerr != nil {
			logger.Error("recovery snapshot also failed", "path", recovery, "error", rerr)
		} else {
			logger.Warn("primary write failed, wrote recovery snapshot",
				"path", s.path, "recovery", recovery, "error", err)
		}
		return &domain.PersistenceError{Err: err}
	}
	return nil
}

// writeAtomic writes the snapshot to a sibling temp file and renames it into
// place, so readers and a crashed process only ever see a complete document.
func (s *FileStore) writeAtomic(raw []byte) error {
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
