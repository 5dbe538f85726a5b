package store

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saudebot/exam-reminders/internal/domain"
)

// PostgresStore keeps the same snapshot-in-memory semantics as FileStore but
// lands the snapshot in a patients table on Persist. Rows removed from the
// in-memory set are removed from the table in the same transaction.
type PostgresStore struct {
	pool *pgxpool.Pool

	mu       sync.RWMutex
	patients map[string]*domain.Patient

	// Serializes whole persist cycles so a stale snapshot can never commit
	// after a fresher one and delete its newly written rows.
	persistMu sync.Mutex
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:     pool,
		patients: make(map[string]*domain.Patient),
	}
}

const schema = `CREATE TABLE IF NOT EXISTS patients (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	age                 INT NOT NULL,
	email               TEXT NOT NULL,
	phone               TEXT NOT NULL,
	exam_date           TEXT NOT NULL,
	confirmation_status TEXT NOT NULL DEFAULT 'pending',
	seven_day_sent      BOOLEAN NOT NULL DEFAULT FALSE,
	two_day_sent        BOOLEAN NOT NULL DEFAULT FALSE,
	feedback_sent       BOOLEAN NOT NULL DEFAULT FALSE,
	feedback_score      INT,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func (s *PostgresStore) Load(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return err
	}

	const q = `SELECT id, name, age, email, phone, exam_date, confirmation_status,
		seven_day_sent, two_day_sent, feedback_sent, feedback_score FROM patients`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	patients := make(map[string]*domain.Patient)
	for rows.Next() {
		var id, status string
		var p domain.Patient
		if err := rows.Scan(
			&id, &p.Name, &p.Age, &p.Email, &p.Phone, &p.ExamDate, &status,
			&p.Notifications.SevenDaySent, &p.Notifications.TwoDaySent,
			&p.FeedbackSent, &p.FeedbackScore,
		); err != nil {
			return err
		}
		if st, ok := domain.ParseConfirmationStatus(status); ok {
			p.Confirmation = st
		} else {
			p.Confirmation = domain.ConfirmationPending
		}
		patients[id] = &p
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.patients = patients
	s.mu.Unlock()
	return nil
}

func (s *PostgresStore) Get(id string) (*domain.Patient, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, false
	}
	return clonePatient(p), true
}

func (s *PostgresStore) Put(id string, p *domain.Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[id] = clonePatient(p)
}

func (s *PostgresStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.patients, id)
}

func (s *PostgresStore) All() map[string]*domain.Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*domain.Patient, len(s.patients))
	for id, p := range s.patients {
		out[id] = clonePatient(p)
	}
	return out
}

func (s *PostgresStore) Persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	snapshot := make(map[string]*domain.Patient, len(s.patients))
	ids := make([]string, 0, len(s.patients))
	for id, p := range s.patients {
		snapshot[id] = clonePatient(p)
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return &domain.PersistenceError{Err: err}
	}
	defer tx.Rollback(ctx)

	const upsert = `INSERT INTO patients (
		id, name, age, email, phone, exam_date, confirmation_status,
		seven_day_sent, two_day_sent, feedback_sent, feedback_score, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		age = EXCLUDED.age,
		email = EXCLUDED.email,
		phone = EXCLUDED.phone,
		exam_date = EXCLUDED.exam_date,
		confirmation_status = EXCLUDED.confirmation_status,
		seven_day_sent = EXCLUDED.seven_day_sent,
		two_day_sent = EXCLUDED.two_day_sent,
		feedback_sent = EXCLUDED.feedback_sent,
		feedback_score = EXCLUDED.feedback_score,
		updated_at = now()`

	for id, p := range snapshot {
		if _, err := tx.Exec(ctx, upsert, id,
			p.Name, p.Age, p.Email, p.Phone, p.ExamDate, string(p.Confirmation),
			p.Notifications.SevenDaySent, p.Notifications.TwoDaySent,
			p.FeedbackSent, p.FeedbackScore,
		); err != nil {
			return &domain.PersistenceError{Err: err}
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM patients WHERE NOT (id = ANY($1))`, ids); err != nil {
		return &domain.PersistenceError{Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &domain.PersistenceError{Err: err}
	}
	return nil
}
