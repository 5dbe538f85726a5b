package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/saudebot/exam-reminders/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// NoopBus is used when no NATS_URL is configured. Event publishing is
// best-effort and entirely optional for the bot to function.
type NoopBus struct{}

func (NoopBus) Publish(ctx context.Context, subject string, data interface{}) error { return nil }
func (NoopBus) Close() error                                                        { return nil }

// Subjects
const (
	PatientRegistered = "patient.registered"
	PatientDeleted    = "patient.deleted"
	ExamRescheduled   = "exam.rescheduled"
	ExamConfirmed     = "exam.confirmed"
	ExamCanceled      = "exam.canceled"
	ReminderSent      = "reminder.sent"
	FeedbackRequested = "feedback.requested"
	FeedbackReceived  = "feedback.received"
)

// Event payloads
type PatientRegisteredEvent struct {
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	ExamDate   string    `json:"exam_date"`
	CreatedAt  time.Time `json:"created_at"`
}

type PatientDeletedEvent struct {
	Identifier string    `json:"identifier"`
	DeletedAt  time.Time `json:"deleted_at"`
}

type ExamRescheduledEvent struct {
	Identifier  string    `json:"identifier"`
	OldExamDate string    `json:"old_exam_date"`
	NewExamDate string    `json:"new_exam_date"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ExamConfirmedEvent struct {
	Identifier    string    `json:"identifier"`
	ThresholdDays int       `json:"threshold_days"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

type ExamCanceledEvent struct {
	Identifier    string    `json:"identifier"`
	ThresholdDays int       `json:"threshold_days"`
	ExamDate      string    `json:"exam_date"`
	CanceledAt    time.Time `json:"canceled_at"`
}

type ReminderSentEvent struct {
	Identifier    string    `json:"identifier"`
	ThresholdDays int       `json:"threshold_days"`
	ExamDate      string    `json:"exam_date"`
	SentAt        time.Time `json:"sent_at"`
}

type FeedbackReceivedEvent struct {
	Identifier string    `json:"identifier"`
	Score      int       `json:"score"`
	ReceivedAt time.Time `json:"received_at"`
}
