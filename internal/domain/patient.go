package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "pending"
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationCancelled ConfirmationStatus = "cancelled"
)

func ParseConfirmationStatus(s string) (ConfirmationStatus, bool) {
	switch ConfirmationStatus(s) {
	case ConfirmationPending, ConfirmationConfirmed, ConfirmationCancelled:
		return ConfirmationStatus(s), true
	default:
		return "", false
	}
}

// NotificationFlags records which threshold reminders were already delivered.
// Both flags are reset whenever the exam date changes so a rescheduled exam
// re-triggers the reminders.
type NotificationFlags struct {
	SevenDaySent bool `json:"seven_day_sent"`
	TwoDaySent   bool `json:"two_day_sent"`
}

// Patient is the durable record kept per registered identifier. ExamDate is
// stored as the raw DD/MM/YYYY string the patient typed; a record written by
// an older version may hold garbage there, which the scheduler skips.
type Patient struct {
	Name          string             `json:"name"`
	Age           int                `json:"age"`
	Email         string             `json:"email"`
	Phone         string             `json:"phone"`
	ExamDate      string             `json:"exam_date"`
	Confirmation  ConfirmationStatus `json:"confirmation_status"`
	Notifications NotificationFlags  `json:"notifications"`
	FeedbackSent  bool               `json:"feedback_sent"`
	FeedbackScore *int               `json:"feedback_score,omitempty"`
}

// ExamDateLayout is the user-facing date format.
const ExamDateLayout = "02/01/2006"

// ParseExamDate decomposes a DD/MM/YYYY string and rejects triples that do
// not name a real calendar day (31/04, 29/02 outside leap years). Day and
// month may omit the leading zero, matching what patients actually type.
func ParseExamDate(s string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return time.Time{}, NewValidationError("data deve estar no formato DD/MM/AAAA")
	}
	day, err1 := strconv.Atoi(parts[0])
	month, err2 := strconv.Atoi(parts[1])
	year, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, NewValidationError("data deve estar no formato DD/MM/AAAA")
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local)
	if d.Day() != day || d.Month() != time.Month(month) || d.Year() != year {
		return time.Time{}, NewValidationError("data inválida")
	}
	return d, nil
}

// ValidateFutureExamDate parses the date and additionally requires it to be
// strictly after now. Midnight of the exam day is compared against the
// current instant, so the exam day itself already counts as past.
func ValidateFutureExamDate(s string, now time.Time) (time.Time, error) {
	d, err := ParseExamDate(s)
	if err != nil {
		return time.Time{}, err
	}
	if !d.After(now) {
		return time.Time{}, NewValidationError("data inválida ou já passou")
	}
	return d, nil
}

// Midnight truncates t to 00:00 of its calendar day.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DaysUntil returns the whole number of calendar days from now until the
// exam, both normalized to midnight.
func DaysUntil(exam, now time.Time) int {
	diff := Midnight(exam).Sub(Midnight(now))
	return int(diff / (24 * time.Hour))
}

func (p *Patient) StatusLabel() string {
	switch p.Confirmation {
	case ConfirmationConfirmed:
		return "✅ Confirmada"
	case ConfirmationCancelled:
		return "❌ Cancelada"
	default:
		return "🟡 Pendente"
	}
}

func (p *Patient) String() string {
	return fmt.Sprintf("%s (exam %s, %s)", p.Name, p.ExamDate, p.Confirmation)
}
