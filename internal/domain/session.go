package domain

// SessionKind tags the variant of an in-flight conversation.
type SessionKind string

const (
	SessionRegistering          SessionKind = "registering"
	SessionAwaitingDateChange   SessionKind = "awaiting_date_change"
	SessionAwaitingConfirmation SessionKind = "awaiting_confirmation"
	SessionAwaitingFeedback     SessionKind = "awaiting_feedback"
)

// Session is the single active conversation for one identifier. Keeping one
// tagged value per identifier (instead of one map per flow) makes the
// single-active-session invariant structural: entering a flow overwrites
// whatever was in progress.
type Session struct {
	Kind SessionKind `json:"kind"`

	// Registering: current step 1..4 and the fields collected so far.
	Step  int    `json:"step,omitempty"`
	Name  string `json:"name,omitempty"`
	Age   int    `json:"age,omitempty"`
	Email string `json:"email,omitempty"`

	// AwaitingConfirmation: which reminder (7 or 2 days) opened this session.
	ThresholdDays int `json:"threshold_days,omitempty"`
}

func NewRegistrationSession() *Session {
	return &Session{Kind: SessionRegistering, Step: 1}
}

func NewDateChangeSession() *Session {
	return &Session{Kind: SessionAwaitingDateChange}
}

func NewConfirmationSession(thresholdDays int) *Session {
	return &Session{Kind: SessionAwaitingConfirmation, ThresholdDays: thresholdDays}
}

func NewFeedbackSession() *Session {
	return &Session{Kind: SessionAwaitingFeedback}
}
