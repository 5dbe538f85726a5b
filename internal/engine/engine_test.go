package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/saudebot/exam-reminders/internal/alert"
	"github.com/saudebot/exam-reminders/internal/domain"
	"github.com/saudebot/exam-reminders/internal/session"
	"github.com/saudebot/exam-reminders/internal/store"
	"github.com/saudebot/exam-reminders/pkg/events"
)

// ---------- Mocks ----------

type sentMessage struct {
	To   string
	Text string
}

type mockGateway struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[string]bool
}

func (m *mockGateway) Send(_ context.Context, to, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[to] {
		return fmt.Errorf("send to %s failed", to)
	}
	m.sent = append(m.sent, sentMessage{To: to, Text: text})
	return nil
}

func (m *mockGateway) sentTo(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.To == id {
			out = append(out, s.Text)
		}
	}
	return out
}

func (m *mockGateway) last(id string) string {
	msgs := m.sentTo(id)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func (m *mockGateway) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

const (
	patientID = "5511999990000@c.us"
	adminID   = "5511970000000@c.us"
	admin2ID  = "5511970000001@c.us"
)

var fixedNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.Local)

func newTestEngine(t *testing.T) (*Engine, *mockGateway, store.PatientStore, session.Registry) {
	t.Helper()
	st := store.NewFileStore(filepath.Join(t.TempDir(), "exames.json"))
	if err := st.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	sessions := session.NewMemoryRegistry()
	gw := &mockGateway{failFor: make(map[string]bool)}
	alerts := alert.NewNotifier(gw, nil, []string{adminID, admin2ID}, nil)

	e := New(st, sessions, gw, alerts, events.NoopBus{}, []string{adminID, admin2ID}, "@c.us")
	e.now = func() time.Time { return fixedNow }
	return e, gw, st, sessions
}

func register(t *testing.T, e *Engine, gw *mockGateway, id, name, age, email, date string) {
	t.Helper()
	ctx := context.Background()
	e.HandleMessage(ctx, id, "cadastrar")
	e.HandleMessage(ctx, id, name)
	e.HandleMessage(ctx, id, age)
	e.HandleMessage(ctx, id, email)
	e.HandleMessage(ctx, id, date)
	if last := gw.last(id); last != msgMenu {
		t.Fatalf("registration did not finish, last message: %q", last)
	}
	gw.reset()
}

// ---------- Menu commands ----------

func TestMenuOptionsRequireRegistration(t *testing.T) {
	for _, option := range []string{"1", "2", "3"} {
		t.Run("option "+option, func(t *testing.T) {
			e, gw, st, sessions := newTestEngine(t)
			e.HandleMessage(context.Background(), patientID, option)

			last := gw.last(patientID)
			if !strings.Contains(last, "não") {
				t.Errorf("expected not-registered reply, got %q", last)
			}
			if len(st.All()) != 0 {
				t.Error("unexpected store mutation")
			}
			if _, ok := sessions.Get(patientID); ok {
				t.Error("unexpected session created")
			}
		})
	}
}

func TestGreetingDependsOnRegistration(t *testing.T) {
	e, gw, _, _ := newTestEngine(t)
	ctx := context.Background()

	e.HandleMessage(ctx, patientID, "oi")
	if got := gw.last(patientID); got != msgWelcome {
		t.Errorf("unregistered greeting = %q, want welcome", got)
	}

	register(t, e, gw, patientID, "Maria Silva", "52", "maria@example.com", "20/10/2030")

	e.HandleMessage(ctx, patientID, "Olá")
	if got := gw.last(patientID); got != msgMenu {
		t.Errorf("registered greeting = %q, want menu", got)
	}
}

func TestUnknownTextGetsHelp(t *testing.T) {
	e, gw, _, _ := newTestEngine(t)
	e.HandleMessage(context.Background(), patientID, "qualquer coisa")
	if got := gw.last(patientID); got != msgHelp {
		t.Errorf("got %q, want help text", got)
	}
}

// ---------- Registration ----------

func TestRegistrationHappyPath(t *testing.T) {
	e, gw, st, sessions := newTestEngine(t)
	register(t, e, gw, patientID, "Maria Silva", "52", "maria@example.com", "20/10/2030")

	p, ok := st.Get(patientID)
	if !ok {
		t.Fatal("patient not created")
	}
	if p.Name != "Maria Silva" || p.Age != 52 || p.Email != "maria@example.com" {
		t.Errorf("unexpected patient: %+v", p)
	}
	if p.Phone != "5511999990000" {
		t.Errorf("phone = %q, want identifier without suffix", p.Phone)
	}
	if p.Confirmation != domain.ConfirmationPending {
		t.Errorf("confirmation = %q, want pending", p.Confirmation)
	}
	if p.Notifications.SevenDaySent || p.Notifications.TwoDaySent {
		t.Error("notification flags should start empty")
	}
	if _, ok := sessions.Get(patientID); ok {
		t.Error("session not cleared after registration")
	}
}

func TestRegistrationInvalidAgeStaysAtStepTwo(t *testing.T) {
	for _, bad := range []string{"0", "abc", "-3"} {
		t.Run(bad, func(t *testing.T) {
			e, gw, st, sessions := newTestEngine(t)
			ctx := context.Background()

			e.HandleMessage(ctx, patientID, "cadastrar")
			e.HandleMessage(ctx, patientID, "Maria")
			e.HandleMessage(ctx, patientID, bad)

			s, ok := sessions.Get(patientID)
			if !ok || s.Step != 2 {
				t.Fatalf("session should stay at step 2, got %+v", s)
			}
			if len(st.All()) != 0 {
				t.Error("patient should not exist yet")
			}
			if last := gw.last(patientID); !strings.Contains(last, "idade inválida") {
				t.Errorf("expected age error, got %q", last)
			}

			// Re-prompt accepts a valid value at the same step.
			e.HandleMessage(ctx, patientID, "41")
			if got := gw.last(patientID); got != msgAskEmail {
				t.Errorf("after valid age got %q, want email prompt", got)
			}
		})
	}
}

func TestRegistrationInvalidEmailStaysAtStepThree(t *testing.T) {
	e, gw, _, sessions := newTestEngine(t)
	ctx := context.Background()

	e.HandleMessage(ctx, patientID, "cadastrar")
	e.HandleMessage(ctx, patientID, "Maria")
	e.HandleMessage(ctx, patientID, "52")
	e.HandleMessage(ctx, patientID, "not-an-email")

	if s, ok := sessions.Get(patientID); !ok || s.Step != 3 {
		t.Fatalf("session should stay at step 3, got %+v", s)
	}
	if last := gw.last(patientID); !strings.Contains(last, "e-mail") {
		t.Errorf("expected email error, got %q", last)
	}
}

func TestRegistrationDateValidation(t *testing.T) {
	tests := []struct {
		name string
		date string
		ok   bool
	}{
		{"leap day accepted on leap year", "29/02/2032", true},
		{"leap day rejected on non-leap year", "29/02/2031", false},
		{"past date rejected", "01/01/2020", false},
		{"same day rejected", "10/06/2025", false},
		{"future date accepted", "11/06/2025", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, gw, st, sessions := newTestEngine(t)
			ctx := context.Background()

			e.HandleMessage(ctx, patientID, "cadastrar")
			e.HandleMessage(ctx, patientID, "Maria")
			e.HandleMessage(ctx, patientID, "52")
			e.HandleMessage(ctx, patientID, "maria@example.com")
			e.HandleMessage(ctx, patientID, tt.date)

			_, created := st.Get(patientID)
			if created != tt.ok {
				t.Errorf("patient created = %v, want %v (last reply %q)", created, tt.ok, gw.last(patientID))
			}
			if !tt.ok {
				if s, ok := sessions.Get(patientID); !ok || s.Step != 4 {
					t.Errorf("session should stay at step 4, got %+v", s)
				}
			}
		})
	}
}

func TestReRegistrationRejected(t *testing.T) {
	e, gw, _, sessions := newTestEngine(t)
	register(t, e, gw, patientID, "Maria", "52", "maria@example.com", "20/10/2030")

	e.HandleMessage(context.Background(), patientID, "cadastrar")
	if got := gw.last(patientID); got != msgAlreadyRegistered {
		t.Errorf("got %q, want already-registered reply", got)
	}
	if _, ok := sessions.Get(patientID); ok {
		t.Error("no session should be created for re-registration")
	}
}

// ---------- Date change ----------

func TestDateChangeResetsNotificationFlags(t *testing.T) {
	e, gw, st, sessions := newTestEngine(t)
	register(t, e, gw, patientID, "Maria", "52", "maria@example.com", "17/06/2025")
	ctx := context.Background()

	p, _ := st.Get(patientID)
	p.Notifications.SevenDaySent = true
	p.Notifications.TwoDaySent = true
	st.Put(patientID, p)

	e.HandleMessage(ctx, patientID, "2")
	e.HandleMessage(ctx, patientID, "20/10/2030")

	p, _ = st.Get(patientID)
	if p.ExamDate != "20/10/2030" {
		t.Errorf("exam date = %q", p.ExamDate)
	}
	if p.Notifications.SevenDaySent || p.Notifications.TwoDaySent {
		t.Error("notification flags not reset on date change")
	}
	if _, ok := sessions.Get(patientID); ok {
		t.Error("session not cleared")
	}
}

func TestDateChangeSingleAttempt(t *testing.T) {
	e, gw, st, sessions := newTestEngine(t)
	register(t, e, gw, patientID, "Maria", "52", "maria@example.com", "17/06/2025")
	ctx := context.Background()

	e.HandleMessage(ctx, patientID, "2")
	e.HandleMessage(ctx, patientID, "31/02/2030")

	if last := gw.last(patientID); !strings.Contains(last, "Erro") {
		t.Errorf("expected error reply, got %q", last)
	}
	// One attempt only: the session is gone and the date unchanged.
	if _, ok := sessions.Get(patientID); ok {
		t.Error("date-change session should be cleared on failure")
	}
	if p, _ := st.Get(patientID); p.ExamDate != "17/06/2025" {
		t.Errorf("exam date mutated to %q on failed change", p.ExamDate)
	}
}

// ---------- Confirmation ----------

func TestConfirmationYes(t *testing.T) {
	e, gw, st, sessions := newTestEngine(t)
	register(t, e, gw, patientID, "Maria", "52", "maria@example.com", "17/06/2025")

	sessions.Set(patientID, domain.NewConfirmationSession(7))
	e.HandleMessage(context.Background(), patientID, "1")

	p, _ := st.Get(patientID)
	if p.Confirmation != domain.ConfirmationConfirmed {
		t.Errorf("confirmation = %q, want confirmed", p.Confirmation)
	}
	if last := gw.last(patientID); !strings.Contains(last, ackConfirmedSevenDays) {
		t.Errorf("got %q, want 7-day ack", last)
	}
	if got := gw.sentTo(adminID); len(got) != 0 {
		t.Errorf("no admin alert expected on confirmation, got %v", got)
	}
	if _, ok := sessions.Get(patientID); ok {
		t.Error("session not cleared")
	}
}

func TestConfirmationAnythingElseCancels(t *testing.T) {
	e, gw, st, sessions := newTestEngine(t)
	register(t, e, gw, patientID, "Maria", "52", "maria@example.com", "17/06/2025")

	sessions.Set(patientID, domain.NewConfirmationSession(7))
	e.HandleMessage(context.Background(), patientID, "2")

	p, _ := st.Get(patientID)
	if p.Confirmation != domain.ConfirmationCancelled {
		t.Errorf("confirmation = %q, want cancelled", p.Confirmation)
	}

	// Exactly one alert per administrator, with the patient details.
	for _, admin := range []string{adminID, admin2ID} {
		alerts := gw.sentTo(admin)
		if len(alerts) != 1 {
			t.Fatalf("admin %s got %d alerts, want 1", admin, len(alerts))
		}
		for _, field := range []string{"Maria", "5511999990000", "maria@example.com", "17/06/2025"} {
			if !strings.Contains(alerts[0], field) {
				t.Errorf("alert missing %q: %q", field, alerts[0])
			}
		}
	}

	if last := gw.last(patientID); !strings.Contains(last, ackCancelled) {
		t.Errorf("got %q, want cancellation ack", last)
	}
}

func TestConfirmationTwoDayAck(t *testing.T) {
	e, gw, _, sessions := newTestEngine(t)
	register(t, e, gw, patientID, "Maria", "52", "maria@example.com", "12/06/2025")

	sessions.Set(patientID, domain.NewConfirmationSession(2))
	e.HandleMessage(context.Background(), patientID, "1")

	if last := gw.last(patientID); !strings.Contains(last, ackConfirmedTwoDays) {
		t.Errorf("got %q, want 2-day ack", last)
	}
}

// ---------- Feedback ----------

func TestFeedbackStoresScore(t *testing.T) {
	e, gw, st, sessions := newTestEngine(t)
	register(t, e, gw, patientID, "Maria", "52", "maria@example.com", "17/06/2025")

	sessions.Set(patientID, domain.NewFeedbackSession())
	e.HandleMessage(context.Background(), patientID, "5")

	p, _ := st.Get(patientID)
	if p.FeedbackScore == nil || *p.FeedbackScore != 5 {
		t.Errorf("feedback score = %v, want 5", p.FeedbackScore)
	}
	if got := gw.last(patientID); got != msgFeedbackThanks {
		t.Errorf("got %q, want thanks", got)
	}
	if _, ok := sessions.Get(patientID); ok {
		t.Error("session not cleared")
	}
}

func TestFeedbackInvalidScoreClearsSession(t *testing.T) {
	for _, bad := range []string{"0", "6", "ótimo"} {
		t.Run(bad, func(t *testing.T) {
			e, gw, st, sessions := newTestEngine(t)
			register(t, e, gw, patientID, "Maria", "52", "maria@example.com", "17/06/2025")

			sessions.Set(patientID, domain.NewFeedbackSession())
			e.HandleMessage(context.Background(), patientID, bad)

			p, _ := st.Get(patientID)
			if p.FeedbackScore != nil {
				t.Errorf("score stored for invalid input: %v", *p.FeedbackScore)
			}
			if got := gw.last(patientID); got != msgFeedbackInvalid {
				t.Errorf("got %q, want invalid-score reply", got)
			}
			// Single attempt: the session is gone either way.
			if _, ok := sessions.Get(patientID); ok {
				t.Error("feedback session should be cleared")
			}
		})
	}
}

// ---------- Cancellation (menu 3) ----------

func TestMenuThreeDeletesPatientAndSession(t *testing.T) {
	e, gw, st, sessions := newTestEngine(t)
	register(t, e, gw, patientID, "Maria", "52", "maria@example.com", "17/06/2025")

	sessions.Set(patientID, domain.NewFeedbackSession())
	e.HandleMessage(context.Background(), patientID, "3")

	if _, ok := st.Get(patientID); ok {
		t.Error("patient not deleted")
	}
	if _, ok := sessions.Get(patientID); ok {
		t.Error("derived session state not removed")
	}
	if got := gw.last(patientID); got != msgCancelled {
		t.Errorf("got %q, want cancel confirmation", got)
	}
}

// ---------- Broadcast ----------

func TestBroadcastFromAdmin(t *testing.T) {
	e, gw, _, _ := newTestEngine(t)
	register(t, e, gw, patientID, "Maria", "52", "maria@example.com", "17/06/2025")
	register(t, e, gw, "5522@c.us", "João", "60", "joao@example.com", "18/06/2025")

	e.HandleMessage(context.Background(), adminID, "/broadcast Atenção: manutenção amanhã")

	for _, id := range []string{patientID, "5522@c.us"} {
		msgs := gw.sentTo(id)
		if len(msgs) != 1 || msgs[0] != "Atenção: manutenção amanhã" {
			t.Errorf("patient %s got %v", id, msgs)
		}
	}
	if got := gw.last(adminID); got != msgBroadcastDone {
		t.Errorf("admin reply = %q", got)
	}
}

func TestBroadcastFromNonAdminReachesNoPatient(t *testing.T) {
	e, gw, _, _ := newTestEngine(t)
	register(t, e, gw, patientID, "Maria", "52", "maria@example.com", "17/06/2025")

	intruder := "5533@c.us"
	e.HandleMessage(context.Background(), intruder, "/broadcast hello")

	if msgs := gw.sentTo(patientID); len(msgs) != 0 {
		t.Errorf("patient received broadcast from non-admin: %v", msgs)
	}
	if got := gw.last(intruder); got != msgHelp {
		t.Errorf("non-admin reply = %q, want help", got)
	}
}

func TestBroadcastWithoutMessage(t *testing.T) {
	e, gw, _, _ := newTestEngine(t)
	e.HandleMessage(context.Background(), adminID, "/broadcast")
	if got := gw.last(adminID); got != msgBroadcastUsage {
		t.Errorf("got %q, want usage reply", got)
	}
}

func TestBroadcastReportsFailures(t *testing.T) {
	e, gw, _, _ := newTestEngine(t)
	register(t, e, gw, patientID, "Maria", "52", "maria@example.com", "17/06/2025")
	register(t, e, gw, "5522@c.us", "João", "60", "joao@example.com", "18/06/2025")

	gw.failFor["5522@c.us"] = true
	e.HandleMessage(context.Background(), adminID, "/broadcast oi")

	if got := gw.last(adminID); got != msgBroadcastFailed {
		t.Errorf("admin reply = %q, want failure note", got)
	}
	// The failure on one recipient does not abort delivery to the rest.
	if msgs := gw.sentTo(patientID); len(msgs) != 1 {
		t.Errorf("other recipient skipped: %v", msgs)
	}
}

// ---------- Delivery failures ----------

func TestSendFailureDoesNotRollBackMutation(t *testing.T) {
	e, gw, st, sessions := newTestEngine(t)
	register(t, e, gw, patientID, "Maria", "52", "maria@example.com", "17/06/2025")

	sessions.Set(patientID, domain.NewConfirmationSession(7))
	gw.failFor[patientID] = true
	e.HandleMessage(context.Background(), patientID, "1")

	p, _ := st.Get(patientID)
	if p.Confirmation != domain.ConfirmationConfirmed {
		t.Error("mutation rolled back on delivery failure")
	}
}
