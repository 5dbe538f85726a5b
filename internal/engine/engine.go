package engine

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/saudebot/exam-reminders/internal/alert"
	"github.com/saudebot/exam-reminders/internal/domain"
	"github.com/saudebot/exam-reminders/internal/gateway"
	"github.com/saudebot/exam-reminders/internal/session"
	"github.com/saudebot/exam-reminders/internal/store"
	"github.com/saudebot/exam-reminders/pkg/events"
	"github.com/saudebot/exam-reminders/pkg/logger"
)

var (
	ageRe   = regexp.MustCompile(`^\d+$`)
	emailRe = regexp.MustCompile(`^\S+@\S+\.\S+$`)
)

// Engine maps an inbound (identifier, text) pair plus the identifier's
// current session to a transition: validate input, mutate stores, reply.
// Callers are expected to serialize invocations per identifier (see
// internal/dispatch); the engine itself is synchronous.
type Engine struct {
	store    store.PatientStore
	sessions session.Registry
	gw       gateway.Gateway
	alerts   *alert.Notifier
	bus      events.Publisher
	admins   map[string]struct{}
	suffix   string

	// Clock injection for date validation tests.
	now func() time.Time
}

func New(
	st store.PatientStore,
	sessions session.Registry,
	gw gateway.Gateway,
	alerts *alert.Notifier,
	bus events.Publisher,
	adminIdentifiers []string,
	identifierSuffix string,
) *Engine {
	admins := make(map[string]struct{}, len(adminIdentifiers))
	for _, id := range adminIdentifiers {
		admins[id] = struct{}{}
	}
	return &Engine{
		store:    st,
		sessions: sessions,
		gw:       gw,
		alerts:   alerts,
		bus:      bus,
		admins:   admins,
		suffix:   identifierSuffix,
		now:      time.Now,
	}
}

func (e *Engine) isAdmin(id string) bool {
	_, ok := e.admins[id]
	return ok
}

// HandleMessage processes one inbound message. It never panics out: any
// failure is logged and answered with a generic retry message.
func (e *Engine) HandleMessage(ctx context.Context, from, text string) {
	ctx = context.WithValue(ctx, logger.IdentifierKey, from)
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "message handler panicked", "panic", r)
			e.send(ctx, from, msgGenericError)
		}
	}()

	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "/broadcast") && e.isAdmin(from) {
		e.handleBroadcastCommand(ctx, from, text)
		return
	}

	if s, ok := e.sessions.Get(from); ok {
		switch s.Kind {
		case domain.SessionAwaitingConfirmation:
			e.handleConfirmation(ctx, from, text, s)
		case domain.SessionAwaitingFeedback:
			e.handleFeedback(ctx, from, text)
		case domain.SessionAwaitingDateChange:
			e.handleDateChange(ctx, from, text)
		case domain.SessionRegistering:
			e.handleRegistration(ctx, from, text, s)
		default:
			logger.WarnContext(ctx, "unknown session kind, evicting", "kind", s.Kind)
			e.sessions.Clear(from)
			e.send(ctx, from, msgHelp)
		}
		return
	}

	e.handleCommand(ctx, from, text)
}

// ---------- commands ----------

func (e *Engine) handleCommand(ctx context.Context, from, text string) {
	switch strings.ToLower(text) {
	case "oi", "ola", "olá":
		if _, ok := e.store.Get(from); ok {
			e.send(ctx, from, msgMenu)
		} else {
			e.send(ctx, from, msgWelcome)
		}

	case "cadastrar", "cadastro":
		e.startRegistration(ctx, from)

	case "menu":
		e.send(ctx, from, msgMenu)

	case "1":
		if p, ok := e.store.Get(from); ok {
			e.send(ctx, from, statusMessage(p))
		} else {
			e.send(ctx, from, msgNotRegistered)
		}

	case "2":
		if _, ok := e.store.Get(from); ok {
			e.sessions.Set(from, domain.NewDateChangeSession())
			e.send(ctx, from, msgAskNewDate)
		} else {
			e.send(ctx, from, msgNotRegistered)
		}

	case "3":
		if _, ok := e.store.Get(from); ok {
			e.store.Delete(from)
			e.sessions.Clear(from)
			e.persist(ctx)
			e.publish(ctx, events.PatientDeleted, events.PatientDeletedEvent{
				Identifier: from,
				DeletedAt:  e.now(),
			})
			e.send(ctx, from, msgCancelled)
		} else {
			e.send(ctx, from, msgNoRegistration)
		}

	default:
		e.send(ctx, from, msgHelp)
	}
}

// ---------- registration ----------

func (e *Engine) startRegistration(ctx context.Context, from string) {
	if _, ok := e.store.Get(from); ok {
		e.send(ctx, from, msgAlreadyRegistered)
		return
	}
	e.sessions.Set(from, domain.NewRegistrationSession())
	e.send(ctx, from, msgRegistrationStart)
}

func (e *Engine) handleRegistration(ctx context.Context, from, text string, s *domain.Session) {
	switch s.Step {
	case 1:
		s.Name = text
		s.Step = 2
		e.sessions.Set(from, s)
		e.send(ctx, from, msgAskAge)

	case 2:
		age, err := parseAge(text)
		if err != nil {
			e.send(ctx, from, errorMessage(err))
			return
		}
		s.Age = age
		s.Step = 3
		e.sessions.Set(from, s)
		e.send(ctx, from, msgAskEmail)

	case 3:
		if !emailRe.MatchString(text) {
			e.send(ctx, from, errorMessage(domain.NewValidationError("e-mail inválido")))
			return
		}
		s.Email = text
		s.Step = 4
		e.sessions.Set(from, s)
		e.send(ctx, from, msgAskExamDate)

	case 4:
		if _, err := domain.ValidateFutureExamDate(text, e.now()); err != nil {
			e.send(ctx, from, errorMessage(err))
			return
		}

		p := &domain.Patient{
			Name:         s.Name,
			Age:          s.Age,
			Email:        s.Email,
			Phone:        strings.TrimSuffix(from, e.suffix),
			ExamDate:     text,
			Confirmation: domain.ConfirmationPending,
		}
		e.store.Put(from, p)
		e.persist(ctx)
		e.sessions.Clear(from)

		e.publish(ctx, events.PatientRegistered, events.PatientRegisteredEvent{
			Identifier: from,
			Name:       p.Name,
			Email:      p.Email,
			ExamDate:   p.ExamDate,
			CreatedAt:  e.now(),
		})

		e.send(ctx, from, msgRegistrationDone)
		e.send(ctx, from, msgMenu)

	default:
		logger.WarnContext(ctx, "registration session at impossible step, evicting", "step", s.Step)
		e.sessions.Clear(from)
		e.send(ctx, from, msgGenericError)
	}
}

func parseAge(text string) (int, error) {
	if !ageRe.MatchString(text) {
		return 0, domain.NewValidationError("idade inválida")
	}
	age, err := strconv.Atoi(text)
	if err != nil || age < 1 {
		return 0, domain.NewValidationError("idade inválida")
	}
	return age, nil
}

// ---------- date change ----------

// One attempt only: validation failure clears the session instead of
// re-prompting, sending the patient back to the menu commands.
func (e *Engine) handleDateChange(ctx context.Context, from, text string) {
	defer e.sessions.Clear(from)

	p, ok := e.store.Get(from)
	if !ok {
		e.send(ctx, from, msgNotRegistered)
		return
	}

	if _, err := domain.ValidateFutureExamDate(text, e.now()); err != nil {
		e.send(ctx, from, errorMessage(err))
		return
	}

	oldDate := p.ExamDate
	p.ExamDate = text
	p.Notifications = domain.NotificationFlags{}
	e.store.Put(from, p)
	e.persist(ctx)

	e.publish(ctx, events.ExamRescheduled, events.ExamRescheduledEvent{
		Identifier:  from,
		OldExamDate: oldDate,
		NewExamDate: text,
		UpdatedAt:   e.now(),
	})

	e.send(ctx, from, msgDateChanged)
	e.send(ctx, from, msgMenu)
}

// ---------- confirmation ----------

func (e *Engine) handleConfirmation(ctx context.Context, from, text string, s *domain.Session) {
	defer e.sessions.Clear(from)

	confirmed := text == "1"

	if p, ok := e.store.Get(from); ok {
		if confirmed {
			p.Confirmation = domain.ConfirmationConfirmed
		} else {
			p.Confirmation = domain.ConfirmationCancelled
		}
		e.store.Put(from, p)
		e.persist(ctx)

		if confirmed {
			e.publish(ctx, events.ExamConfirmed, events.ExamConfirmedEvent{
				Identifier:    from,
				ThresholdDays: s.ThresholdDays,
				ConfirmedAt:   e.now(),
			})
		} else {
			e.publish(ctx, events.ExamCanceled, events.ExamCanceledEvent{
				Identifier:    from,
				ThresholdDays: s.ThresholdDays,
				ExamDate:      p.ExamDate,
				CanceledAt:    e.now(),
			})
			e.alerts.Cancellation(ctx, p)
		}
	}

	e.send(ctx, from, "✅ "+confirmationAck(confirmed, s.ThresholdDays))
}

// ---------- feedback ----------

func (e *Engine) handleFeedback(ctx context.Context, from, text string) {
	defer e.sessions.Clear(from)

	score, err := strconv.Atoi(text)
	if err != nil || score < 1 || score > 5 {
		e.send(ctx, from, msgFeedbackInvalid)
		return
	}

	if p, ok := e.store.Get(from); ok {
		p.FeedbackScore = &score
		e.store.Put(from, p)
		e.persist(ctx)

		e.publish(ctx, events.FeedbackReceived, events.FeedbackReceivedEvent{
			Identifier: from,
			Score:      score,
			ReceivedAt: e.now(),
		})
	}

	e.send(ctx, from, msgFeedbackThanks)
}

// ---------- broadcast ----------

func (e *Engine) handleBroadcastCommand(ctx context.Context, from, text string) {
	message := strings.TrimSpace(strings.TrimPrefix(text, "/broadcast"))
	if message == "" {
		e.send(ctx, from, msgBroadcastUsage)
		return
	}

	_, failed := e.Broadcast(ctx, message)
	if failed > 0 {
		e.send(ctx, from, msgBroadcastFailed)
		return
	}
	e.send(ctx, from, msgBroadcastDone)
}

// Broadcast delivers the message to every registered patient sequentially.
// Per-recipient failures are logged; the loop never aborts.
func (e *Engine) Broadcast(ctx context.Context, message string) (sent, failed int) {
	for id := range e.store.All() {
		if err := e.gw.Send(ctx, id, message); err != nil {
			failed++
			logger.ErrorContext(ctx, "broadcast delivery failed", "to", id, "error", err)
			continue
		}
		sent++
	}
	logger.InfoContext(ctx, "broadcast finished", "sent", sent, "failed", failed)
	return sent, failed
}

// ---------- helpers ----------

func (e *Engine) send(ctx context.Context, to, text string) {
	if err := e.gw.Send(ctx, to, text); err != nil {
		logger.ErrorContext(ctx, "outbound delivery failed", "to", to, "error", err)
	}
}

func (e *Engine) persist(ctx context.Context) {
	if err := e.store.Persist(ctx); err != nil {
		logger.ErrorContext(ctx, "persist failed, in-memory state retained", "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, subject string, payload interface{}) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, subject, payload); err != nil {
		logger.DebugContext(ctx, "event publish failed", "subject", subject, "error", err)
	}
}
