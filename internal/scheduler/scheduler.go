package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/saudebot/exam-reminders/internal/dispatch"
	"github.com/saudebot/exam-reminders/internal/domain"
	"github.com/saudebot/exam-reminders/internal/gateway"
	"github.com/saudebot/exam-reminders/internal/session"
	"github.com/saudebot/exam-reminders/internal/store"
	"github.com/saudebot/exam-reminders/pkg/events"
	"github.com/saudebot/exam-reminders/pkg/logger"
)

const (
	msgSevenDayReminder = "*Olá! Estamos a 7 dias do seu exame de colonoscopia.*\n\n" +
		"Este exame é muito importante para avaliar sua saúde intestinal e prevenir diversas doenças. " +
		"Certifique-se de seguir as orientações fornecidas pelo seu médico.\n\n" +
		"*Você confirma sua presença?*\n" +
		"1️⃣ - SIM\n2️⃣ - NÃO (reagendaremos)"

	msgTwoDayReminder = "*Faltam apenas 2 dias para seu exame!*\n\n" +
		"Não se esqueça de comprar o kit de preparo e seguir todas as instruções.\n\n" +
		"*Confirmar presença?*\n" +
		"1️⃣ - SIM\n2️⃣ - NÃO"

	msgFeedbackRequest = "*Avalie nosso serviço*\n\n" +
		"De 1️⃣ a 5️⃣, como foi sua experiência com nossos lembretes?\n" +
		"(1 = Não útil, 5 = Muito útil)"
)

// Scheduler scans every patient on a fixed cadence and fires the
// time-sensitive notifications: 7-day and 2-day reminders when the
// days-until-exam equals the threshold, and the feedback request the day
// after the exam. Per-patient sent flags make each trigger fire at most
// once per exam date. Triggers use exact equality: a scan missed across the
// exact day skips that notification for good.
type Scheduler struct {
	store      store.PatientStore
	sessions   session.Registry
	gw         gateway.Gateway
	dispatcher *dispatch.Dispatcher
	bus        events.Publisher

	interval time.Duration
	now      func() time.Time
	cron     *gocron.Scheduler
}

func New(
	st store.PatientStore,
	sessions session.Registry,
	gw gateway.Gateway,
	dispatcher *dispatch.Dispatcher,
	bus events.Publisher,
	interval time.Duration,
) *Scheduler {
	return &Scheduler{
		store:      st,
		sessions:   sessions,
		gw:         gw,
		dispatcher: dispatcher,
		bus:        bus,
		interval:   interval,
		now:        time.Now,
	}
}

// Start runs one eager scan and then ticks on the configured interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron = gocron.NewScheduler(time.Local)
	s.cron.Every(s.interval).Do(func() {
		s.Scan(ctx)
	})
	s.cron.StartAsync()

	s.Scan(ctx)
	logger.Info("notification scheduler started", "interval", s.interval.String())
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	logger.Info("notification scheduler stopped")
}

// Scan walks a snapshot of all patients, routing each patient's checks
// through the per-identifier dispatcher so a tick cannot interleave with an
// inbound-message handler for the same identifier. One persist covers the
// whole scan.
func (s *Scheduler) Scan(ctx context.Context) {
	snapshot := s.store.All()
	if len(snapshot) == 0 {
		return
	}

	var wg sync.WaitGroup
	for id := range snapshot {
		wg.Add(1)
		id := id
		accepted := s.dispatcher.Do(id, func() {
			defer wg.Done()
			s.checkPatient(ctx, id)
		})
		if !accepted {
			// Dispatcher is shutting down; the remaining checks wait for
			// the next scan.
			wg.Done()
		}
	}
	wg.Wait()

	if err := s.store.Persist(ctx); err != nil {
		logger.ErrorContext(ctx, "scan persist failed, in-memory state retained", "error", err)
	}
}

func (s *Scheduler) checkPatient(ctx context.Context, id string) {
	p, ok := s.store.Get(id)
	if !ok || p.ExamDate == "" {
		return
	}

	exam, err := domain.ParseExamDate(p.ExamDate)
	if err != nil {
		rec := &domain.MalformedRecordError{Identifier: id, Field: "exam_date", Value: p.ExamDate}
		logger.WarnContext(ctx, "skipping record for this scan", "error", rec.Error())
		return
	}

	now := s.now()
	diffDays := domain.DaysUntil(exam, now)

	if diffDays == 7 && !p.Notifications.SevenDaySent {
		s.sendReminder(ctx, id, p, 7, msgSevenDayReminder)
		p.Notifications.SevenDaySent = true
		s.store.Put(id, p)
	}

	if diffDays == 2 && !p.Notifications.TwoDaySent {
		s.sendReminder(ctx, id, p, 2, msgTwoDayReminder)
		p.Notifications.TwoDaySent = true
		s.store.Put(id, p)
	}

	feedbackDay := domain.Midnight(exam).AddDate(0, 0, 1)
	if domain.Midnight(now).Equal(feedbackDay) && !p.FeedbackSent {
		s.requestFeedback(ctx, id)
		p.FeedbackSent = true
		s.store.Put(id, p)
	}
}

// sendReminder delivers a threshold reminder and opens the confirmation
// session. The flag is set even when delivery fails: the mutation is
// committed, not retried, matching the at-least-attempt gateway contract.
func (s *Scheduler) sendReminder(ctx context.Context, id string, p *domain.Patient, days int, text string) {
	if err := s.gw.Send(ctx, id, text); err != nil {
		logger.ErrorContext(ctx, "reminder delivery failed", "to", id, "threshold_days", days, "error", err)
	}
	s.sessions.Set(id, domain.NewConfirmationSession(days))

	s.publish(ctx, events.ReminderSent, events.ReminderSentEvent{
		Identifier:    id,
		ThresholdDays: days,
		ExamDate:      p.ExamDate,
		SentAt:        s.now(),
	})
	logger.InfoContext(ctx, "reminder sent", "to", id, "threshold_days", days, "exam_date", p.ExamDate)
}

func (s *Scheduler) requestFeedback(ctx context.Context, id string) {
	if err := s.gw.Send(ctx, id, msgFeedbackRequest); err != nil {
		logger.ErrorContext(ctx, "feedback request delivery failed", "to", id, "error", err)
	}
	s.sessions.Set(id, domain.NewFeedbackSession())

	s.publish(ctx, events.FeedbackRequested, map[string]interface{}{
		"identifier":   id,
		"requested_at": s.now(),
	})
	logger.InfoContext(ctx, "feedback requested", "to", id)
}

func (s *Scheduler) publish(ctx context.Context, subject string, payload interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, subject, payload); err != nil {
		logger.DebugContext(ctx, "event publish failed", "subject", subject, "error", err)
	}
}
