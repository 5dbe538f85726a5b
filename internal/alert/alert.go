package alert

import (
	"context"
	"fmt"

	"github.com/saudebot/exam-reminders/internal/domain"
	"github.com/saudebot/exam-reminders/internal/gateway"
	"github.com/saudebot/exam-reminders/internal/platform/mailer"
	"github.com/saudebot/exam-reminders/pkg/logger"
)

// Notifier fans cancellation alerts out to every configured administrator:
// a WhatsApp message per admin identifier and, when configured, an e-mail
// copy per admin address. Delivery is best-effort and sequential; a failure
// on one recipient never aborts the rest.
type Notifier struct {
	gw          gateway.Gateway
	mail        mailer.Service
	identifiers []string
	emails      []string
}

func NewNotifier(gw gateway.Gateway, mail mailer.Service, identifiers, emails []string) *Notifier {
	return &Notifier{
		gw:          gw,
		mail:        mail,
		identifiers: identifiers,
		emails:      emails,
	}
}

func cancellationText(p *domain.Patient) string {
	return fmt.Sprintf(
		"🚨 *Consulta Desmarcada*\n\n"+
			"Nome: %s\n"+
			"Telefone: %s\n"+
			"Email: %s\n"+
			"Data do exame: %s",
		p.Name, p.Phone, p.Email, p.ExamDate)
}

// Cancellation notifies every administrator that the patient cancelled.
func (n *Notifier) Cancellation(ctx context.Context, p *domain.Patient) {
	text := cancellationText(p)

	for _, admin := range n.identifiers {
		if err := n.gw.Send(ctx, admin, text); err != nil {
			logger.ErrorContext(ctx, "cancellation alert delivery failed",
				"admin", admin, "patient", p.Name, "error", err)
		}
	}

	if n.mail == nil {
		return
	}
	subject := fmt.Sprintf("Consulta desmarcada: %s", p.Name)
	html := fmt.Sprintf("<p><b>Consulta desmarcada</b></p><p>Nome: %s<br>Telefone: %s<br>Email: %s<br>Data do exame: %s</p>",
		p.Name, p.Phone, p.Email, p.ExamDate)
	for _, addr := range n.emails {
		if _, err := n.mail.Send(addr, "", subject, text, html); err != nil {
			logger.ErrorContext(ctx, "cancellation alert mail failed",
				"to", addr, "patient", p.Name, "error", err)
		}
	}
}
