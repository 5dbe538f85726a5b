package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/saudebot/exam-reminders/pkg/config"
	mw "github.com/saudebot/exam-reminders/pkg/middleware"
)

// NewRouter wires the webhook and admin API.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("exam-reminders"))
	r.Use(mw.Logging)
	r.Use(mw.CORS)
	r.Use(mw.Health)

	r.Post("/webhook/message", h.InboundMessage)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/token", h.AdminToken)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireJWT("admin"))
			r.Get("/patients", h.ListPatients)
			r.Post("/broadcast", h.Broadcast)
			r.Get("/whatsapp/status", h.WhatsAppStatus)
			r.Get("/whatsapp/qr", h.WhatsAppQR)
		})
	})

	return r
}

// NewServer builds the HTTP server with the configured timeouts.
func NewServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
