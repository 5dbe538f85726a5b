package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/saudebot/exam-reminders/internal/dispatch"
	"github.com/saudebot/exam-reminders/internal/domain"
	"github.com/saudebot/exam-reminders/internal/engine"
	"github.com/saudebot/exam-reminders/internal/gateway"
	"github.com/saudebot/exam-reminders/internal/http/response"
	"github.com/saudebot/exam-reminders/internal/store"
	"github.com/saudebot/exam-reminders/pkg/auth"
	"github.com/saudebot/exam-reminders/pkg/config"
	"github.com/saudebot/exam-reminders/pkg/logger"
)

type Handlers struct {
	engine     *engine.Engine
	store      store.PatientStore
	dispatcher *dispatch.Dispatcher
	bridge     *gateway.Bridge
	cfg        *config.Config
}

func NewHandlers(
	eng *engine.Engine,
	st store.PatientStore,
	dispatcher *dispatch.Dispatcher,
	bridge *gateway.Bridge,
	cfg *config.Config,
) *Handlers {
	return &Handlers{
		engine:     eng,
		store:      st,
		dispatcher: dispatcher,
		bridge:     bridge,
		cfg:        cfg,
	}
}

// InboundMessage handles transport webhooks. The message is queued on the
// sender's dispatch lane and answered 202 immediately; the conversation
// itself runs detached from the webhook request.
func (h *Handlers) InboundMessage(w http.ResponseWriter, r *http.Request) {
	var in gateway.Inbound
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "invalid payload")
		return
	}
	if strings.TrimSpace(in.From) == "" {
		response.BadRequest(w, "missing sender identifier")
		return
	}

	from, body := in.From, in.Body
	h.dispatcher.Do(from, func() {
		h.engine.HandleMessage(context.Background(), from, body)
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}

// RequireJWT guards the admin API.
func (h *Handlers) RequireJWT(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				response.Unauthorized(w, "missing or invalid authorization header")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := auth.Parse(token, h.cfg.Auth.JWTSecret)
			if err != nil {
				response.Unauthorized(w, "invalid token")
				return
			}

			if requiredRole != "" && claims.Role != requiredRole && claims.Role != "admin" {
				response.Forbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AdminToken exchanges the configured API key for a short-lived admin JWT.
func (h *Handlers) AdminToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid payload")
		return
	}
	if h.cfg.Admin.APIKey == "" || req.APIKey != h.cfg.Admin.APIKey {
		response.Unauthorized(w, "invalid api key")
		return
	}

	token, err := auth.NewAccessToken("admin", "admin", "bot:admin",
		h.cfg.Auth.JWTSecret, h.cfg.Auth.AdminTokenTTL)
	if err != nil {
		response.InternalError(w, "token generation failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

type patientDTO struct {
	Identifier    string                    `json:"identifier"`
	Name          string                    `json:"name"`
	Age           int                       `json:"age"`
	Email         string                    `json:"email"`
	Phone         string                    `json:"phone"`
	ExamDate      string                    `json:"exam_date"`
	Confirmation  domain.ConfirmationStatus `json:"confirmation_status"`
	SevenDaySent  bool                      `json:"seven_day_sent"`
	TwoDaySent    bool                      `json:"two_day_sent"`
	FeedbackSent  bool                      `json:"feedback_sent"`
	FeedbackScore *int                      `json:"feedback_score,omitempty"`
}

// ListPatients returns every registered patient.
func (h *Handlers) ListPatients(w http.ResponseWriter, r *http.Request) {
	all := h.store.All()
	out := make([]patientDTO, 0, len(all))
	for id, p := range all {
		out = append(out, patientDTO{
			Identifier:    id,
			Name:          p.Name,
			Age:           p.Age,
			Email:         p.Email,
			Phone:         p.Phone,
			ExamDate:      p.ExamDate,
			Confirmation:  p.Confirmation,
			SevenDaySent:  p.Notifications.SevenDaySent,
			TwoDaySent:    p.Notifications.TwoDaySent,
			FeedbackSent:  p.FeedbackSent,
			FeedbackScore: p.FeedbackScore,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"patients": out,
		"count":    len(out),
	})
}

// Broadcast sends a message to every registered patient. The response
// reports overall counts, not per-recipient outcomes.
func (h *Handlers) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid payload")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		response.BadRequest(w, "message is required")
		return
	}

	sent, failed := h.engine.Broadcast(r.Context(), req.Message)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"sent": sent, "failed": failed})
}

// WhatsAppStatus reports whether the bridge has a paired device.
func (h *Handlers) WhatsAppStatus(w http.ResponseWriter, r *http.Request) {
	loggedIn, err := h.bridge.LoggedIn(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "bridge status check failed", "error", err)
		response.InternalError(w, "bridge unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"logged_in": loggedIn})
}

// WhatsAppQR streams the pairing QR code image from the bridge.
func (h *Handlers) WhatsAppQR(w http.ResponseWriter, r *http.Request) {
	qr, err := h.bridge.QRCode(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "qr fetch failed", "error", err)
		response.InternalError(w, "bridge unavailable")
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=qr.png")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(qr)
}
