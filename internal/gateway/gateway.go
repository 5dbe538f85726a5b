package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/saudebot/exam-reminders/pkg/logger"
)

// Gateway delivers outbound text to an identifier. Delivery semantics are the
// transport's concern; callers only get at-least-attempt behavior and must
// tolerate failures without corrupting their own state.
type Gateway interface {
	Send(ctx context.Context, to, text string) error
}

// Inbound is the event the transport posts to the webhook.
type Inbound struct {
	From string `json:"from"`
	Body string `json:"body"`
}

// Bridge talks to a WhatsApp bridge sidecar over HTTP: outbound sends as
// {"phone","message"} posts, plus login-status and QR-code passthrough for
// the pairing flow.
type Bridge struct {
	baseURL string
	client  *http.Client
}

func NewBridge(baseURL string, timeout time.Duration) *Bridge {
	return &Bridge{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func (b *Bridge) Send(ctx context.Context, to, text string) error {
	payload, err := json.Marshal(sendRequest{Phone: to, Message: text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/send/message", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge send to %s: %w", to, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("bridge send to %s: status=%d body=%s", to, res.StatusCode, bytes.TrimSpace(body))
	}

	logger.DebugContext(ctx, "message sent", "to", to)
	return nil
}

// LoggedIn reports whether the bridge has a paired device.
func (b *Bridge) LoggedIn(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/app/devices", nil)
	if err != nil {
		return false, err
	}

	res, err := b.client.Do(req)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	var output struct {
		Results []struct {
			Name   string `json:"name"`
			Device string `json:"device"`
		} `json:"results"`
	}
	if err := json.NewDecoder(res.Body).Decode(&output); err != nil {
		return false, err
	}
	return len(output.Results) > 0, nil
}

// QRCode fetches the pairing QR image from the bridge login endpoint.
func (b *Bridge) QRCode(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/app/login", nil)
	if err != nil {
		return nil, err
	}

	res, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var output struct {
		Results struct {
			QRLink string `json:"qr_link"`
		} `json:"results"`
	}
	if err := json.NewDecoder(res.Body).Decode(&output); err != nil {
		return nil, err
	}
	if output.Results.QRLink == "" {
		return nil, fmt.Errorf("bridge returned no qr link")
	}

	qreq, err := http.NewRequestWithContext(ctx, http.MethodGet, output.Results.QRLink, nil)
	if err != nil {
		return nil, err
	}
	qres, err := b.client.Do(qreq)
	if err != nil {
		return nil, err
	}
	defer qres.Body.Close()

	return io.ReadAll(qres.Body)
}
