// Package notify holds the outbound notification collaborators. Delivery
// mechanics live here; everything upstream only sees the narrow sender
// interfaces and treats failures as best-effort.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// SMSSender delivers one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, text string) error
}

// HTTPSMS posts messages to a JSON SMS provider API.
type HTTPSMS struct {
	Endpoint string
	APIKey   string
	SenderID string
	Client   *http.Client
}

func NewHTTPSMS(endpoint, apiKey, senderID string) *HTTPSMS {
	return &HTTPSMS{
		Endpoint: endpoint,
		APIKey:   apiKey,
		SenderID: senderID,
		Client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPSMS) SendSMS(ctx context.Context, phone, text string) error {
	body := map[string]string{
		"to":      phone,
		"message": text,
		"from":    s.SenderID,
	}
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	err := postJSON(ctx, s.Client, s.Endpoint, map[string]string{"api-key": s.APIKey}, body, &resp)
	if err != nil {
		return fmt.Errorf("sms provider: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("sms provider rejected message: %s", resp.Message)
	}
	return nil
}

// NoopSMS is used when no SMS provider is configured.
type NoopSMS struct{}

func (NoopSMS) SendSMS(_ context.Context, phone, _ string) error {
	return fmt.Errorf("sms sending not configured (to %s)", phone)
}
