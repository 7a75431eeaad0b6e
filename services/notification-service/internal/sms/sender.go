package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/fieldbook/services/notification-service/internal/templates"
)

// MaxLength is three concatenated GSM segments; longer texts are cut.
const MaxLength = 459

type WebhookSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSender(url string, token string) *WebhookSender {
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (s *WebhookSender) ProviderID() string {
	return "sms-webhook"
}

// Send posts the short form of m, falling back to its subject.
func (s *WebhookSender) Send(ctx context.Context, to string, m templates.Message) error {
	if s.url == "" {
		return errors.New("sms webhook url not configured")
	}
	raw, err := json.Marshal(webhookPayload{To: to, Body: Text(m)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		if msg := strings.TrimSpace(string(detail)); msg != "" {
			return fmt.Errorf("sms webhook returned %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("sms webhook returned %d", resp.StatusCode)
	}
	return nil
}

type webhookPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Text is the body a text message carries for m.
func Text(m templates.Message) string {
	text := strings.TrimSpace(m.SMS)
	if text == "" {
		text = strings.TrimSpace(m.Subject)
	}
	runes := []rune(text)
	if len(runes) > MaxLength {
		text = string(runes[:MaxLength-3]) + "..."
	}
	return text
}

// NoopSender accepts every message without sending it.
type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) ProviderID() string {
	return "sms-noop"
}

func (s *NoopSender) Send(context.Context, string, templates.Message) error {
	return nil
}
