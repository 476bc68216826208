package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"github.com/umbrellaops/umbrella/internal/domain"
)

func alertSummary(alert domain.Alert) string {
	name := alert.Project
	if name == "" {
		name = alert.ProjectID
	}
	msg := fmt.Sprintf("Project %s is %s", name, alert.Status)
	if alert.Error != "" {
		msg += ": " + alert.Error
	}
	return msg
}

// WebhookSender posts JSON payloads to channel-specific endpoints. It covers
// the slack, discord, telegram and generic webhook channel types.
type WebhookSender struct {
	client *http.Client
}

// NewWebhookSender builds a sender with a bounded request timeout.
func NewWebhookSender(timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSender) Send(ctx context.Context, channel domain.NotificationChannel, alert domain.Alert) error {
	endpoint, payload, err := s.request(channel, alert)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *WebhookSender) request(channel domain.NotificationChannel, alert domain.Alert) (string, any, error) {
	summary := alertSummary(alert)
	switch channel.Type {
	case domain.ChannelSlack:
		endpoint := channel.Config["webhook_url"]
		if endpoint == "" {
			return "", nil, fmt.Errorf("slack channel missing webhook_url")
		}
		return endpoint, map[string]string{"text": summary}, nil
	case domain.ChannelDiscord:
		endpoint := channel.Config["webhook_url"]
		if endpoint == "" {
			return "", nil, fmt.Errorf("discord channel missing webhook_url")
		}
		return endpoint, map[string]string{"content": summary}, nil
	case domain.ChannelTelegram:
		token := channel.Config["bot_token"]
		chatID := channel.Config["chat_id"]
		if token == "" || chatID == "" {
			return "", nil, fmt.Errorf("telegram channel missing bot_token or chat_id")
		}
		endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", url.PathEscape(token))
		return endpoint, map[string]string{"chat_id": chatID, "text": summary}, nil
	case domain.ChannelWebhook:
		endpoint := channel.Config["url"]
		if endpoint == "" {
			return "", nil, fmt.Errorf("webhook channel missing url")
		}
		return endpoint, alert, nil
	default:
		return "", nil, fmt.Errorf("unsupported channel type %q", channel.Type)
	}
}

// EmailSender delivers alerts over SMTP.
type EmailSender struct {
	addr string
	from string
}

// NewEmailSender builds a sender against the configured SMTP relay.
func NewEmailSender(addr, from string) *EmailSender {
	return &EmailSender{addr: addr, from: from}
}

func (s *EmailSender) Send(_ context.Context, channel domain.NotificationChannel, alert domain.Alert) error {
	if s.addr == "" {
		return fmt.Errorf("smtp relay not configured")
	}
	to := channel.Config["address"]
	if to == "" {
		return fmt.Errorf("email channel missing address")
	}
	subject := fmt.Sprintf("[umbrella] %s health alert", alert.Project)
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("\r\n")
	msg.WriteString(alertSummary(alert))
	fmt.Fprintf(&msg, "\r\nTriggered at %s\r\n", alert.TriggeredAt.UTC().Format(time.RFC3339))
	return smtp.SendMail(s.addr, nil, s.from, []string{to}, []byte(msg.String()))
}
