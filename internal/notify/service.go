package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/creatorhq/mentions-sync/internal/config"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Service delivers alerts via a JSON webhook and/or SMTP, whichever is
// configured. With neither configured SendAlert is a logged no-op.
type Service struct {
	config *config.Config
	client *resty.Client
}

// Ensure Service implements NotifierInterface
var _ NotifierInterface = (*Service)(nil)

// webhookMessage is the generic card posted to the webhook.
type webhookMessage struct {
	Title     string `json:"title"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// NewService creates a notification service
func NewService(cfg *config.Config) *Service {
	return &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
}

// SendAlert sends an alert via the configured channels.
func (s *Service) SendAlert(subject, body string) error {
	var errors []string

	if s.config.WebhookURL != "" {
		if err := s.sendToWebhook(subject, body); err != nil {
			logrus.Errorf("Failed to send webhook alert: %v", err)
			errors = append(errors, fmt.Sprintf("webhook: %v", err))
		}
	}

	if s.config.NotificationEmail != "" {
		if err := s.sendEmail(subject, body); err != nil {
			logrus.Errorf("Failed to send email alert: %v", err)
			errors = append(errors, fmt.Sprintf("email: %v", err))
		}
	}

	if s.config.WebhookURL == "" && s.config.NotificationEmail == "" {
		logrus.Debugf("No notification channel configured, dropping alert %q", subject)
	}

	if len(errors) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (s *Service) sendToWebhook(subject, body string) error {
	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(&webhookMessage{
			Title:     subject,
			Text:      body,
			Timestamp: time.Now().Format(time.RFC3339),
		}).
		Post(s.config.WebhookURL)

	if err != nil {
		return fmt.Errorf("failed to post webhook message: %w", err)
	}

	if resp.StatusCode() >= 300 {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	return nil
}

func (s *Service) sendEmail(subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(s.config.SMTPHost, s.config.SMTPPort, s.config.SMTPUsername, s.config.SMTPPassword)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}
