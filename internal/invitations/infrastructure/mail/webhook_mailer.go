package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	invitations "condo-water/internal/invitations/domain"
)

const defaultSubject = "You have been invited to manage your condo water billing"

// webhookMessage is the single JSON request posted per invitation.
type webhookMessage struct {
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	InviteURL string `json:"invite_url"`
	Role      string `json:"role"`
	ExpiresAt string `json:"expires_at"`
}

// WebhookMailer posts invitation mails to an HTTP mail relay.
type WebhookMailer struct {
	client  *resty.Client
	subject string
	logger  *zap.Logger
}

// WebhookOption configures the mailer.
type WebhookOption func(*WebhookMailer)

// WithSubject overrides the mail subject.
func WithSubject(subject string) WebhookOption {
	return func(m *WebhookMailer) {
		if subject != "" {
			m.subject = subject
		}
	}
}

// WithRetries overrides the retry count of the relay client.
func WithRetries(count int) WebhookOption {
	return func(m *WebhookMailer) {
		if count >= 0 {
			m.client.SetRetryCount(count)
		}
	}
}

// NewWebhookMailer constructs a mailer posting to url.
func NewWebhookMailer(url string, logger *zap.Logger, opts ...WebhookOption) (*WebhookMailer, error) {
	if url == "" {
		return nil, errors.New("webhook mailer: empty url")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(url).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	m := &WebhookMailer{client: client, subject: defaultSubject, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SendInvitation posts one message for m.
func (w *WebhookMailer) SendInvitation(ctx context.Context, m invitations.Mail) error {
	msg := webhookMessage{
		To:        m.To,
		Subject:   w.subject,
		Body:      body(m),
		InviteURL: m.InviteURL,
		Role:      string(m.Role),
		ExpiresAt: m.ExpiresAt.UTC().Format(time.RFC3339),
	}
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(msg).
		Post("")
	if err != nil {
		w.logger.Error("mail relay call failed", zap.Error(err))
		return fmt.Errorf("%w: %v", invitations.ErrMailFailure, err)
	}
	if resp.IsError() {
		w.logger.Error("mail relay returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return fmt.Errorf("%w: relay status %d", invitations.ErrMailFailure, resp.StatusCode())
	}
	return nil
}

func body(m invitations.Mail) string {
	return fmt.Sprintf("You were invited as %s. Register at %s before %s.",
		m.Role, m.InviteURL, m.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"))
}
