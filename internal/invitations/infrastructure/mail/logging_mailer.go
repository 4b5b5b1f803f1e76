package mail

import (
	"context"

	"go.uber.org/zap"

	invitations "condo-water/internal/invitations/domain"
)

// LoggingMailer logs invitation mails instead of sending them.
type LoggingMailer struct {
	logger *zap.Logger
}

// NewLoggingMailer constructs a logging mailer.
func NewLoggingMailer(logger *zap.Logger) *LoggingMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingMailer{logger: logger}
}

// SendInvitation logs m.
func (l *LoggingMailer) SendInvitation(_ context.Context, m invitations.Mail) error {
	l.logger.Info("invitation mail",
		zap.String("to", m.To),
		zap.String("role", string(m.Role)),
		zap.String("invite_url", m.InviteURL),
		zap.Time("expires_at", m.ExpiresAt),
	)
	return nil
}
