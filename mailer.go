package accounts

import "context"

// MailTemplate selects the notification content rendered by the delivery
// collaborator; this core never builds message bodies itself.
type MailTemplate string

const (
	MailAccountVerification MailTemplate = "account_verification"
	MailPasswordReset       MailTemplate = "password_reset"
	MailDeletionScheduled   MailTemplate = "deletion_scheduled"
	MailAccountRecovered    MailTemplate = "account_recovered"
)

// Mailer delivers notifications out-of-band. Delivery is fire-and-forget: a
// failure after a successful token/state write is logged, never rolled back,
// and never surfaced to the caller.
type Mailer interface {
	Send(ctx context.Context, address string, template MailTemplate, payload map[string]any) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, address string, template MailTemplate, payload map[string]any) error

// Send implements Mailer.
func (f MailerFunc) Send(ctx context.Context, address string, template MailTemplate, payload map[string]any) error {
	if f == nil {
		return nil
	}
	return f(ctx, address, template, payload)
}

type logMailer struct {
	logger Logger
}

func (m logMailer) Send(_ context.Context, address string, template MailTemplate, payload map[string]any) error {
	logger := m.logger
	if logger == nil {
		logger = defLogger{}
	}
	logger.Info("mail notification", "to", address, "template", string(template), "payload", payload)
	return nil
}

func normalizeMailer(m Mailer, logger Logger) Mailer {
	if m == nil {
		return logMailer{logger: logger}
	}
	return m
}
