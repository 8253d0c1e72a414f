package services

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/resend/resend-go/v2"

	"github.com/HammerMeetNail/friendlane/internal/logging"
)

type EmailSender interface {
	SendNotificationEmail(ctx context.Context, toEmail, subject, html, text string) error
}

// resendEmails is the slice of the Resend SDK the sender uses.
type resendEmails interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

type ResendEmailSender struct {
	emails resendEmails
	from   string
}

func NewResendEmailSender(apiKey, fromAddress, fromName string) *ResendEmailSender {
	client := resend.NewClient(apiKey)
	return &ResendEmailSender{
		emails: client.Emails,
		from:   formatFrom(fromAddress, fromName),
	}
}

func (s *ResendEmailSender) SendNotificationEmail(ctx context.Context, toEmail, subject, html, text string) error {
	_, err := s.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{toEmail},
		Subject: subject,
		Html:    html,
		Text:    text,
	})
	if err != nil {
		return fmt.Errorf("sending email via resend: %w", err)
	}
	return nil
}

// ConsoleEmailSender logs emails instead of sending them. Used in development.
type ConsoleEmailSender struct {
	logger *logging.Logger
}

func NewConsoleEmailSender(logger *logging.Logger) *ConsoleEmailSender {
	if logger == nil {
		logger = logging.Default
	}
	return &ConsoleEmailSender{logger: logger}
}

func (s *ConsoleEmailSender) SendNotificationEmail(ctx context.Context, toEmail, subject, html, text string) error {
	s.logger.Info("Email (console)", map[string]interface{}{
		"to":      toEmail,
		"subject": subject,
		"text":    text,
	})
	return nil
}

func formatFrom(address, name string) string {
	if strings.TrimSpace(name) == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", name, address)
}

func templateEscape(s string) string {
	return template.HTMLEscapeString(s)
}
