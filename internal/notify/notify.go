// Package notify sends the owner an email when a contact has been analysed.
package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"

	"example.com/backstage/contacts/config"
	"example.com/backstage/contacts/internal/models"

	"github.com/pkg/errors"
	"github.com/resendlabs/resend-go"
	"github.com/rs/zerolog/log"
)

// Dispatcher delivers contact notifications
type Dispatcher interface {
	NotifyUrgent(ctx context.Context, email, name, message string) error
	NotifyStandard(ctx context.Context, contact *models.Contact) error
}

// New returns a Resend-backed dispatcher, or a log-only one when no API key
// or owner address is configured.
func New(cfg config.NotifyConfig) Dispatcher {
	if cfg.ResendAPIKey == "" || cfg.OwnerEmail == "" {
		log.Warn().Msg("Resend API key or owner email not configured, notifications will only be logged")
		return LogNotifier{}
	}
	return NewResendNotifier(cfg)
}

// ResendNotifier sends notifications through the Resend API
type ResendNotifier struct {
	client    *resend.Client
	fromEmail string
	fromName  string
	toEmail   string
}

// NewResendNotifier creates a new Resend client
func NewResendNotifier(cfg config.NotifyConfig) *ResendNotifier {
	return &ResendNotifier{
		client:    resend.NewClient(cfg.ResendAPIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		toEmail:   cfg.OwnerEmail,
	}
}

// NotifyUrgent emails the owner about a high-priority contact
func (n *ResendNotifier) NotifyUrgent(ctx context.Context, email, name, message string) error {
	subject := "🚨 URGENT: New High-Priority Contact from " + name
	return n.send(ctx, subject, emailBody(name, email, message, models.PriorityUrgent))
}

// NotifyStandard emails the owner about any other contact
func (n *ResendNotifier) NotifyStandard(ctx context.Context, contact *models.Contact) error {
	subject := "New Portfolio Contact: " + contact.Name
	return n.send(ctx, subject, emailBody(contact.Name, contact.Email, contact.Message, contact.Priority))
}

// send posts to the emails endpoint directly because Emails.Send takes no
// context; the request is bound to ctx so shutdown aborts it.
func (n *ResendNotifier) send(ctx context.Context, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", n.fromName, n.fromEmail),
		To:      []string{n.toEmail},
		Subject: subject,
		Html:    body,
	}

	req, err := n.client.NewRequest(http.MethodPost, "emails", params)
	if err != nil {
		return errors.Wrap(err, "failed to build Resend request")
	}

	var sent resend.SendEmailResponse
	if _, err := n.client.Perform(req.WithContext(ctx), &sent); err != nil {
		return errors.Wrap(err, "failed to send notification via Resend")
	}
	log.Info().Str("email_id", sent.Id).Str("subject", subject).Msg("Notification sent")
	return nil
}

// LogNotifier writes notifications to the log instead of sending them
type LogNotifier struct{}

func (LogNotifier) NotifyUrgent(ctx context.Context, email, name, message string) error {
	log.Info().
		Str("name", name).
		Str("email", email).
		Int("message_length", len(message)).
		Msg("URGENT contact notification")
	return nil
}

func (LogNotifier) NotifyStandard(ctx context.Context, contact *models.Contact) error {
	log.Info().
		Str("contact_id", contact.ID).
		Str("name", contact.Name).
		Str("priority", string(contact.Priority)).
		Msg("Contact notification")
	return nil
}

func priorityColor(p models.Priority) string {
	switch p {
	case models.PriorityUrgent:
		return "#ff0000"
	case models.PriorityHigh:
		return "#ff9800"
	case models.PriorityMedium:
		return "#2196F3"
	case models.PriorityLow:
		return "#4CAF50"
	}
	return "#4CAF50"
}

func emailBody(name, email, message string, priority models.Priority) string {
	return fmt.Sprintf(`<html>
<body style="font-family: Arial, sans-serif;">
  <h2 style="color: #333;">New Contact from Portfolio</h2>
  <div style="background: #f5f5f5; padding: 20px; border-radius: 5px;">
    <p><strong>Name:</strong> %s</p>
    <p><strong>Email:</strong> %s</p>
    <p><strong>Priority:</strong> <span style="color: %s;">%s</span></p>
    <p><strong>Message:</strong></p>
    <div style="background: white; padding: 15px; border-left: 3px solid #4CAF50;">%s</div>
  </div>
</body>
</html>`,
		html.EscapeString(name),
		html.EscapeString(email),
		priorityColor(priority),
		priority,
		html.EscapeString(message),
	)
}
