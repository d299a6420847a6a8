package billing

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"

	"go.uber.org/zap"

	"github.com/casebridge/server/internal/shared/config"
)

// NotificationEvent identifies a billing notification kind.
type NotificationEvent string

const (
	NotifySubscriptionCreated  NotificationEvent = "subscription_created"
	NotifySubscriptionCanceled NotificationEvent = "subscription_canceled"
	NotifyPaymentSucceeded     NotificationEvent = "payment_succeeded"
	NotifyPaymentFailed        NotificationEvent = "payment_failed"
)

// Notifier delivers billing notifications to the tenant. Implementations
// are invoked fire-and-forget: failures are logged by the caller, never
// surfaced to the webhook response.
type Notifier interface {
	Notify(ctx context.Context, cust *Customer, event NotificationEvent, details map[string]string) error
}

// SMTPNotifier sends billing notification emails via SMTP.
type SMTPNotifier struct {
	config *config.SMTPConfig
	logger *zap.Logger
}

// NewSMTPNotifier creates a new SMTP notifier.
func NewSMTPNotifier(cfg *config.SMTPConfig, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{
		config: cfg,
		logger: logger,
	}
}

var notificationSubjects = map[NotificationEvent]string{
	NotifySubscriptionCreated:  "Your subscription is active",
	NotifySubscriptionCanceled: "Your subscription has been canceled",
	NotifyPaymentSucceeded:     "Payment received",
	NotifyPaymentFailed:        "Payment failed: action required",
}

const notificationEmailTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1a1a2e;">
  <h2>{{.Subject}}</h2>
  <p>Hi {{.Name}},</p>
  <p>{{.Body}}</p>
  {{if .Detail}}<p style="color: #555;">{{.Detail}}</p>{{end}}
  <p>The CaseBridge team</p>
</body>
</html>`

var notificationBodies = map[NotificationEvent]string{
	NotifySubscriptionCreated:  "Your subscription is now active. All plan features are unlocked.",
	NotifySubscriptionCanceled: "Your subscription has been canceled. Your account drops back to the free plan at the end of the current period.",
	NotifyPaymentSucceeded:     "We received your payment. Thanks for staying with us.",
	NotifyPaymentFailed:        "Your latest payment did not go through. Please update your payment method to keep your plan active.",
}

// Notify renders and sends the notification email for the event.
func (n *SMTPNotifier) Notify(ctx context.Context, cust *Customer, event NotificationEvent, details map[string]string) error {
	subject, ok := notificationSubjects[event]
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}

	name := cust.Name
	if name == "" {
		name = "there"
	}

	tmpl, err := template.New("notification").Parse(notificationEmailTemplate)
	if err != nil {
		return fmt.Errorf("parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]string{
		"Subject": subject,
		"Name":    name,
		"Body":    notificationBodies[event],
		"Detail":  details["detail"],
	}); err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	return n.send(cust.Email, subject, buf.String())
}

func (n *SMTPNotifier) send(to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%d", n.config.Host, n.config.Port)
	from := fmt.Sprintf("%s <%s>", n.config.FromName, n.config.FromAddress)

	msg := []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		from, to, subject, htmlBody,
	))

	auth := smtp.PlainAuth("", n.config.User, n.config.Password, n.config.Host)
	if err := smtp.SendMail(addr, auth, n.config.FromAddress, []string{to}, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// LogNotifier logs notifications instead of delivering them. Used when SMTP
// is not configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the notification.
func (n *LogNotifier) Notify(ctx context.Context, cust *Customer, event NotificationEvent, details map[string]string) error {
	n.logger.Info("billing notification",
		zap.String("tenant_id", cust.TenantID.String()),
		zap.String("event", string(event)),
		zap.Any("details", details),
	)
	return nil
}

// Compile-time checks
var (
	_ Notifier = (*SMTPNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
