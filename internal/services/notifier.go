package services

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/robotdesk/internal/models"
	"github.com/charlesng35/robotdesk/pkg/logger"
	"github.com/charlesng35/robotdesk/pkg/mail"
	"github.com/charlesng35/robotdesk/pkg/metrics"
)

// DefaultDeliveryTimeout bounds a single email delivery attempt.
const DefaultDeliveryTimeout = 30 * time.Second

// Notifier delivers verification emails. Both calls are best-effort and report delivery as a flag.
// expirationMinutes is the window of the record holding token.
type Notifier interface {
	SendVerificationLink(ctx context.Context, user *models.User, token, baseURL string, expirationMinutes int) bool
	SendVerifiedConfirmation(ctx context.Context, user *models.User) bool
}

// MailNotifier renders verification emails and hands them to a mail.Mailer.
type MailNotifier struct {
	mailer  mail.Mailer
	from    string
	product string
	timeout time.Duration
	log     *zap.Logger
}

// NewMailNotifier constructs a Notifier. A nil mailer disables delivery. Each delivery is
// abandoned after timeout (DefaultDeliveryTimeout when zero).
func NewMailNotifier(mailer mail.Mailer, from string, timeout time.Duration) *MailNotifier {
	if mailer == nil {
		mailer = mail.NewDisabledMailer()
	}
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	return &MailNotifier{
		mailer:  mailer,
		from:    strings.TrimSpace(from),
		product: "Robot Delivery Control",
		timeout: timeout,
		log:     logger.WithModule("notifier"),
	}
}

var (
	verificationHTML = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <h2>Welcome, {{.Name}}!</h2>
  <p>Thanks for signing up for {{.Product}}. Please confirm your email address by clicking the button below.</p>
  <p><a href="{{.Link}}" style="display: inline-block; padding: 12px 30px; background-color: #667eea; color: white; text-decoration: none; border-radius: 5px;">Verify email</a></p>
  <p>Or copy this link into your browser:<br>{{.Link}}</p>
  <p>This link expires in {{.Minutes}} minutes.</p>
  <p style="color: #666; font-size: 12px;">If you did not create this account, you can safely ignore this email.</p>
</body>
</html>`))

	confirmationHTML = template.Must(template.New("verified").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <h2>Your account is verified</h2>
  <p>Hi {{.Name}}, your email address has been confirmed. You now have full access to {{.Product}}.</p>
  <p style="color: #666; font-size: 12px;">This is an automated message, please do not reply.</p>
</body>
</html>`))
)

type emailView struct {
	Name    string
	Product string
	Link    string
	Minutes int
}

// VerificationLink builds the frontend link carrying token.
func VerificationLink(baseURL, token string) string {
	return fmt.Sprintf("%s/verify-email?token=%s", strings.TrimRight(baseURL, "/"), token)
}

// SendVerificationLink emails the verification link for token.
func (n *MailNotifier) SendVerificationLink(ctx context.Context, user *models.User, token, baseURL string, expirationMinutes int) bool {
	if expirationMinutes <= 0 {
		expirationMinutes = models.DefaultExpirationMinutes
	}
	link := VerificationLink(baseURL, token)
	view := emailView{
		Name:    user.DisplayName(),
		Product: n.product,
		Link:    link,
		Minutes: expirationMinutes,
	}

	var html strings.Builder
	if err := verificationHTML.Execute(&html, view); err != nil {
		n.log.Warn("render verification email failed", zap.String("user_id", user.ID), zap.Error(err))
		return false
	}

	body := fmt.Sprintf("Welcome, %s!\n\nPlease confirm your email address by visiting the link below:\n%s\n\nThis link expires in %d minutes.\n\nIf you did not create this account, you can safely ignore this email.\n\n---\n%s\n",
		view.Name, link, view.Minutes, n.product)

	return n.deliver(ctx, "verification_link", user, mail.Message{
		From:     n.from,
		To:       []string{user.EmailAddress()},
		Subject:  "Verify your account - " + n.product,
		Body:     body,
		HTMLBody: html.String(),
	})
}

// SendVerifiedConfirmation emails a confirmation after a successful verification.
func (n *MailNotifier) SendVerifiedConfirmation(ctx context.Context, user *models.User) bool {
	view := emailView{Name: user.DisplayName(), Product: n.product}

	var html strings.Builder
	if err := confirmationHTML.Execute(&html, view); err != nil {
		n.log.Warn("render confirmation email failed", zap.String("user_id", user.ID), zap.Error(err))
		return false
	}

	body := fmt.Sprintf("Hi %s,\n\nYour email address has been confirmed. You now have full access to %s.\n\n---\nThis is an automated message, please do not reply.\n",
		view.Name, n.product)

	return n.deliver(ctx, "verified_confirmation", user, mail.Message{
		From:     n.from,
		To:       []string{user.EmailAddress()},
		Subject:  "Account verified - " + n.product,
		Body:     body,
		HTMLBody: html.String(),
	})
}

func (n *MailNotifier) deliver(ctx context.Context, kind string, user *models.User, msg mail.Message) bool {
	if user.EmailAddress() == "" {
		metrics.NotificationDeliveries.WithLabelValues(kind, "skipped").Inc()
		return false
	}

	if err := n.send(ctx, msg); err != nil {
		result := "failed"
		if errors.Is(err, mail.ErrDeliveryDisabled) {
			result = "disabled"
		}
		metrics.NotificationDeliveries.WithLabelValues(kind, result).Inc()
		n.log.Warn("email delivery failed",
			zap.String("kind", kind),
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		return false
	}

	metrics.NotificationDeliveries.WithLabelValues(kind, "sent").Inc()
	return true
}

// send hands msg to the mailer and gives up once the delivery timeout elapses, even when the
// transport ignores ctx.
func (n *MailNotifier) send(ctx context.Context, msg mail.Message) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- n.mailer.Send(ctx, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("mail delivery: %w", ctx.Err())
	}
}
