package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/robotdesk/pkg/mail"
)

// Supported values for email.provider.
const (
	EmailProviderNone   = "none"
	EmailProviderSMTP   = "smtp"
	EmailProviderResend = "resend"
)

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.provider() == EmailProviderSMTP,
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.From,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// ResendSettings converts EmailConfig to the Resend transport settings.
func (c EmailConfig) ResendSettings() mail.ResendSettings {
	return mail.ResendSettings{
		APIKey:  c.Resend.APIKey,
		From:    c.From,
		Timeout: c.Timeout,
	}
}

// MailerFromConfig builds the transport selected by email.provider. The "none" provider returns
// a mailer that reports every delivery as disabled.
func MailerFromConfig(c EmailConfig) (mail.Mailer, error) {
	switch provider := c.provider(); provider {
	case EmailProviderNone:
		return mail.NewDisabledMailer(), nil
	case EmailProviderSMTP:
		return mail.NewSMTPMailer(c.SMTPSettings())
	case EmailProviderResend:
		return mail.NewResendMailer(c.ResendSettings())
	default:
		return nil, fmt.Errorf("email: unsupported provider %q", provider)
	}
}

func (c EmailConfig) provider() string {
	provider := strings.ToLower(strings.TrimSpace(c.Provider))
	if provider == "" {
		return EmailProviderNone
	}
	return provider
}
