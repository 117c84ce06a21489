package mail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/resend/resend-go"
)

// ResendSettings configure the Resend HTTP API transport.
type ResendSettings struct {
	APIKey  string
	From    string
	Timeout time.Duration
}

const defaultResendTimeout = 30 * time.Second

type resendMailer struct {
	from string
	send func(params *resend.SendEmailRequest) error
}

// NewResendMailer returns a Mailer that delivers through the Resend API.
func NewResendMailer(cfg ResendSettings) (Mailer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("resend: api key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultResendTimeout
	}
	client := resend.NewCustomClient(&http.Client{Timeout: timeout}, cfg.APIKey)
	return &resendMailer{
		from: strings.TrimSpace(cfg.From),
		send: func(params *resend.SendEmailRequest) error {
			_, err := client.Emails.Send(params)
			return err
		},
	}, nil
}

func (m *resendMailer) Send(ctx context.Context, msg Message) error {
	from, recipients, err := envelope(msg, m.from)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &resend.SendEmailRequest{
		From:    from,
		To:      recipients,
		Subject: escapeHeader(msg.Subject),
		Text:    msg.Body,
		Html:    msg.HTMLBody,
	}

	// The API client has no context support; its HTTP timeout bounds the abandoned call.
	done := make(chan error, 1)
	go func() {
		done <- m.send(params)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("resend: send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("resend: send: %w", ctx.Err())
	}
}
