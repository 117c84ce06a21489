package mail

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// ErrDeliveryDisabled signals that outbound email is switched off via configuration.
var ErrDeliveryDisabled = errors.New("mail: delivery disabled")

// Message represents an outbound email. HTMLBody is optional; Body is always sent as text/plain.
type Message struct {
	From     string
	To       []string
	Subject  string
	Body     string
	HTMLBody string
}

// Mailer defines behaviour for sending email messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type disabledMailer struct{}

// NewDisabledMailer returns a Mailer that rejects every message with ErrDeliveryDisabled.
func NewDisabledMailer() Mailer {
	return disabledMailer{}
}

func (disabledMailer) Send(context.Context, Message) error {
	return ErrDeliveryDisabled
}

// envelope resolves and validates sender and recipients shared by every transport.
func envelope(msg Message, defaultFrom string) (string, []string, error) {
	recipients := uniqueAddresses(msg.To)
	if len(recipients) == 0 {
		return "", nil, errors.New("mail: at least one recipient is required")
	}

	from := strings.TrimSpace(msg.From)
	if from == "" {
		from = defaultFrom
	}
	if from == "" {
		return "", nil, errors.New("mail: sender address is required")
	}

	if _, err := mail.ParseAddress(from); err != nil {
		return "", nil, fmt.Errorf("mail: invalid from address: %w", err)
	}

	for _, rcpt := range recipients {
		if _, err := mail.ParseAddress(rcpt); err != nil {
			return "", nil, fmt.Errorf("mail: invalid recipient address %q: %w", rcpt, err)
		}
	}

	return from, recipients, nil
}

func uniqueAddresses(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	var result []string
	for _, addr := range addresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, exists := seen[addr]; exists {
			continue
		}
		seen[addr] = struct{}{}
		result = append(result, addr)
	}
	return result
}
