package mailer

import (
	"context"
	"errors"
)

// ErrNoRecipient is returned for an Email without a To address.
var ErrNoRecipient = errors.New("email has no recipient")

type Email struct {
	To      string
	Subject string
	Text    string
}

// Mailer sends plain-text email. A failed send is reported once and never
// retried.
type Mailer interface {
	SendEmail(ctx context.Context, e Email) error
}

// Discard drops every email. It backs the "none" transport.
type Discard struct{}

func (Discard) SendEmail(_ context.Context, e Email) error {
	if e.To == "" {
		return ErrNoRecipient
	}
	return nil
}
