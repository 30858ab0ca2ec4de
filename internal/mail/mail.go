// Package mail sends restock notification emails.
package mail

import (
	"context"
	"errors"
	"time"
)

// ErrCircuitOpen is returned by Guarded while the transport's circuit is open.
var ErrCircuitOpen = errors.New("mail transport circuit open")

// Message is one rendered notification.
type Message struct {
	Shop    string
	To      string
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
}

// SendResult is what the transport reports for an accepted message.
type SendResult struct {
	MessageID string
	SentAt    time.Time
}

// Mailer is the outbound mail capability. Any error means the message was not
// accepted; callers do not distinguish causes.
type Mailer interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, msg Message) (SendResult, error)

func (f MailerFunc) Send(ctx context.Context, msg Message) (SendResult, error) {
	return f(ctx, msg)
}
