package notifications

import "context"

type Kind string

const (
	KindWelcome       Kind = "welcome"
	KindPasswordReset Kind = "password_reset"
)

// Message is one outbound email. HTML is optional; Text is always sent.
type Message struct {
	Kind    Kind
	To      string
	Subject string
	Text    string
	HTML    string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
