package email

import "context"

// Message is a provider independent outgoing email
type Message struct {
	From    string
	To      []string
	CC      []string
	ReplyTo string
	Subject string
	HTML    string
	Text    string
}

// Mailer sends an email through a provider
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}
