package email

import (
	"context"
	"fmt"
	"net/http"

	"github.com/formrelay/go-formrelay-server/global"
	"github.com/go-kit/log/level"
	"github.com/mailgun/mailgun-go/v4"
)

// MailgunMailer sends email with the Mailgun HTTP API
type MailgunMailer struct {
	mg   *mailgun.MailgunImpl
	from string
}

func NewMailgunMailer(conf global.MailgunConfig, from string) *MailgunMailer {
	mg := mailgun.NewMailgun(conf.Domain, conf.ApiKey)
	if conf.ApiBase != "" {
		mg.SetAPIBase(conf.ApiBase)
	}
	return &MailgunMailer{mg: mg, from: from}
}

// SetClient replaces the http client (tests attach mock transports)
func (m *MailgunMailer) SetClient(client *http.Client) {
	m.mg.SetClient(client)
}

func (m *MailgunMailer) Send(ctx context.Context, msg *Message) error {
	from := msg.From
	if from == "" {
		from = m.from
	}
	message := m.mg.NewMessage(from, msg.Subject, msg.Text, msg.To...)
	if msg.HTML != "" {
		message.SetHtml(msg.HTML)
	}
	for _, cc := range msg.CC {
		message.AddCC(cc)
	}
	if msg.ReplyTo != "" {
		message.AddHeader("Reply-To", msg.ReplyTo)
	}
	_, id, err := m.mg.Send(ctx, message)
	if err != nil {
		level.Error(global.Logger).Log("msg", "mailgun send failed", "err", err)
		return fmt.Errorf("mailgun send failed: %w", err)
	}
	level.Debug(global.Logger).Log("msg", "mailgun message queued", "id", id)
	return nil
}
