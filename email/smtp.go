package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/formrelay/go-formrelay-server/global"
	"github.com/go-kit/log/level"
	"github.com/jhillyerd/enmime"
)

// used when the caller context carries no deadline
const defaultSmtpTimeout = 30 * time.Second

// SmtpMailer builds MIME messages with enmime and relays them through an SMTP server
type SmtpMailer struct {
	sender enmime.Sender
	from   string
	addr   string
	host   string
	auth   smtp.Auth
}

func NewSmtpMailer(conf global.SmtpConfig, from string) *SmtpMailer {
	var auth smtp.Auth
	if conf.Username != "" {
		auth = smtp.PlainAuth("", conf.Username, conf.Password, conf.Host)
	}
	return &SmtpMailer{
		from: from,
		addr: net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port)),
		host: conf.Host,
		auth: auth,
	}
}

// NewSmtpMailerWithSender is used with custom enmime senders
func NewSmtpMailerWithSender(sender enmime.Sender, from string) *SmtpMailer {
	return &SmtpMailer{sender: sender, from: from}
}

func (m *SmtpMailer) Send(ctx context.Context, msg *Message) error {
	from := msg.From
	if from == "" {
		from = m.from
	}
	builder := enmime.Builder().
		From("", from).
		Subject(msg.Subject).
		Text([]byte(msg.Text))
	if msg.HTML != "" {
		builder = builder.HTML([]byte(msg.HTML))
	}
	for _, to := range msg.To {
		builder = builder.To("", to)
	}
	for _, cc := range msg.CC {
		builder = builder.CC("", cc)
	}
	if msg.ReplyTo != "" {
		builder = builder.ReplyTo("", msg.ReplyTo)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	sender := m.sender
	if sender == nil {
		sender = &contextSender{ctx: ctx, addr: m.addr, host: m.host, auth: m.auth}
	}
	if err := builder.Send(sender); err != nil {
		level.Error(global.Logger).Log("msg", "smtp send failed", "err", err)
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

// contextSender is an enmime.Sender whose whole SMTP conversation is bound to ctx
type contextSender struct {
	ctx  context.Context
	addr string
	host string
	auth smtp.Auth
}

func (s *contextSender) Send(reversePath string, recipients []string, msg []byte) error {
	deadline, ok := s.ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultSmtpTimeout)
	}
	dialer := &net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(s.ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return err
	}
	// cancellation unblocks any pending read or write
	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return err
		}
	}
	if s.auth != nil {
		if err := c.Auth(s.auth); err != nil {
			return err
		}
	}
	if err := c.Mail(reversePath); err != nil {
		return err
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
