package email

import (
	"context"
	"strings"

	"github.com/formrelay/go-formrelay-server/global"
	"github.com/go-kit/log/level"
)

// LogMailer only logs outgoing emails (development)
type LogMailer struct{}

func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

func (m *LogMailer) Send(ctx context.Context, msg *Message) error {
	level.Info(global.Logger).Log("msg", "email", "to", strings.Join(msg.To, ","), "cc", strings.Join(msg.CC, ","), "subject", msg.Subject, "text", msg.Text)
	return nil
}
