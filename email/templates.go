package email

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/formrelay/go-formrelay-server/types"
	"github.com/formrelay/go-formrelay-server/util"
	"github.com/jaytaylor/html2text"
)

type field struct {
	Name  string
	Value string
}

type notificationData struct {
	Subject     string
	Fields      []field
	SubmittedAt string
	ReplyTo     string
	Table       bool
}

var notificationTemplate = template.Must(template.New("notification").Parse(`<!DOCTYPE html>
<html><body>
<h2>{{.Subject}}</h2>
{{if .Table}}<table cellpadding="6">
{{range .Fields}}<tr><th align="left" valign="top">{{.Name}}</th><td>{{.Value}}</td></tr>
{{end}}</table>{{else}}{{range .Fields}}<p><strong>{{.Name}}</strong><br>{{.Value}}</p>
{{end}}{{end}}
<p><small>Submitted {{.SubmittedAt}}{{if .ReplyTo}}, reply to {{.ReplyTo}}{{end}}</small></p>
</body></html>`))

var verificationTemplate = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html><body>
<h2>Confirm your email to receive form submissions</h2>
<p>Someone submitted a form addressed to {{.Email}}. To start receiving submissions, confirm your address:</p>
<p><a href="{{.Link}}">Confirm email</a></p>
<p>This link expires in 24 hours. If you didn't expect this, ignore this email.</p>
</body></html>`))

var autoResponseTemplate = template.Must(template.New("autoresponse").Parse(`<!DOCTYPE html>
<html><body>
<p>{{.Message}}</p>
</body></html>`))

// RenderNotification renders the notification email sent to the recipient of a verified form
func RenderNotification(form *types.RecipientForm, sub *types.Submission) (*Message, error) {
	subject := sub.Special.Subject
	if subject == "" {
		subject = form.Settings.Subject
	}
	if subject == "" {
		subject = "New form submission"
	}
	tmpl := sub.Special.Template
	if tmpl == "" {
		tmpl = form.Settings.Template
	}

	data := notificationData{
		Subject:     subject,
		SubmittedAt: time.UnixMilli(sub.Created).UTC().Format(time.RFC1123),
		ReplyTo:     replyTo(sub),
		Table:       tmpl == "table",
	}
	for _, k := range sub.Fields.Keys() {
		for _, v := range sub.Fields.Values(k) {
			data.Fields = append(data.Fields, field{Name: k, Value: v})
		}
	}

	html, err := execute(notificationTemplate, data)
	if err != nil {
		return nil, err
	}
	text, err := html2text.FromString(html, html2text.Options{PrettyTables: data.Table})
	if err != nil {
		return nil, fmt.Errorf("failed to render plain text: %w", err)
	}

	cc := append([]string{}, form.Settings.CC...)
	cc = append(cc, sub.Special.CC...)
	return &Message{
		To:      []string{form.Email},
		CC:      cc,
		ReplyTo: data.ReplyTo,
		Subject: subject,
		HTML:    html,
		Text:    text,
	}, nil
}

// RenderVerification renders the email ownership confirmation email
func RenderVerification(email string, link string) (*Message, error) {
	html, err := execute(verificationTemplate, map[string]string{"Email": email, "Link": link})
	if err != nil {
		return nil, err
	}
	text, err := html2text.FromString(html, html2text.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to render plain text: %w", err)
	}
	return &Message{
		To:      []string{email},
		Subject: "Confirm your email address",
		HTML:    html,
		Text:    text,
	}, nil
}

// RenderAutoResponse renders the confirmation sent back to the submitter
func RenderAutoResponse(to string, message string, form *types.RecipientForm) (*Message, error) {
	html, err := execute(autoResponseTemplate, map[string]string{"Message": message})
	if err != nil {
		return nil, err
	}
	text, err := html2text.FromString(html, html2text.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to render plain text: %w", err)
	}
	subject := form.Settings.Subject
	if subject == "" {
		subject = "Thanks for your submission"
	}
	return &Message{
		To:      []string{to},
		ReplyTo: form.Email,
		Subject: subject,
		HTML:    html,
		Text:    text,
	}, nil
}

// replyTo prefers the _replyto directive and falls back to the submitter's email field
func replyTo(sub *types.Submission) string {
	for _, candidate := range []string{sub.Special.ReplyTo, sub.Fields.Get("email")} {
		if candidate != "" && util.IsValidEmail(candidate) {
			return candidate
		}
	}
	return ""
}

func execute(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
