package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSubmissionExtractsDirectives(t *testing.T) {
	raw := NewFields()
	raw.Add("name", "A")
	raw.Add("_replyto", "reply@example.com")
	raw.Add("_next", "https://example.com/thanks")
	raw.Add("_subject", "Hello")
	raw.Add("_cc", "a@example.com, b@example.com")
	raw.Add("_blacklist", "foo,bar")
	raw.Add("g-recaptcha-response", "captcha")
	raw.Add("_webhook", "https://hooks.example.com/x")
	raw.Add("_gotcha", "")
	raw.Add("utm_source", "newsletter")
	raw.Add("gclid", "abc")
	raw.Add("_unknown", "dropped")
	raw.Add("website", "")
	raw.Add("message", "hi")

	sub := NewSubmission(raw)

	assert.Equal(t, []string{"name", "website", "message"}, sub.Fields.Keys())
	assert.Equal(t, "reply@example.com", sub.Special.ReplyTo)
	assert.Equal(t, "https://example.com/thanks", sub.Special.Next)
	assert.Equal(t, "Hello", sub.Special.Subject)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, sub.Special.CC)
	assert.Equal(t, []string{"foo", "bar"}, sub.Special.Blacklist)
	assert.Equal(t, "captcha", sub.Special.CaptchaToken)
	assert.Equal(t, "https://hooks.example.com/x", sub.Special.Webhook)
	assert.Equal(t, []string{""}, sub.Special.Honeypot)
	assert.Equal(t, Tracking{"utm_source": "newsletter", "gclid": "abc"}, sub.Tracking)
}

func TestNewSubmissionFirstDirectiveWins(t *testing.T) {
	raw := NewFields()
	raw.Add("_replyto", "first@example.com")
	raw.Add("_reply_to", "second@example.com")
	sub := NewSubmission(raw)
	assert.Equal(t, "first@example.com", sub.Special.ReplyTo)
}
