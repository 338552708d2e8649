package types

import (
	"database/sql/driver"
	"strings"
)

// SpecialFields are the recognized directive values extracted from a form post
type SpecialFields struct {
	ReplyTo      string   `json:"replyTo,omitempty"`
	Next         string   `json:"next,omitempty"`
	Subject      string   `json:"subject,omitempty"`
	CC           []string `json:"cc,omitempty"`
	Blacklist    []string `json:"blacklist,omitempty"`
	CaptchaToken string   `json:"-"`
	AutoResponse string   `json:"autoResponse,omitempty"`
	Template     string   `json:"template,omitempty"`
	Webhook      string   `json:"webhook,omitempty"`
	Honeypot     []string `json:"-"`
}

func (s SpecialFields) Value() (driver.Value, error) {
	return jsonValue(s)
}

func (s *SpecialFields) Scan(src interface{}) error {
	return jsonScan(src, s)
}

// Submission is one parsed inbound form post. Immutable after NewSubmission.
type Submission struct {
	ID          string        `json:"id" db:"id"`
	FormID      string        `json:"formId" db:"form_id"`
	Fields      Fields        `json:"data" db:"data"`
	Special     SpecialFields `json:"-" db:"special"`
	Tracking    Tracking      `json:"tracking,omitempty" db:"tracking"`
	ClientIP    string        `json:"clientIp" db:"client_ip"`
	IsSpam      bool          `json:"isSpam" db:"is_spam"`
	SpamScore   int           `json:"spamScore" db:"spam_score"`
	SpamReasons StringList    `json:"spamReasons,omitempty" db:"spam_reasons"`
	Created     int64         `json:"created" db:"created"`
}

// directive keys, first match wins for the single valued ones
var (
	replyToKeys  = []string{"_replyto", "_reply_to"}
	nextKeys     = []string{"_next", "_redirect"}
	subjectKeys  = []string{"_subject"}
	ccKeys       = []string{"_cc"}
	blackKeys    = []string{"_blacklist"}
	captchaKeys  = []string{"g-recaptcha-response", "_recaptcha"}
	autoRespKeys = []string{"_autoresponse"}
	templateKeys = []string{"_template"}
	webhookKeys  = []string{"_webhook"}
	honeypotKeys = []string{"_honeypot", "_gotcha"}

	trackingKeys = map[string]bool{"gclid": true, "fbclid": true, "msclkid": true}
)

// HoneypotFieldNames are decoy field names that humans never fill in
var HoneypotFieldNames = []string{"_honeypot", "_gotcha", "honeypot", "hp", "website", "url", "fax"}

// NewSubmission splits the raw parsed fields into user data, directives and tracking parameters.
// Unknown underscore prefixed keys are dropped.
func NewSubmission(raw Fields) *Submission {
	sub := &Submission{
		Fields:   NewFields(),
		Tracking: Tracking{},
	}
	sp := &sub.Special

	for _, key := range raw.Keys() {
		lk := strings.ToLower(key)
		vals := raw.Values(key)
		first := ""
		if len(vals) > 0 {
			first = strings.TrimSpace(vals[0])
		}
		switch {
		case contains(replyToKeys, lk):
			setOnce(&sp.ReplyTo, first)
		case contains(nextKeys, lk):
			setOnce(&sp.Next, first)
		case contains(subjectKeys, lk):
			setOnce(&sp.Subject, first)
		case contains(ccKeys, lk):
			sp.CC = append(sp.CC, splitList(vals)...)
		case contains(blackKeys, lk):
			sp.Blacklist = append(sp.Blacklist, splitList(vals)...)
		case contains(captchaKeys, lk):
			setOnce(&sp.CaptchaToken, first)
		case contains(autoRespKeys, lk):
			setOnce(&sp.AutoResponse, first)
		case contains(templateKeys, lk):
			setOnce(&sp.Template, first)
		case contains(webhookKeys, lk):
			setOnce(&sp.Webhook, first)
		case contains(honeypotKeys, lk):
			sp.Honeypot = append(sp.Honeypot, vals...)
		case strings.HasPrefix(lk, "utm_") || trackingKeys[lk]:
			sub.Tracking[lk] = first
		case strings.HasPrefix(lk, "_"):
			// unknown directive
		default:
			if raw.IsList(key) {
				sub.Fields.AddList(key, vals)
				continue
			}
			for _, v := range vals {
				sub.Fields.Add(key, v)
			}
		}
	}
	return sub
}

// StringValues returns every user supplied value (used by content scanners)
func (s *Submission) StringValues() []string {
	return s.Fields.AllValues()
}

func contains(list []string, s string) bool {
	for _, l := range list {
		if l == s {
			return true
		}
	}
	return false
}

func setOnce(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func splitList(vals []string) []string {
	out := []string{}
	for _, v := range vals {
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
