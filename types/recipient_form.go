package types

import "database/sql/driver"

// FormSettings is the per recipient settings bag
type FormSettings struct {
	Subject            string   `json:"subject,omitempty"`
	Template           string   `json:"template,omitempty"`
	RecaptchaThreshold float64  `json:"recaptchaThreshold,omitempty"`
	AllowedOrigins     []string `json:"allowedOrigins,omitempty"`
	WebhookURL         string   `json:"webhookUrl,omitempty"`
	CC                 []string `json:"cc,omitempty"`
}

func (s FormSettings) Value() (driver.Value, error) {
	return jsonValue(s)
}

func (s *FormSettings) Scan(src interface{}) error {
	return jsonScan(src, s)
}

// RecipientForm is the resolved destination (an email owner) of submissions
type RecipientForm struct {
	ID         string       `json:"id" db:"id"`
	Email      string       `json:"email" db:"email"`
	Hash       string       `json:"hash" db:"hash"`
	VerifiedAt *int64       `json:"verifiedAt,omitempty" db:"verified_at"`
	Settings   FormSettings `json:"settings" db:"settings"`
	Created    int64        `json:"created" db:"created"`
	Updated    int64        `json:"updated" db:"updated"`
}

func (f *RecipientForm) IsVerified() bool {
	return f.VerifiedAt != nil && *f.VerifiedAt > 0
}
