package types

type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSuccess DeliveryStatus = "success"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

// WebhookDelivery is one attempt lineage for pushing a submission to an external URL
type WebhookDelivery struct {
	ID           string         `json:"id" db:"id"`
	SubmissionID string         `json:"submissionId" db:"submission_id"`
	URL          string         `json:"url" db:"url"`
	Payload      string         `json:"-" db:"payload"`
	Status       DeliveryStatus `json:"status" db:"status"`
	Attempts     int            `json:"attempts" db:"attempts"`
	LastError    string         `json:"lastError,omitempty" db:"last_error"`
	NextRetryAt  *int64         `json:"nextRetryAt,omitempty" db:"next_retry_at"`
	Created      int64          `json:"created" db:"created"`
	Updated      int64          `json:"updated" db:"updated"`
}

type WebhookMeta struct {
	FormID       string   `json:"form_id"`
	SubmissionID string   `json:"submission_id"`
	SubmittedAt  int64    `json:"submitted_at"`
	ClientIP     string   `json:"client_ip"`
	Tracking     Tracking `json:"tracking,omitempty"`
}

// WebhookPayload is the JSON body posted to the receiver
type WebhookPayload struct {
	Data Fields      `json:"data"`
	Meta WebhookMeta `json:"meta"`
}

// DeliveryResult is the outcome of a single dispatch attempt
type DeliveryResult struct {
	Success    bool
	Error      string
	StatusCode int
	// Terminal is set when the lineage is already finished (no retry must follow)
	Terminal bool
}
