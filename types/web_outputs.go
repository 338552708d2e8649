package types

// SubmissionResponse is returned to API/AJAX callers. Never carries the submission id.
type SubmissionResponse struct {
	Success              bool   `json:"success"`
	Message              string `json:"message,omitempty"`
	VerificationRequired bool   `json:"verificationRequired,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Mode    string `json:"mode"`
}
