package types

// VerificationToken is the one time proof that a recipient controls the claimed email
type VerificationToken struct {
	Token        string `json:"token"`
	Email        string `json:"email"`
	SubmissionID string `json:"submissionId"`
	FormData     Fields `json:"formData"`
	IssuedAt     int64  `json:"issuedAt"`
}
