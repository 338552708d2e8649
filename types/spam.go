package types

// SpamPolicy holds the scoring weights of the abuse filter
type SpamPolicy struct {
	HoneypotScore        int
	BlacklistPhraseScore int
	BlacklistMaxPhrases  int
	RecaptchaFailScore   int
	LinkThreshold        int
	LinkScore            int
	LinkMaxExcess        int
	SpamThreshold        int
}

func DefaultSpamPolicy() SpamPolicy {
	return SpamPolicy{
		HoneypotScore:        80,
		BlacklistPhraseScore: 20,
		BlacklistMaxPhrases:  3,
		RecaptchaFailScore:   50,
		LinkThreshold:        3,
		LinkScore:            10,
		LinkMaxExcess:        5,
		SpamThreshold:        50,
	}
}

type SpamResult struct {
	IsSpam  bool     `json:"isSpam"`
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
}

// RecaptchaResponse of the siteverify endpoint
type RecaptchaResponse struct {
	Success     bool     `json:"success"`
	Score       float64  `json:"score"`
	Action      string   `json:"action,omitempty"`
	Hostname    string   `json:"hostname,omitempty"`
	ChallengeTs string   `json:"challenge_ts,omitempty"`
	ErrorCodes  []string `json:"error-codes,omitempty"`
}
