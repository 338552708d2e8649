package types

// RateWindow is a counting bucket for one client identity (+ target)
type RateWindow struct {
	Count int   `json:"count"`
	Start int64 `json:"start"` // unix ms
}

type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    int64 // unix ms
	RetryAfter int   // seconds, set on denial
}
