package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/formrelay/go-formrelay-server/types"
)

// DefaultBlacklist are phrases scanned case-insensitively across every field value
var DefaultBlacklist = []string{
	"viagra",
	"cialis",
	"casino",
	"lottery",
	"wire transfer",
	"payday loan",
	"crypto investment",
	"bitcoin investment",
	"forex trading",
	"seo services",
	"make money fast",
	"work from home",
	"nigerian prince",
	"replica watches",
}

// SpamFilterService scores submissions for abuse. Only the reCAPTCHA check does I/O.
type SpamFilterService struct {
	recaptcha *RecaptchaService
	policy    types.SpamPolicy
	blacklist []string
}

func NewSpamFilterService(recaptcha *RecaptchaService, policy types.SpamPolicy, extraBlacklist []string) *SpamFilterService {
	bl := make([]string, 0, len(DefaultBlacklist)+len(extraBlacklist))
	bl = append(bl, DefaultBlacklist...)
	bl = append(bl, extraBlacklist...)
	return &SpamFilterService{recaptcha: recaptcha, policy: policy, blacklist: bl}
}

// IsHoneypotTriggered reports whether any decoy field or honeypot directive carries a value
func IsHoneypotTriggered(sub *types.Submission) bool {
	for _, v := range sub.Special.Honeypot {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	for _, key := range sub.Fields.Keys() {
		if !isHoneypotName(key) {
			continue
		}
		for _, v := range sub.Fields.Values(key) {
			if strings.TrimSpace(v) != "" {
				return true
			}
		}
	}
	return false
}

func isHoneypotName(key string) bool {
	lk := strings.ToLower(key)
	for _, name := range types.HoneypotFieldNames {
		if lk == name {
			return true
		}
	}
	return false
}

// Check runs all checks and returns the clamped score. Never fails.
func (sf *SpamFilterService) Check(ctx context.Context, sub *types.Submission, clientIP string, threshold float64) types.SpamResult {
	score := 0
	reasons := []string{}

	if IsHoneypotTriggered(sub) {
		score += sf.policy.HoneypotScore
		reasons = append(reasons, "honeypot")
	}

	matched := sf.matchBlacklist(sub)
	if len(matched) > 0 {
		n := len(matched)
		if n > sf.policy.BlacklistMaxPhrases {
			n = sf.policy.BlacklistMaxPhrases
		}
		score += n * sf.policy.BlacklistPhraseScore
		for _, m := range matched {
			reasons = append(reasons, "blacklist:"+m)
		}
	}

	if sub.Special.CaptchaToken != "" {
		s, reason := sf.recaptchaScore(ctx, sub.Special.CaptchaToken, clientIP, threshold)
		if s > 0 {
			score += s
			reasons = append(reasons, reason)
		}
	}

	links := CountLinks(sub.StringValues())
	if links > sf.policy.LinkThreshold {
		excess := links - sf.policy.LinkThreshold
		if excess > sf.policy.LinkMaxExcess {
			excess = sf.policy.LinkMaxExcess
		}
		score += sf.policy.LinkScore * excess
		reasons = append(reasons, fmt.Sprintf("links:%d", links))
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return types.SpamResult{
		IsSpam:  score >= sf.policy.SpamThreshold,
		Score:   score,
		Reasons: reasons,
	}
}

// matchBlacklist returns the distinct phrases found in any value
func (sf *SpamFilterService) matchBlacklist(sub *types.Submission) []string {
	phrases := append([]string{}, sf.blacklist...)
	phrases = append(phrases, sub.Special.Blacklist...)

	values := sub.StringValues()
	lowered := make([]string, len(values))
	for i, v := range values {
		lowered[i] = strings.ToLower(v)
	}

	seen := map[string]bool{}
	matched := []string{}
	for _, p := range phrases {
		lp := strings.ToLower(strings.TrimSpace(p))
		if lp == "" || seen[lp] {
			continue
		}
		seen[lp] = true
		for _, v := range lowered {
			if strings.Contains(v, lp) {
				matched = append(matched, lp)
				break
			}
		}
	}
	return matched
}

func (sf *SpamFilterService) recaptchaScore(ctx context.Context, token string, clientIP string, threshold float64) (int, string) {
	if sf.recaptcha == nil {
		return 0, ""
	}
	res, err := sf.recaptcha.Verify(ctx, token, clientIP)
	if err != nil || !res.Success {
		return sf.policy.RecaptchaFailScore, "recaptcha:failed"
	}
	if res.Score < threshold {
		return int(math.Round((threshold - res.Score) * 100)), fmt.Sprintf("recaptcha:score:%.2f", res.Score)
	}
	return 0, ""
}

// CountLinks counts http:// and https:// occurrences across the values
func CountLinks(values []string) int {
	count := 0
	for _, v := range values {
		lv := strings.ToLower(v)
		count += strings.Count(lv, "http://") + strings.Count(lv, "https://")
	}
	return count
}
