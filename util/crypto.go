package util

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/scrypt"
)

var (
	scryptN   = 32768 // N = CPU/memory cost parameter (suitable as of 2017)
	scryptR   = 8     // r and p must satisfy r * p < 2^30
	scryptP   = 1
	scryptLen = 16 // 16 bytes long (32 hex chars)
)

var (
	ErrSignatureMissing   = errors.New("signature missing")
	ErrSignatureMalformed = errors.New("signature malformed")
	ErrSignatureExpired   = errors.New("signature timestamp outside tolerance")
	ErrSignatureMismatch  = errors.New("signature mismatch")
)

// SignatureTolerance is the maximum age (or clock skew) of a signed webhook request
const SignatureTolerance = 300 * time.Second

// ScryptEmail derives the public routing hash of a normalized email (hex encoded).
// The salt is deployment wide so the hash is deterministic.
func ScryptEmail(email string, salt string) (string, error) {
	s := salt
	if s == "" {
		s = email
	}
	dk, err := scrypt.Key([]byte(email), []byte(s), scryptN, scryptR, scryptP, scryptLen)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(dk), nil
}

// GenerateToken returns n cryptographically random bytes hex encoded
func GenerateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ComputeSignature returns hex(HMAC-SHA256(secret, "<timestamp>.<body>"))
func ComputeSignature(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader formats the X-Signature header value
func SignatureHeader(secret string, timestamp int64, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, ComputeSignature(secret, timestamp, body))
}

// VerifySignature checks an X-Signature header the way a webhook receiver should
func VerifySignature(secret string, header string, body []byte, now time.Time, tolerance time.Duration) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrSignatureMissing
	}
	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			return ErrSignatureMalformed
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return ErrSignatureMalformed
			}
			ts = parsed
		case "v1":
			sig = kv[1]
		}
	}
	if ts == 0 || sig == "" {
		return ErrSignatureMalformed
	}
	received, err := hex.DecodeString(sig)
	if err != nil {
		return ErrSignatureMalformed
	}
	age := now.Unix() - ts
	if age < 0 {
		age = -age
	}
	if time.Duration(age)*time.Second > tolerance {
		return ErrSignatureExpired
	}
	expected, _ := hex.DecodeString(ComputeSignature(secret, ts, body))
	if !hmac.Equal(received, expected) {
		return ErrSignatureMismatch
	}
	return nil
}
