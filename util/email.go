package util

import (
	"net/mail"
	"strings"

	"github.com/formrelay/go-formrelay-server/types"
	"github.com/go-playground/validator/v10"
	"golang.org/x/net/idna"
)

var validate = validator.New()

// NormalizeEmail lowercases the address and converts the domain to its ASCII (punycode) form
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", types.ErrInvalidEmail
	}
	parsed, err := mail.ParseAddress(email)
	if err != nil {
		return "", types.ErrInvalidEmail
	}
	at := strings.LastIndex(parsed.Address, "@")
	if at <= 0 || at == len(parsed.Address)-1 {
		return "", types.ErrInvalidEmail
	}
	local := parsed.Address[:at]
	domain, err := idna.Lookup.ToASCII(parsed.Address[at+1:])
	if err != nil {
		return "", types.ErrInvalidEmail
	}
	normalized := strings.ToLower(local + "@" + domain)
	if !IsValidEmail(normalized) {
		return "", types.ErrInvalidEmail
	}
	return normalized, nil
}

func IsValidEmail(email string) bool {
	return validate.Var(email, "required,email") == nil
}

// IsValidURL accepts absolute http(s) URLs only
func IsValidURL(u string) bool {
	if validate.Var(u, "required,url") != nil {
		return false
	}
	lu := strings.ToLower(u)
	return strings.HasPrefix(lu, "http://") || strings.HasPrefix(lu, "https://")
}
