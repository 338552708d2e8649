package services

import (
	"context"
	"fmt"
	"time"

	"github.com/formrelay/go-formrelay-server/global"
	"github.com/formrelay/go-formrelay-server/types"
	"github.com/go-kit/log/level"
	"github.com/go-resty/resty/v2"
)

// RecaptchaService verifies reCAPTCHA v3 tokens with the siteverify endpoint
type RecaptchaService struct {
	secret      string
	verifyURL   string
	restyClient *resty.Client
}

func NewRecaptchaService(secret string, verifyURL string) *RecaptchaService {
	client := resty.New().SetTimeout(time.Second * 5)
	return &RecaptchaService{secret: secret, verifyURL: verifyURL, restyClient: client}
}

// Client exposes the underlying http client (used to attach mock transports)
func (rs *RecaptchaService) Client() *resty.Client {
	return rs.restyClient
}

// Verify returns the siteverify response. A deployment without a secret always passes with score 1.0.
func (rs *RecaptchaService) Verify(ctx context.Context, token string, remoteIP string) (*types.RecaptchaResponse, error) {
	if rs.secret == "" {
		return &types.RecaptchaResponse{Success: true, Score: 1.0}, nil
	}
	var result types.RecaptchaResponse
	params := map[string]string{
		"secret":   rs.secret,
		"response": token,
	}
	if remoteIP != "" {
		params["remoteip"] = remoteIP
	}
	response, err := rs.restyClient.R().SetContext(ctx).SetFormData(params).SetResult(&result).ForceContentType("application/json").Post(rs.verifyURL)
	if err != nil {
		level.Warn(global.Logger).Log("msg", "recaptcha verification request failed", "err", err)
		return nil, fmt.Errorf("recaptcha request failed: %w", err)
	}
	if response.IsError() {
		level.Warn(global.Logger).Log("msg", "recaptcha verification returned error", "status", response.StatusCode())
		return nil, fmt.Errorf("recaptcha returned status %d", response.StatusCode())
	}
	return &result, nil
}
