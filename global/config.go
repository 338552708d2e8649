package global

import (
	"fmt"
	"os"

	"github.com/go-redis/redis_rate/v10"
	"gopkg.in/yaml.v3"
)

// Conf global config
var Conf Config

// Global rate limiter (per second burst limiter for the verification endpoint)
var RateLimiter *redis_rate.Limiter

type Config struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	Scheme     string           `yaml:"scheme"`
	Mode       string           `yaml:"mode"`
	Version    string           `yaml:"version"`
	Redis      RedisConfig      `yaml:"redis"`
	Database   DatabaseConfig   `yaml:"database"`
	Queue      Queue            `yaml:"queue"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Forms      FormsConfig      `yaml:"forms"`
	Spam       SpamConfig       `yaml:"spam"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Mail       MailConfig       `yaml:"mail"`
	Cors       CorsConfig       `yaml:"cors"`
	// proxies whose X-Forwarded-For / X-Real-IP headers are trusted (ip or cidr). Empty trusts none.
	TrustedProxies []string `yaml:"trustedProxies"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	Username string `yaml:"username"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres or sqlite3
	URL    string `yaml:"url"`
}

type Queue struct {
	Concurrency int `yaml:"concurrency"`
}

type PrometheusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type FormsConfig struct {
	BaseURL          string `yaml:"baseUrl"`          // public url used in verification links
	DefaultRecipient string `yaml:"defaultRecipient"` // recipient of the "default" sentinel target
	EmailSalt        string `yaml:"emailSalt"`
	ReplayOnVerify   bool   `yaml:"replayOnVerify"`
	MaxBodyBytes     int64  `yaml:"maxBodyBytes"`
}

type SpamConfig struct {
	RecaptchaSecret    string   `yaml:"recaptchaSecret"`
	RecaptchaVerifyURL string   `yaml:"recaptchaVerifyUrl"`
	Threshold          float64  `yaml:"threshold"`
	Blacklist          []string `yaml:"blacklist"`
}

type RateLimitConfig struct {
	Limit           int `yaml:"limit"`
	StrictLimit     int `yaml:"strictLimit"`
	WindowSeconds   int `yaml:"windowSeconds"`
	VerifyPerSecond int `yaml:"verifyPerSecond"`
}

type WebhookConfig struct {
	SigningSecret       string `yaml:"signingSecret"`
	TimeoutSeconds      int    `yaml:"timeoutSeconds"`
	MaxAttempts         int    `yaml:"maxAttempts"`
	BaseDelaySeconds    int    `yaml:"baseDelaySeconds"`
	UserAgent           string `yaml:"userAgent"`
	StalledAfterMinutes int    `yaml:"stalledAfterMinutes"`
}

type MailConfig struct {
	Provider string        `yaml:"provider"` // mailgun, smtp or log
	From     string        `yaml:"from"`
	Mailgun  MailgunConfig `yaml:"mailgun"`
	Smtp     SmtpConfig    `yaml:"smtp"`
}

type MailgunConfig struct {
	Domain  string `yaml:"domain"`
	ApiKey  string `yaml:"apiKey"`
	ApiBase string `yaml:"apiBase"`
}

type SmtpConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type CorsConfig struct {
	AllowOrigins []string `yaml:"allowOrigins"`
}

// LoadConfig reads the yaml configuration file into conf and fills in defaults
func LoadConfig(path string, conf *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, conf); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	conf.ApplyDefaults()
	return nil
}

// ApplyDefaults sets the policy defaults for every value left empty
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Scheme == "" {
		c.Scheme = "http"
	}
	if c.Mode == "" {
		c.Mode = "release"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.URL == "" {
		c.Database.URL = "formrelay.db"
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 20
	}
	if c.Forms.MaxBodyBytes <= 0 {
		c.Forms.MaxBodyBytes = 1 << 20
	}
	if c.Forms.BaseURL == "" {
		c.Forms.BaseURL = fmt.Sprintf("%s://%s:%d", c.Scheme, c.Host, c.Port)
	}
	if c.Spam.Threshold <= 0 {
		c.Spam.Threshold = 0.5
	}
	if c.Spam.RecaptchaVerifyURL == "" {
		c.Spam.RecaptchaVerifyURL = "https://www.google.com/recaptcha/api/siteverify"
	}
	if c.RateLimit.Limit <= 0 {
		c.RateLimit.Limit = 10
	}
	if c.RateLimit.StrictLimit <= 0 {
		c.RateLimit.StrictLimit = 5
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.RateLimit.VerifyPerSecond <= 0 {
		c.RateLimit.VerifyPerSecond = 2
	}
	if c.Webhook.TimeoutSeconds <= 0 {
		c.Webhook.TimeoutSeconds = 10
	}
	if c.Webhook.MaxAttempts <= 0 {
		c.Webhook.MaxAttempts = 5
	}
	if c.Webhook.BaseDelaySeconds <= 0 {
		c.Webhook.BaseDelaySeconds = 1
	}
	if c.Webhook.UserAgent == "" {
		c.Webhook.UserAgent = "formrelay-webhook/1.0"
	}
	if c.Webhook.StalledAfterMinutes <= 0 {
		c.Webhook.StalledAfterMinutes = 10
	}
	if c.Mail.Provider == "" {
		c.Mail.Provider = "log"
	}
}
