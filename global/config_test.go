package global

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host: localhost
port: 9000
database:
  driver: postgres
  url: postgres://forms@localhost/forms?sslmode=disable
webhook:
  signingSecret: s3cret
  maxAttempts: 3
mail:
  provider: mailgun
  from: forms@example.com
  mailgun:
    domain: mg.example.com
    apiKey: key
`), 0644))

	var conf Config
	require.NoError(t, LoadConfig(path, &conf))

	assert.Equal(t, 9000, conf.Port)
	assert.Equal(t, "postgres", conf.Database.Driver)
	assert.Equal(t, "s3cret", conf.Webhook.SigningSecret)
	assert.Equal(t, 3, conf.Webhook.MaxAttempts)
	assert.Equal(t, "mg.example.com", conf.Mail.Mailgun.Domain)

	// defaults
	assert.Equal(t, "http://localhost:9000", conf.Forms.BaseURL)
	assert.Equal(t, 10, conf.RateLimit.Limit)
	assert.Equal(t, 5, conf.RateLimit.StrictLimit)
	assert.Equal(t, 60, conf.RateLimit.WindowSeconds)
	assert.Equal(t, 0.5, conf.Spam.Threshold)
	assert.Equal(t, 10, conf.Webhook.TimeoutSeconds)
	assert.Equal(t, 1, conf.Webhook.BaseDelaySeconds)
	assert.Equal(t, int64(1<<20), conf.Forms.MaxBodyBytes)
	assert.False(t, conf.Forms.ReplayOnVerify)
}

func TestLoadConfigErrors(t *testing.T) {
	var conf Config
	assert.Error(t, LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), &conf))

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: ["), 0644))
	assert.Error(t, LoadConfig(path, &conf))
}
