package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Тесты меняют окружение процесса, поэтому без t.Parallel
func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "/organization/integrations", cfg.IntegrationsPage)
	assert.Equal(t, 10*time.Minute, cfg.StateTTL)
	assert.Equal(t, "memory", cfg.NonceLedger)
	assert.Equal(t, 5*time.Minute, cfg.WebhookSignatureTolerance)
	assert.Equal(t, int64(1<<20), cfg.WebhookMaxBodyBytes)
	assert.Equal(t, cfg.EncryptionKey, cfg.StateSecret)
	assert.Empty(t, cfg.Slack.ClientID)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BASE_URL", "https://integrations.example.com/")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("STATE_SECRET", "state-secret")
	t.Setenv("STATE_TTL", "5m")
	t.Setenv("WEBHOOK_TIMEOUT", "not-a-duration")
	t.Setenv("SLACK_CLIENT_ID", "slack-id")
	t.Setenv("ZOOM_ACCOUNT_ID", "acc-1")

	cfg := Load()

	assert.Equal(t, "https://integrations.example.com", cfg.BaseURL)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, "state-secret", cfg.StateSecret)
	assert.Equal(t, 5*time.Minute, cfg.StateTTL)
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, "slack-id", cfg.Slack.ClientID)
	assert.Equal(t, "acc-1", cfg.Zoom.AccountID)
}
