package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_PORT", "REFRESH_CRON", "TZ_NAME", "TRIAL_DAYS", "PRICE_PER_MONTH"} {
		t.Setenv(key, "")
	}
	cfg := Load()

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "0 0 3 * * *", cfg.RefreshCron)
	assert.Equal(t, "Europe/Moscow", cfg.Timezone)
	assert.Equal(t, 3, cfg.TrialDays)
	assert.Equal(t, 50, cfg.PricePerMonth)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REFRESH_CRON", "0 30 4 * * *")
	t.Setenv("TZ_NAME", "UTC")
	t.Setenv("PRICE_PER_MONTH", "100")
	cfg := Load()

	assert.Equal(t, "0 30 4 * * *", cfg.RefreshCron)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, 100, cfg.PricePerMonth)
}
