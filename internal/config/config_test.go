package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func newViper(overrides map[string]any) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for k, val := range overrides {
		v.Set(k, val)
	}
	return v
}

func TestDefaults(t *testing.T) {
	cfg, err := fromViper(newViper(nil))
	require.NoError(t, err)

	require.Equal(t, 30*24*time.Hour, cfg.Retention)
	require.Equal(t, time.Hour, cfg.WarningCooldown)
	require.Equal(t, "32 3-59/4 * * * *", cfg.InsertCron)
	require.Equal(t, StoreMemory, cfg.StoreBackend)
	require.Equal(t, MailNone, cfg.MailTransport)
	require.Equal(t, "unic-monitoring@no-reply.com", cfg.MailFrom)
	require.Empty(t, cfg.KafkaBrokers)
}

func TestOverridesAndLists(t *testing.T) {
	cfg, err := fromViper(newViper(map[string]any{
		"TIMEZONE":         "Europe/Belgrade",
		"WARNING_COOLDOWN": "15m",
		"KAFKA_BROKERS":    "k1:9092, k2:9092,",
		"STORE_BACKEND":    "Postgres",
		"DB_DSN":           "postgres://localhost/sensors",
	}))
	require.NoError(t, err)

	require.Equal(t, "Europe/Belgrade", cfg.Location.String())
	require.Equal(t, 15*time.Minute, cfg.WarningCooldown)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, StorePostgres, cfg.StoreBackend)
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
	}{
		{"bad duration", map[string]any{"RETENTION": "a month"}},
		{"unknown timezone", map[string]any{"TIMEZONE": "Mars/Olympus"}},
		{"unknown backend", map[string]any{"STORE_BACKEND": "redis"}},
		{"postgres without dsn", map[string]any{"STORE_BACKEND": "postgres"}},
		{"smtp without host", map[string]any{"MAIL_TRANSPORT": "smtp"}},
		{"sns without topic", map[string]any{"MAIL_TRANSPORT": "sns"}},
		{"camera without bucket", map[string]any{"CAMERA_URL": "http://cam.local/image.jpg"}},
		{"bad sensor url", map[string]any{"SENSOR_BASE_URL": "not a url"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fromViper(newViper(tt.overrides))
			require.Error(t, err)
		})
	}
}
