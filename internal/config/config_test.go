package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "mongo", cfg.DBConfig.DBDriver)
	assert.Equal(t, ":3001", cfg.RESTPort)
	assert.Equal(t, 2*time.Second, cfg.Telemetry.IntervalDuration())
	assert.Equal(t, 100, cfg.Telemetry.HistoryLimit)
	assert.True(t, cfg.Lifecycle.AutoCompleteOnDepletion)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
db:
  driver: sqlite
  sqlitePath: /tmp/missions.db
restPort: ":8080"
telemetry:
  interval: 500
  drainRate: 0.5
subscribers:
  buffer: 4
lifecycle:
  resumeActiveMissions: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("REST_PORT", ":9999")
	t.Setenv("TELEMETRY_INTERVAL", "250")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DBConfig.DBDriver)
	assert.Equal(t, "/tmp/missions.db", cfg.DBConfig.SQLitePath)
	assert.Equal(t, ":9999", cfg.RESTPort)
	assert.Equal(t, 250*time.Millisecond, cfg.Telemetry.IntervalDuration())
	assert.Equal(t, 0.5, cfg.Telemetry.DrainRate)
	assert.Equal(t, 4, cfg.Subscribers.Buffer)
	assert.False(t, cfg.Lifecycle.ResumeActiveMissions)
	// не заданные в файле значения остаются по умолчанию
	assert.Equal(t, 18.5914, cfg.Telemetry.OriginLatitude)
}

func TestLoadConfig_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("TELEMETRY_INTERVAL", "fast")
	t.Setenv("AUTO_COMPLETE_ON_DEPLETION", "maybe")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Telemetry.Interval)
	assert.True(t, cfg.Lifecycle.AutoCompleteOnDepletion)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"STORE_DRIVER": "cassandra"}},
		{"zero interval", map[string]string{"TELEMETRY_INTERVAL": "0"}},
		{"max below default", map[string]string{"HISTORY_MAX_LIMIT": "10"}},
		{"zero buffer", map[string]string{"SUBSCRIBER_BUFFER": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig("")
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
