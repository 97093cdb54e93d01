package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	originalDir, _ := os.Getwd()
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)

	assert.Contains(t, cfg.Storage.ConnectionString, "postgres://")
	assert.Equal(t, int32(20), cfg.Storage.MaxOpenConns)
	assert.Equal(t, 3, cfg.Storage.RetryAttempts)

	assert.Equal(t, 2, cfg.Worker.Min)
	assert.Equal(t, 50, cfg.Worker.Max)
	assert.Equal(t, 100, cfg.Worker.HighWatermark)
	assert.Equal(t, 10, cfg.Worker.LowWatermark)

	assert.Equal(t, 1*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 50, cfg.Scheduler.BatchSize)

	assert.Equal(t, 20, cfg.Admission.MaxConcurrentTotal)
	assert.Equal(t, 100, cfg.Admission.RateMaxRequests)

	assert.Equal(t, 60*time.Second, cfg.Recovery.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Recovery.Window)

	assert.Equal(t, 10000, cfg.DLQ.MaxSize)
	assert.Equal(t, 3, cfg.DLQ.RetryLimit)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 60*time.Second, cfg.Metrics.Window)

	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := tmpDir + "/config.yaml"

	configContent := `
server:
  host: "127.0.0.1"
  port: 9090

storage:
  connectionstring: "postgres://custom:custom@db:5432/tq"
  maxopenconns: 40

admission:
  maxconcurrenttotal: 5

loglevel: "warn"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	originalDir, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres://custom:custom@db:5432/tq", cfg.Storage.ConnectionString)
	assert.Equal(t, int32(40), cfg.Storage.MaxOpenConns)
	assert.Equal(t, 5, cfg.Admission.MaxConcurrentTotal)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestAdmissionConfig_Fields(t *testing.T) {
	cfg := AdmissionConfig{
		MaxConcurrentTotal:  10,
		MaxConcurrentByType: map[string]int{"write": 2, "search": 3},
		RateWindow:          time.Second,
		RateMaxRequests:     50,
	}

	assert.Equal(t, 10, cfg.MaxConcurrentTotal)
	assert.Equal(t, 2, cfg.MaxConcurrentByType["write"])
}
