package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 24.0, cfg.Engine.IdleThresholdHours)
	require.Equal(t, 12.0, cfg.Engine.WarningThresholdHours)
	require.Equal(t, time.Hour, cfg.Scheduler.SweepInterval.Std())
	require.Equal(t, "/v1", cfg.Server.BasePath)
}

func TestFromYAMLMergesOverDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
engine:
  idle_threshold_hours: 48
scheduler:
  sweep_interval: 15m
notifications:
  sender: webhook
  webhook:
    url: http://hooks.local/notify
`))
	require.NoError(t, err)
	require.Equal(t, 48.0, cfg.Engine.IdleThresholdHours)
	require.Equal(t, 12.0, cfg.Engine.WarningThresholdHours)
	require.Equal(t, 15*time.Minute, cfg.Scheduler.SweepInterval.Std())
	require.Equal(t, 24*time.Hour, cfg.Scheduler.RefreshInterval.Std())
	require.Equal(t, "http://hooks.local/notify", cfg.Notifications.Webhook.URL)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"thresholds inverted": "engine: {idle_threshold_hours: 6, warning_threshold_hours: 12}",
		"zero warning":        "engine: {warning_threshold_hours: 0}",
		"unknown formula":     "engine: {score_formula_version: 9}",
		"webhook without url": "notifications: {sender: webhook}",
		"unknown sender":      "notifications: {sender: pigeon}",
		"bad duration":        "scheduler: {sweep_interval: soon}",
		"relative base path":  "server: {base_path: v1}",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	_, err = Load(dir)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("logging: {level: debug}\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
}
