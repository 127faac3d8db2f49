package domain

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  read_timeout: "5s"
repository:
  driver: postgres
  postgres_host: db
  postgres_db: collections
rules:
  path: /etc/collector/rules.yaml
reconcile:
  schedule: "30 1 * * *"
logging:
  level: debug
  format: text
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout, "unset values keep env-default")
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "db", cfg.Repository.PostgresHost)
	assert.Equal(t, "/etc/collector/rules.yaml", cfg.Rules.Path)
	assert.Equal(t, "30 1 * * *", cfg.Reconcile.Schedule)
	assert.True(t, cfg.Reconcile.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("SERVER_PORT", "7070")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_ExplicitMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Repository.Driver = "mysql" },
			wantErr: `repository.driver "mysql"`,
		},
		{
			name:    "nats without url",
			mutate:  func(c *Config) { c.EventBus.Type = "nats" },
			wantErr: "event_bus.nats_url",
		},
		{
			name:    "empty schedule while enabled",
			mutate:  func(c *Config) { c.Reconcile.Schedule = " " },
			wantErr: "reconcile.schedule",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssignmentGroupDefaultAssignee(t *testing.T) {
	assert.Equal(t, "Tier1Queue", GroupTier1.DefaultAssignee())
	assert.Equal(t, "Tier2Queue", GroupTier2.DefaultAssignee())
	assert.Equal(t, "LegalDesk", GroupLegal.DefaultAssignee())
	assert.False(t, AssignmentGroup("Tier3").Valid())
}

func TestCaseStatusTerminal(t *testing.T) {
	assert.False(t, StatusOpen.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusResolved.Terminal())
	assert.True(t, StatusClosed.Terminal())
}
