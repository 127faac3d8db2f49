package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/collector/internal/domain"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRulesCheck(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	out, err := execute(t, "rules", "check", "../../rules/default-rules.json")
	require.NoError(t, err)
	assert.Contains(t, out, "DPD_1_7")
	assert.Contains(t, out, "RISK_GT_80_OVERRIDE")
	assert.Contains(t, out, "4 rule(s) OK")

	yamlOut, err := execute(t, "rules", "check", "../../rules/default-rules.yaml")
	require.NoError(t, err)
	assert.Contains(t, yamlOut, "4 rule(s) OK")
}

func TestRulesCheckRejectsInvalidFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"code":"X","actions":{"stage":"URGENT"}}]`), 0o644))

	_, err := execute(t, "rules", "check", path)
	assert.ErrorContains(t, err, "unknown stage")
}

func TestVersionSkipsConfig(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "collector dev")
}

func TestNewLogger(t *testing.T) {
	logger := newLogger(domain.LoggingConfig{Level: "warn", Format: "text"})
	assert.IsType(t, &slog.TextHandler{}, logger.Handler())
	assert.False(t, logger.Enabled(t.Context(), slog.LevelInfo))

	logger = newLogger(domain.LoggingConfig{Level: "debug", Format: "json"})
	assert.IsType(t, &slog.JSONHandler{}, logger.Handler())
	assert.True(t, logger.Enabled(t.Context(), slog.LevelDebug))
}
