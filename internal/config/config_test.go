package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	p := writeTempConfig(t, dir, "magi.yaml", "server:\n  host: 127.0.0.1\n")

	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.Server.Host)
	require.Equal(t, 8787, cfg.Server.HubPort)
	require.Equal(t, "./magi_data", cfg.Storage.Dir)
	require.Equal(t, 2, cfg.Staged.MaxRetriesPerStage)
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeTempConfig(t, dir, "providers.yaml", "providers:\n  anthropic:\n    enabled: true\n")
	p := writeTempConfig(t, dir, "magi.yaml", "$include: providers.yaml\nserver:\n  hub_port: 9001\n")

	cfg, err := Load(p)
	require.NoError(t, err)
	require.True(t, cfg.Providers.Anthropic.Enabled)
	require.Equal(t, 9001, cfg.Server.HubPort)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeTempConfig(t, dir, "a.yaml", "$include: b.yaml\n")
	p := writeTempConfig(t, dir, "b.yaml", "$include: a.yaml\n")

	_, err := LoadRaw(p)
	require.Error(t, err)
}

func TestValidateConfigRejectsEmptyModelClass(t *testing.T) {
	dir := t.TempDir()
	p := writeTempConfig(t, dir, "magi.yaml", "model_classes:\n  chat: []\n")

	_, err := Load(p)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	p := writeTempConfig(t, dir, "magi.yaml", "server:\n  hub_port: 1111\n")
	t.Setenv("MAGI_HUB_PORT", "2222")

	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, 2222, cfg.Server.HubPort)
}

func TestLoadRejectsWrongTypeAgainstSchema(t *testing.T) {
	dir := t.TempDir()
	p := writeTempConfig(t, dir, "magi.yaml", "server:\n  hub_port: \"not-a-number\"\n")

	_, err := Load(p)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestJSONSchemaIsStable(t *testing.T) {
	schema, err := JSONSchema()
	require.NoError(t, err)
	require.Contains(t, string(schema), "server")
}
