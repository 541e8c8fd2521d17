package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "warren.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	modulesDir := t.TempDir()

	cfg, err := Load(writeConfig(t, `
spool_dir: /var/spool/warren
modules_dir: `+modulesDir+`
modules_config_dir: /etc/warren/modules.d
`))
	require.NoError(t, err)

	assert.Equal(t, "/var/spool/warren", cfg.SpoolDir)
	assert.Equal(t, modulesDir, cfg.ModulesDir)
	assert.Equal(t, "/etc/warren/modules.d", cfg.ModulesConfigDir)
}

func TestLoad_SpoolDirOnly(t *testing.T) {
	cfg, err := Load(writeConfig(t, "spool_dir: /var/spool/warren\n"))
	require.NoError(t, err)

	assert.Empty(t, cfg.ModulesDir)
	assert.Empty(t, cfg.ModulesConfigDir)
}

func TestLoad_MissingSpoolDir(t *testing.T) {
	_, err := Load(writeConfig(t, "modules_config_dir: /etc/warren/modules.d\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spool_dir is required")
}

func TestLoad_MissingModulesDir(t *testing.T) {
	_, err := Load(writeConfig(t, `
spool_dir: /var/spool/warren
modules_dir: /does/not/exist
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modules_dir does not exist")
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "spool_dir: [\n"))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
