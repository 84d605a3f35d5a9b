package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cscs-keygen/cscs-keygen/internal/config"
	"github.com/cscs-keygen/cscs-keygen/internal/errors"
)

func TestConfigInit_NonInteractive(t *testing.T) {
	isolate(t)
	useTestEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	var out bytes.Buffer
	err := configInit(&out, InitOptions{Path: path, Backend: "bitwarden", Item: "cscs", NonInteractive: true})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Wrote "+path)
	assert.Contains(t, out.String(), "cscs-keygen doctor")

	c, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bw", c.Backend)
	assert.Equal(t, "cscs", c.Item)
	assert.Equal(t, config.DefaultConfig().Endpoint, c.Endpoint)
}

func TestConfigInit_WithoutTarget(t *testing.T) {
	isolate(t)
	useTestEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	var out bytes.Buffer
	require.NoError(t, configInit(&out, InitOptions{Path: path, NonInteractive: true}))
	assert.Contains(t, out.String(), "config set item")
	assert.FileExists(t, path)
}

func TestConfigInit_Existing(t *testing.T) {
	isolate(t)
	te := useTestEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "item: keep\n")

	err := configInit(&bytes.Buffer{}, InitOptions{Path: path, NonInteractive: true})
	require.Error(t, err)
	assert.Equal(t, errors.ExitGeneric, errors.ExitCode(err))
	assert.Contains(t, err.Error(), "--force")

	var out bytes.Buffer
	require.NoError(t, configInit(&out, InitOptions{Path: path, Backend: "op", Item: "x"}))
	assert.Contains(t, out.String(), "Cancelled.")
	assert.Len(t, te.Asked, 1)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "item: keep\n", string(data))

	require.NoError(t, configInit(&bytes.Buffer{}, InitOptions{Path: path, Backend: "op", Item: "x", Overwrite: true, NonInteractive: true}))
	c, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "op", c.Backend)
}

func TestConfigInit_UnknownBackend(t *testing.T) {
	isolate(t)
	useTestEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	err := configInit(&bytes.Buffer{}, InitOptions{Path: path, Backend: "keepass", Item: "x", NonInteractive: true})
	require.Error(t, err)
	assert.NoFileExists(t, path)
}

func TestTargetConfigPath(t *testing.T) {
	home := isolate(t)
	saved := cfgFile
	t.Cleanup(func() { cfgFile = saved })

	cfgFile = ""
	assert.Equal(t, filepath.Join(home, ".config", "cscs-keygen", "config.yaml"), targetConfigPath())

	writeFile(t, config.ConfigFileName, "item: local\n")
	assert.Equal(t, config.ConfigFileName, filepath.Base(targetConfigPath()))

	cfgFile = "/explicit.yaml"
	assert.Equal(t, "/explicit.yaml", targetConfigPath())
}

func TestKeyHelp(t *testing.T) {
	help := keyHelp()
	for _, key := range config.KeyNames() {
		assert.Contains(t, help, key)
	}
}
