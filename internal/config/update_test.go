package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cscs-keygen/cscs-keygen/internal/errors"
)

func TestRender_RoundTrip(t *testing.T) {
	isolate(t)
	cfg := DefaultConfig()
	cfg.Backend = "op"
	cfg.Item = "CSCS"
	cfg.Timeout = 15 * time.Second
	cfg.KeyDir = "/tmp/keys"
	cfg.Agent.Enabled = true

	data, err := Render(cfg)
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, "# cscs-keygen configuration.")
	assert.Contains(t, text, "timeout: 15s # timeout of each issuance request")
	assert.Contains(t, text, "lifetime: 24h0m0s")
	assert.Contains(t, text, "agent:\n  enabled: true")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestWriteFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")

	require.NoError(t, WriteFile(path, DefaultConfig(), false))
	_, err := os.Stat(path)
	require.NoError(t, err)

	err = WriteFile(path, DefaultConfig(), false)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
	assert.Contains(t, err.Error(), "--force")

	cfg := DefaultConfig()
	cfg.Item = "replaced"
	require.NoError(t, WriteFile(path, cfg, true))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "replaced", loaded.Item)
}

func TestSetValue(t *testing.T) {
	tests := []struct {
		name         string
		initialYAML  string
		key          string
		value        string
		wantContains []string
		check        func(t *testing.T, cfg *Config)
	}{
		{
			name:         "replace top-level value and keep comments",
			initialYAML:  "# mine\nbackend: bw # manager\nitem: old\n",
			key:          "item",
			value:        "new",
			wantContains: []string{"# mine", "# manager", "item: new"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "new", cfg.Item)
			},
		},
		{
			name:         "add missing top-level key",
			initialYAML:  "backend: bw\n",
			key:          "retries",
			value:        "3",
			wantContains: []string{"retries: 3"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3, cfg.Retries)
			},
		},
		{
			name:         "create nested section",
			initialYAML:  "backend: op\n",
			key:          "agent.lifetime",
			value:        "2h",
			wantContains: []string{"agent:", "lifetime: 2h"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 2*time.Hour, cfg.Agent.Lifetime)
			},
		},
		{
			name:         "update nested value",
			initialYAML:  "agent:\n  enabled: false\n  lifetime: 1h\n",
			key:          "agent.enabled",
			value:        "true",
			wantContains: []string{"enabled: true", "lifetime: 1h"},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Agent.Enabled)
				assert.Equal(t, time.Hour, cfg.Agent.Lifetime)
			},
		},
		{
			name:         "empty file",
			initialYAML:  "",
			key:          "backend",
			value:        "op",
			wantContains: []string{"backend: op"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "op", cfg.Backend)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.initialYAML), 0o644))

			require.NoError(t, SetValue(path, tt.key, tt.value))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			for _, want := range tt.wantContains {
				assert.Contains(t, string(data), want)
			}

			cfg, err := LoadFile(path)
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestSetValue_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{name: "unknown key", key: "hosts", value: "x", wantErr: "Unknown config key"},
		{name: "invalid backend", key: "backend", value: "keepass", wantErr: "Unknown password manager"},
		{name: "invalid duration", key: "timeout", value: "soon", wantErr: "Invalid config format"},
		{name: "too many retries", key: "retries", value: "50", wantErr: "at most"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			path := filepath.Join(t.TempDir(), "config.yaml")
			original := "backend: bw\n"
			require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

			err := SetValue(path, tt.key, tt.value)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.IsCode(err, errors.ErrConfig))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, original, string(data), "file is untouched")
		})
	}
}

func TestSetValue_MissingFile(t *testing.T) {
	err := SetValue(filepath.Join(t.TempDir(), "none.yaml"), "item", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config init")
}

func TestKeyNames(t *testing.T) {
	names := KeyNames()
	assert.Len(t, names, len(Keys))
	assert.Equal(t, "agent.enabled", names[0])
	assert.Contains(t, names, "key_dir")
}
