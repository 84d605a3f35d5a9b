package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cscs-keygen/cscs-keygen/internal/keys"
)

func TestRunStatus_NoKeys(t *testing.T) {
	isolate(t)
	useTestEnv(t)
	c := testConfig(t)

	var out bytes.Buffer
	require.NoError(t, runStatus(&out, c, false))

	text := out.String()
	assert.Contains(t, text, keys.NewPair(c.KeyDir).PrivatePath())
	assert.Contains(t, text, "missing, run 'cscs-keygen fetch'")
	assert.Contains(t, text, "none use this key")
	assert.NotContains(t, text, "Fingerprint")
}

func TestRunStatus_WithKeyAndHosts(t *testing.T) {
	isolate(t)
	te := useTestEnv(t)
	c := testConfig(t)
	m := installPair(t, c, time.Now().Add(90*time.Minute))
	pair := keys.NewPair(c.KeyDir)

	writeFile(t, env.SSHConfig, "Host daint\n"+
		"  HostName daint.cscs.ch\n"+
		"  User alice\n"+
		"  IdentityFile "+pair.PrivatePath()+"\n"+
		"\n"+
		"Host other\n"+
		"  HostName example.org\n")

	var out bytes.Buffer
	require.NoError(t, runStatus(&out, c, false))
	text := out.String()
	assert.Contains(t, text, m.Fingerprint())
	assert.Contains(t, text, "in 1h29m")
	assert.Contains(t, text, "alice")
	assert.Contains(t, text, "running, key not loaded")
	assert.Contains(t, text, "daint")
	assert.NotContains(t, text, "example.org")

	require.NoError(t, runAdd(t.Context(), &bytes.Buffer{}, c, false, true))
	loaded, err := te.Keyring.List()
	require.NoError(t, err)
	require.NotEmpty(t, loaded)

	out.Reset()
	require.NoError(t, runStatus(&out, c, false))
	assert.Contains(t, out.String(), "key loaded")
}

func TestRunStatus_JSON(t *testing.T) {
	isolate(t)
	useTestEnv(t)
	env.Agent = withoutAgent()
	c := testConfig(t)
	m := installPair(t, c, time.Now().Add(time.Hour))

	var out bytes.Buffer
	require.NoError(t, runStatus(&out, c, true))

	var got StatusOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.True(t, got.Present)
	assert.Equal(t, m.Fingerprint(), got.Fingerprint)
	assert.Equal(t, []string{"alice"}, got.Principals)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(m.ExpiresAt))
	assert.False(t, got.Expired)
	assert.False(t, got.AgentRunning)
	assert.Empty(t, got.Hosts)
	assert.NotNil(t, got.Hosts, "hosts is an empty list, not null")
}

func TestRunStatus_Expired(t *testing.T) {
	isolate(t)
	useTestEnv(t)
	c := testConfig(t)
	installPair(t, c, time.Now().Add(-time.Minute))

	var out bytes.Buffer
	require.NoError(t, runStatus(&out, c, false))
	assert.Contains(t, out.String(), "(expired)")
}
