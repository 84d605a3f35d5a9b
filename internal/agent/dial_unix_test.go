//go:build !windows

package agent

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sshagent "golang.org/x/crypto/ssh/agent"
)

func TestDialSystem_NoSocket(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	_, _, err := dialSystem()
	assert.ErrorIs(t, err, ErrNoAgent)
	assert.False(t, New(nil).Running())
}

func TestDialSystem_UnixSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "agent.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	keyring := sshagent.NewKeyring()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_ = sshagent.ServeAgent(keyring, conn)
			}()
		}
	}()

	t.Setenv("SSH_AUTH_SOCK", sock)
	r := New(nil)
	require.True(t, r.Running())

	m := testMaterial(t)
	require.NoError(t, r.Add(m, ""))

	ok, err := r.Contains(m.Info().Key)
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, err := keyring.List()
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}
