//go:build windows

package agent

import (
	"io"
	"os"

	"github.com/Microsoft/go-winio"
	"github.com/davidmz/go-pageant"
	sshagent "golang.org/x/crypto/ssh/agent"
)

const openSSHPipe = `\\.\pipe\openssh-ssh-agent`

// dialSystem prefers a Pageant-compatible agent and falls back to the
// OpenSSH for Windows named pipe (or SSH_AUTH_SOCK when set).
func dialSystem() (sshagent.Agent, io.Closer, error) {
	if pageant.Available() {
		return pageant.New(), nil, nil
	}

	pipe := os.Getenv("SSH_AUTH_SOCK")
	if pipe == "" {
		pipe = openSSHPipe
	}

	conn, err := winio.DialPipe(pipe, nil)
	if err != nil {
		return nil, nil, err
	}
	return sshagent.NewClient(conn), conn, nil
}
