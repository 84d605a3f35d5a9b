//go:build !windows

package agent

import (
	"io"
	"net"
	"os"

	sshagent "golang.org/x/crypto/ssh/agent"
)

// dialSystem connects to the agent socket named by SSH_AUTH_SOCK.
func dialSystem() (sshagent.Agent, io.Closer, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, nil, ErrNoAgent
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, nil, err
	}
	return sshagent.NewClient(conn), conn, nil
}
