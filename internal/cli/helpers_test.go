package cli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/require"
	sshagent "golang.org/x/crypto/ssh/agent"

	"github.com/cscs-keygen/cscs-keygen/internal/agent"
	"github.com/cscs-keygen/cscs-keygen/internal/config"
	"github.com/cscs-keygen/cscs-keygen/internal/keys"
	"github.com/cscs-keygen/cscs-keygen/internal/logger"
	vaulttest "github.com/cscs-keygen/cscs-keygen/internal/vault/testing"
	sshtest "github.com/cscs-keygen/cscs-keygen/pkg/sshutil/testing"
)

const testSeed = "JBSWY3DPEHPK3PXP"

const bwItem = `{"login":{"username":"alice","password":"hunter2","totp":"` + testSeed + `"}}`

// isolate points HOME at a temp dir and clears every variable the CLI reads.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	for _, name := range []string{
		"CSCS_KEYGEN_BACKEND", "CSCS_KEYGEN_ITEM", "CSCS_KEYGEN_ENDPOINT",
		"CSCS_KEYGEN_TIMEOUT", "CSCS_KEYGEN_RETRIES", "CSCS_KEYGEN_KEY_DIR",
		"CSCS_KEYGEN_AGENT_ENABLED", "CSCS_KEYGEN_AGENT_LIFETIME", "CSCS_KEYGEN_OUTPUT_COLOR",
		"BW_ITEM_ID", "BW_SESSION", "OP_SERVICE_ACCOUNT_TOKEN",
	} {
		t.Setenv(name, "")
	}
	t.Chdir(t.TempDir())
	lipgloss.SetColorProfile(termenv.Ascii)
	return home
}

// testEnv replaces the package collaborators for one test.
type testEnv struct {
	Runner  *vaulttest.FakeRunner
	Keyring sshagent.Agent
	Asked   []string
}

func useTestEnv(t *testing.T) *testEnv {
	t.Helper()
	te := &testEnv{
		Runner:  vaulttest.NewFakeRunner("bw"),
		Keyring: sshagent.NewKeyring(),
	}

	saved, savedLog := env, log
	t.Cleanup(func() { env, log = saved, savedLog })

	log = logger.Noop()
	env = deps{
		Runner: te.Runner,
		Agent: func(l logger.Logger) *agent.Registrar {
			return agent.NewWithAgent(te.Keyring, l)
		},
		Confirm: func(q string) (bool, error) {
			te.Asked = append(te.Asked, q)
			return false, nil
		},
		Password: func(string) (string, error) { return "", nil },
		Now:      time.Now,
		SSHConfig: filepath.Join(t.TempDir(), "ssh_config"),
	}
	return te
}

func withoutAgent() func(logger.Logger) *agent.Registrar {
	return func(l logger.Logger) *agent.Registrar {
		return agent.NewWithDialer(func() (sshagent.Agent, io.Closer, error) {
			return nil, nil, agent.ErrNoAgent
		}, l)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := config.DefaultConfig()
	c.KeyDir = filepath.Join(t.TempDir(), "ssh")
	c.Retries = 0
	return c
}

// keyService is a stand-in for the issuance endpoint.
type keyService struct {
	mu       sync.Mutex
	status   int
	kp       *sshtest.KeyPair
	requests []map[string]string
}

func newKeyService(t *testing.T, status int) (*keyService, *httptest.Server) {
	t.Helper()
	ks := &keyService{
		status: status,
		kp:     sshtest.NewKeyPair(t, "alice", time.Now().Add(24*time.Hour)),
	}
	srv := httptest.NewServer(ks)
	t.Cleanup(srv.Close)
	return ks, srv
}

func (ks *keyService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)

	ks.mu.Lock()
	ks.requests = append(ks.requests, body)
	status := ks.status
	ks.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status != http.StatusOK {
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "rejected"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{
		"public":  string(ks.kp.PublicCert),
		"private": string(ks.kp.PrivatePEM),
	})
}

func (ks *keyService) count() int {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return len(ks.requests)
}

// installPair writes a key pair valid until validBefore into c.KeyDir.
func installPair(t *testing.T, c *config.Config, validBefore time.Time) *keys.Material {
	t.Helper()
	kp := sshtest.NewKeyPair(t, "alice", validBefore)
	m, err := keys.NewMaterial(kp.PublicCert, kp.PrivatePEM, time.Now())
	require.NoError(t, err)
	pair := keys.NewPair(c.KeyDir)
	require.NoError(t, keys.NewFileInstaller(pair, logger.Noop()).Install(context.Background(), m, keys.InstallOptions{}))
	return m
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
