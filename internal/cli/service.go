package cli

import (
	"context"
	"net/http"
	"time"

	"github.com/cscs-keygen/cscs-keygen/internal/agent"
	"github.com/cscs-keygen/cscs-keygen/internal/config"
	"github.com/cscs-keygen/cscs-keygen/internal/exchange"
	"github.com/cscs-keygen/cscs-keygen/internal/keygen"
	"github.com/cscs-keygen/cscs-keygen/internal/keys"
	"github.com/cscs-keygen/cscs-keygen/internal/logger"
	"github.com/cscs-keygen/cscs-keygen/internal/ui"
	"github.com/cscs-keygen/cscs-keygen/internal/vault"
	"github.com/cscs-keygen/cscs-keygen/pkg/sshutil"
)

// deps are the outside-world collaborators of the commands.
type deps struct {
	Runner     vault.Runner
	HTTPClient *http.Client
	Agent      func(log logger.Logger) *agent.Registrar
	Confirm    func(question string) (bool, error)
	Password   func(title string) (string, error)
	Now        func() time.Time
	// SSHConfig is the ssh_config file searched for hosts using the key.
	SSHConfig string
}

func defaultDeps() deps {
	return deps{
		Runner:    vault.ExecRunner{},
		Agent:     agent.New,
		Confirm:   ui.Confirm,
		Password:  ui.Password,
		Now:       time.Now,
		SSHConfig: sshutil.DefaultConfigPath(),
	}
}

// env is swapped out by tests.
var env = defaultDeps()

func (d deps) registrar(c *config.Config, log logger.Logger) *agent.Registrar {
	r := d.Agent(log)
	r.Lifetime = c.Agent.Lifetime
	return r
}

// newService builds a keygen.Service for c. Source and Exchange stay nil
// when source is nil.
func (d deps) newService(c *config.Config, source vault.Source, log logger.Logger, progress keygen.Progress) *keygen.Service {
	pair := keys.NewPair(c.KeyDir)
	svc := &keygen.Service{
		Source:    source,
		Pair:      pair,
		Installer: keys.NewFileInstaller(pair, log),
		Agent:     d.registrar(c, log),
		Confirm:   d.Confirm,
		Passphrase: func(context.Context) (string, error) {
			return d.Password("Passphrase for " + pair.PrivatePath())
		},
		Progress: progress,
		Logger:   log,
		Now:      d.Now,
	}

	if source != nil {
		opts := []exchange.Option{
			exchange.WithTimeout(c.Timeout),
			exchange.WithRetries(c.Retries),
			exchange.WithUserAgent("cscs-keygen/" + GetVersion()),
			exchange.WithLogger(log),
			exchange.WithObserver(retryReporter(log)),
		}
		if d.HTTPClient != nil {
			opts = append(opts, exchange.WithHTTPClient(d.HTTPClient))
		}
		svc.Exchange = exchange.NewClient(c.Endpoint, opts...)
	}
	return svc
}

// retryReporter logs failed attempts that will be retried.
func retryReporter(log logger.Logger) exchange.Observer {
	return func(t exchange.Transition) {
		if t.To == exchange.StateCodeGenerated && t.Err != nil {
			log.Info("attempt %d failed, retrying with the next code: %v", t.Attempt, t.Err)
		}
	}
}

func (d deps) vaultOptions(log logger.Logger) vault.Options {
	return vault.Options{Runner: d.Runner, Logger: log}
}
