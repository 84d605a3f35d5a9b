package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/cscs-keygen/cscs-keygen/internal/errors"
	"github.com/cscs-keygen/cscs-keygen/internal/vault"
)

// MaxRetries caps retries. Each retry waits for a fresh TOTP step.
const MaxRetries = 5

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.ErrConfig,
			"Config is nil",
			"This is unexpected - try reloading the configuration.")
	}

	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but cscs-keygen only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Upgrade cscs-keygen to a newer release.")
	}

	if cfg.Backend != "" {
		if _, err := vault.ParseBackend(cfg.Backend); err != nil {
			return err
		}
	}

	if err := validateEndpoint(cfg.Endpoint); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'endpoint' setting.")
	}

	if err := validateExchange(cfg.Timeout, cfg.Retries); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'timeout' and 'retries' settings.")
	}

	if strings.TrimSpace(cfg.KeyDir) == "" {
		return errors.New(errors.ErrConfig,
			"key_dir is empty",
			"Set key_dir to a directory, for example ~/.ssh.")
	}

	if cfg.Agent.Lifetime < 0 {
		return errors.New(errors.ErrConfig,
			"agent.lifetime can't be negative",
			"Use 0 for no limit or a duration like 24h.")
	}

	if err := validateOutput(cfg.Output); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'output' section of your config.")
	}

	return nil
}

// validateEndpoint requires https, except for loopback hosts.
func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("endpoint is empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("endpoint '%s' isn't a valid URL: %v", endpoint, err)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint '%s' has no host", endpoint)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopback(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("endpoint '%s' must use https - credentials are sent in the request", endpoint)
	default:
		return fmt.Errorf("endpoint '%s' has unsupported scheme '%s'", endpoint, u.Scheme)
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func validateExchange(timeout time.Duration, retries int) error {
	if timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", timeout)
	}
	if retries < 0 {
		return fmt.Errorf("retries can't be negative")
	}
	if retries > MaxRetries {
		return fmt.Errorf("retries is %d, at most %d are allowed", retries, MaxRetries)
	}
	return nil
}

func validateOutput(out OutputConfig) error {
	validColors := map[string]bool{"auto": true, "always": true, "never": true, "": true}
	if !validColors[out.Color] {
		return fmt.Errorf("output.color '%s' isn't valid - use 'auto', 'always', or 'never'", out.Color)
	}
	return nil
}
