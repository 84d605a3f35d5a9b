package config

import (
	"time"

	"github.com/cscs-keygen/cscs-keygen/internal/exchange"
)

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// Config represents the cscs-keygen configuration file.
type Config struct {
	Version int `yaml:"version" mapstructure:"version"`

	// Backend is the password manager: "bw" or "op".
	Backend string `yaml:"backend" mapstructure:"backend"`

	// Item names the vault entry holding the CSCS credentials.
	Item string `yaml:"item" mapstructure:"item"`

	// Endpoint is the key issuance URL.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`

	// Timeout bounds each issuance request.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// Retries is how many times a transient failure is retried.
	Retries int `yaml:"retries" mapstructure:"retries"`

	// KeyDir is where the key pair is written. Supports ~ and $VARS.
	KeyDir string `yaml:"key_dir" mapstructure:"key_dir"`

	Agent  AgentConfig  `yaml:"agent" mapstructure:"agent"`
	Output OutputConfig `yaml:"output" mapstructure:"output"`
}

// AgentConfig controls ssh-agent registration after a fetch.
type AgentConfig struct {
	// Enabled adds every fetched key to the agent, as if --add was passed.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Lifetime is the agent lifetime of added keys. Zero means no limit.
	Lifetime time.Duration `yaml:"lifetime" mapstructure:"lifetime"`
}

// OutputConfig controls terminal output formatting.
type OutputConfig struct {
	// Color mode: "auto", "always", or "never".
	// "auto" disables color when output is piped.
	Color string `yaml:"color" mapstructure:"color"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version:  CurrentConfigVersion,
		Endpoint: exchange.DefaultEndpoint,
		Timeout:  exchange.DefaultTimeout,
		Retries:  exchange.DefaultRetries,
		KeyDir:   "~/.ssh",
		Agent: AgentConfig{
			Enabled:  false,
			Lifetime: 24 * time.Hour,
		},
		Output: OutputConfig{
			Color: "auto",
		},
	}
}
