// Package cli implements the cscs-keygen command-line interface.
//
// Commands are package-level cobra.Command values registered in init. Each
// RunE collects its flags into an options struct and hands off to a run
// function that takes the loaded config and an io.Writer, so the commands
// can be tested without a terminal.
//
// # Command Structure
//
//	cscs-keygen fetch [backend] [item]  - Fetch a new signed key pair
//	cscs-keygen add                     - Add the key pair to the SSH agent
//	cscs-keygen status                  - Show the key pair and agent state
//	cscs-keygen doctor                  - Diagnose the setup
//	cscs-keygen config [init|set|path|show]
//	cscs-keygen version
//
// # Configuration
//
// PersistentPreRunE resolves the config file (--config, ./.cscs-keygen.yaml,
// ~/.config/cscs-keygen/config.yaml), merges CSCS_KEYGEN_* variables and
// bound flags through viper, and validates the result. Commands annotated
// with skipConfig (doctor, config, version, completion) run even when the
// config is broken, since they are how it gets fixed.
//
// # Exit Codes
//
// Execute returns errors.ExitCode of the command error. Usage mistakes
// and config errors exit 1; the other codes follow the error code of the
// failing step (credential 2, auth 3, transient 4, install 5, agent 6,
// existing keys 7).
package cli
