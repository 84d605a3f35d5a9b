package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cscs-keygen/cscs-keygen/internal/config"
	"github.com/cscs-keygen/cscs-keygen/internal/errors"
	"github.com/cscs-keygen/cscs-keygen/internal/logger"
	"github.com/cscs-keygen/cscs-keygen/internal/ui"
)

// skipConfig marks commands that must run without a valid config.
const skipConfig = "skip-config"

// Global flag values.
var (
	cfgFile string
	verbose int
	quiet   bool
	dryRun  bool
	noColor bool
)

// settings collects defaults, the config file, CSCS_KEYGEN_* variables and
// bound command flags.
var settings = config.NewViper()

// Set by PersistentPreRunE.
var (
	cfg        *config.Config
	configPath string
	log        = logger.Noop()
)

var rootCmd = &cobra.Command{
	Use:   "cscs-keygen",
	Short: "Fetch CSCS SSH keys with credentials from your password manager",
	Long: `cscs-keygen requests a signed SSH key pair from the CSCS key service.

Your username, password and TOTP seed are read from Bitwarden (bw) or
1Password (op). The one-time code is computed locally, the key pair is
written to ~/.ssh/cscs-key and ~/.ssh/cscs-key-cert.pub, and it can be
loaded into your SSH agent right away.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./.cscs-keygen.yaml or ~/.config/cscs-keygen/config.yaml)")
	flags.CountVarP(&verbose, "verbose", "v", "more output (repeat for debug logs)")
	flags.BoolVarP(&quiet, "quiet", "q", false, "only print errors")
	flags.BoolVarP(&dryRun, "dry-run", "n", false, "show what would happen without changing anything")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

// setup configures logging and colors, then loads the config unless the
// command is annotated with skipConfig.
func setup(cmd *cobra.Command, _ []string) error {
	level := logger.LevelFromVerbosity(logger.LevelWarn, verbosity())
	log = logger.NewLevelLogger("", level)
	logger.SetDefault(log)

	if cmd.Annotations[skipConfig] == "true" {
		ui.ConfigureColors("auto", noColor)
		return nil
	}

	c, path, err := loadConfig(cfgFile)
	if err != nil {
		ui.ConfigureColors("auto", noColor)
		return err
	}
	cfg, configPath = c, path
	ui.ConfigureColors(cfg.Output.Color, noColor)

	if path != "" {
		log.Debug("using config %s", path)
	}
	return nil
}

func verbosity() int {
	if quiet {
		return -1
	}
	return verbose
}

// loadConfig resolves, reads and validates the config. An empty path means
// no file was found and defaults apply.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.Find(explicit)
	if err != nil {
		return nil, "", err
	}

	c, err := config.Load(settings, path)
	if err != nil {
		return nil, "", err
	}
	if err := config.Validate(c); err != nil {
		return nil, "", err
	}
	return c, path, nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return errors.ExitOK
	}

	if isUnknownCommandError(err) {
		err = usageError(err)
	}
	if ctx.Err() != nil && errors.CodeOf(err) == "" {
		err = errors.WrapWithCode(err, errors.ErrConfig, "Interrupted", "")
	}

	fmt.Fprintln(os.Stderr, err)
	return errors.ExitCode(err)
}

// isUnknownCommandError reports whether cobra rejected the command line.
func isUnknownCommandError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") ||
		strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag")
}

// extractUnknownCommand returns the quoted command name from a cobra
// "unknown command" error, or "" if there is none.
func extractUnknownCommand(err error) string {
	msg := err.Error()
	start := strings.Index(msg, `"`)
	if start == -1 {
		return ""
	}
	end := strings.Index(msg[start+1:], `"`)
	if end == -1 {
		return ""
	}
	return msg[start+1 : start+1+end]
}

func usageError(err error) error {
	if name := extractUnknownCommand(err); name != "" && strings.HasPrefix(err.Error(), "unknown command") {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Unknown command %q", name),
			"Run 'cscs-keygen --help' to see the available commands.")
	}
	return errors.WrapWithCode(err, errors.ErrConfig,
		"Invalid command line",
		"Run 'cscs-keygen --help' for usage.")
}
