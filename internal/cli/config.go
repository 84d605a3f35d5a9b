package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/cscs-keygen/cscs-keygen/internal/config"
	"github.com/cscs-keygen/cscs-keygen/internal/errors"
	"github.com/cscs-keygen/cscs-keygen/internal/ui"
	"github.com/cscs-keygen/cscs-keygen/internal/vault"
)

var (
	initForce          bool
	initBackend        string
	initItem           string
	initNonInteractive bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the config file",
	Long: `Manage the cscs-keygen config file.

The file is looked up as --config, then ./.cscs-keygen.yaml, then
~/.config/cscs-keygen/config.yaml. Every key can also be set through a
CSCS_KEYGEN_<KEY> environment variable, e.g. CSCS_KEYGEN_AGENT_ENABLED=true.`,
	Annotations: map[string]string{skipConfig: "true"},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file",
	Long: `Write a config file with the defaults plus your password manager and item.
Without --backend and --item you are asked for them.`,
	Example: `  cscs-keygen config init
  cscs-keygen config init --backend bw --item cscs --non-interactive`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInit(cmd.OutOrStdout(), InitOptions{
			Path:           targetConfigPath(),
			Backend:        initBackend,
			Item:           initItem,
			Overwrite:      initForce,
			NonInteractive: initNonInteractive || !ui.IsTerminal(os.Stdin),
		})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Long: "Change one setting in the config file, keeping its comments.\n\nKeys:\n" + keyHelp(),
	Example: `  cscs-keygen config set backend op
  cscs-keygen config set agent.enabled true`,
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := targetConfigPath()
		if err := config.SetValue(path, args[0], args[1]); err != nil {
			return err
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s in %s\n",
				ui.SuccessStyle().Render(ui.SymbolSuccess), args[0], args[1], path)
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:         "path",
	Short:       "Print the config file in use",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.Find(cfgFile)
		if err != nil {
			return err
		}
		if path == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (not created yet)\n", config.GlobalPath())
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Long:  "Print the settings after defaults, the config file and CSCS_KEYGEN_* variables are merged.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.Render(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config file")
	configInitCmd.Flags().StringVar(&initBackend, "backend", "", "password manager ("+strings.Join(backendCommands(), ", ")+")")
	configInitCmd.Flags().StringVar(&initItem, "item", "", "vault item with the CSCS credentials")
	configInitCmd.Flags().BoolVar(&initNonInteractive, "non-interactive", false, "don't prompt, use flags and defaults")

	configCmd.AddCommand(configInitCmd, configSetCmd, configPathCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

// targetConfigPath is where init and set write: --config, an existing file,
// or the global location.
func targetConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if path, err := config.Find(""); err == nil && path != "" {
		return path
	}
	return config.GlobalPath()
}

func keyHelp() string {
	var b strings.Builder
	for _, key := range config.KeyNames() {
		fmt.Fprintf(&b, "  %-16s %s\n", key, config.Keys[key])
	}
	return b.String()
}

// InitOptions holds options for config init.
type InitOptions struct {
	Path           string
	Backend        string
	Item           string
	Overwrite      bool
	NonInteractive bool
}

func configInit(out io.Writer, opts InitOptions) error {
	if _, err := os.Stat(opts.Path); err == nil && !opts.Overwrite {
		if opts.NonInteractive {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Config file already exists: %s", opts.Path),
				"Use --force to overwrite it")
		}
		ok, err := env.Confirm(fmt.Sprintf("Config file '%s' already exists. Overwrite?", opts.Path))
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to get user input",
				"Try running with --force to overwrite")
		}
		if !ok {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
		opts.Overwrite = true
	}

	c := config.DefaultConfig()
	c.Backend, c.Item = opts.Backend, opts.Item

	if !opts.NonInteractive && (c.Backend == "" || c.Item == "") {
		if err := promptTarget(c); err != nil {
			return err
		}
	}

	if c.Backend != "" {
		b, err := vault.ParseBackend(c.Backend)
		if err != nil {
			return err
		}
		c.Backend = b.Command()
	}
	if err := config.Validate(c); err != nil {
		return err
	}

	if err := config.WriteFile(opts.Path, c, opts.Overwrite); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s Wrote %s\n", ui.SuccessStyle().Render(ui.SymbolSuccess), opts.Path)
	if c.Backend == "" || c.Item == "" {
		fmt.Fprintf(out, "  %s\n", ui.MutedStyle().Render("Set the vault item with: cscs-keygen config set backend bw && cscs-keygen config set item <name>"))
	} else {
		fmt.Fprintf(out, "  %s\n", ui.MutedStyle().Render("Next: cscs-keygen doctor, then cscs-keygen fetch"))
	}
	return nil
}

func promptTarget(c *config.Config) error {
	options := make([]huh.Option[string], 0, len(vault.Backends()))
	for _, b := range vault.Backends() {
		options = append(options, huh.NewOption(fmt.Sprintf("%s (%s)", b.DisplayName(), b.Command()), b.Command()))
	}
	if c.Backend == "" {
		c.Backend = vault.Bitwarden.Command()
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Password manager").
				Options(options...).
				Value(&c.Backend),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Vault item").
				Description("Name or ID of the item holding your CSCS username, password and TOTP").
				Placeholder("cscs").
				Value(&c.Item).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("item is required")
					}
					return nil
				}),
		),
	)

	if err := form.Run(); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to get user input",
			"Pass --backend and --item, or use --non-interactive")
	}
	c.Item = strings.TrimSpace(c.Item)
	return nil
}
