package cli

import (
	"github.com/spf13/cobra"

	"github.com/cscs-keygen/cscs-keygen/internal/errors"
)

// completionCmd generates shell completion scripts
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion scripts for cscs-keygen.

Examples:
  # Bash
  cscs-keygen completion bash > /etc/bash_completion.d/cscs-keygen

  # Zsh
  cscs-keygen completion zsh > "${fpath[1]}/_cscs-keygen"

  # Fish
  cscs-keygen completion fish > ~/.config/fish/completions/cscs-keygen.fish`,
	ValidArgs:   []string{"bash", "zsh", "fish", "powershell"},
	Args:        cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(out)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletion(out)
		default:
			return errors.New(errors.ErrConfig,
				"Unknown shell: "+args[0],
				"Supported shells: bash, zsh, fish, powershell")
		}
	},
}

// completeBackend offers the backend names for the first fetch argument.
func completeBackend(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return backendCommands(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	fetchCmd.ValidArgsFunction = completeBackend
	rootCmd.AddCommand(completionCmd)
}
