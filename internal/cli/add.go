package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cscs-keygen/cscs-keygen/internal/config"
	"github.com/cscs-keygen/cscs-keygen/internal/keygen"
	"github.com/cscs-keygen/cscs-keygen/internal/ui"
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add the existing key pair to the SSH agent",
	Long: `Add the key pair from a previous fetch to the running SSH agent.

The key must not be expired. Keys protected with a passphrase prompt for it.
Keys are added with the lifetime from 'agent.lifetime' (24h by default).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdd(cmd.Context(), cmd.OutOrStdout(), cfg, dryRun, quiet)
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
}

func runAdd(ctx context.Context, out io.Writer, c *config.Config, dry, silent bool) error {
	svc := env.newService(c, nil, log, ui.NewSteps(silent))

	res, err := svc.Add(ctx, keygen.AddOptions{DryRun: dry})
	if err != nil {
		return err
	}
	if silent {
		return nil
	}

	switch {
	case res.DryRun:
		fmt.Fprintf(out, "Would add %s to the SSH agent\n", svc.Pair.PrivatePath())
	case res.AlreadyLoaded:
		fmt.Fprintf(out, "%s Key is already loaded in the SSH agent\n", ui.WarningStyle().Render(ui.SymbolWarning))
	default:
		fmt.Fprintf(out, "%s Key added to the SSH agent, valid until %s\n",
			ui.SuccessStyle().Render(ui.SymbolSuccess),
			formatExpiry(res.Material.ExpiresAt, env.Now()))
	}
	return nil
}
