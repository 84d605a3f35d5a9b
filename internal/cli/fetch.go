package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cscs-keygen/cscs-keygen/internal/config"
	"github.com/cscs-keygen/cscs-keygen/internal/errors"
	"github.com/cscs-keygen/cscs-keygen/internal/exchange"
	"github.com/cscs-keygen/cscs-keygen/internal/keygen"
	"github.com/cscs-keygen/cscs-keygen/internal/ui"
	"github.com/cscs-keygen/cscs-keygen/internal/vault"
)

var (
	fetchForce bool
	fetchAdd   bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [backend] [item]",
	Short: "Fetch a new signed key pair",
	Long: `Fetch a new signed SSH key pair from the CSCS key service.

The backend is bw (Bitwarden) or op (1Password). The item holds your CSCS
username, password and TOTP seed; a custom "passphrase" field, when present,
encrypts the private key on disk.

Backend and item default to the 'backend' and 'item' config keys, or the
CSCS_KEYGEN_BACKEND and CSCS_KEYGEN_ITEM environment variables. BW_ITEM_ID is
still honored for the item.`,
	Example: `  cscs-keygen fetch bw cscs
  cscs-keygen fetch op "CSCS account" --add
  cscs-keygen fetch --force
  cscs-keygen fetch --dry-run`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := fetchOptions{
			Force:  fetchForce,
			Add:    fetchAdd || cfg.Agent.Enabled,
			DryRun: dryRun,
			Quiet:  quiet,
		}
		if len(args) > 0 {
			opts.Backend = args[0]
		}
		if len(args) > 1 {
			opts.Item = args[1]
		}
		return runFetch(cmd.Context(), cmd.OutOrStdout(), cfg, opts)
	},
}

func init() {
	flags := fetchCmd.Flags()
	flags.BoolVarP(&fetchForce, "force", "f", false, "replace an existing key pair without asking")
	flags.BoolVarP(&fetchAdd, "add", "a", false, "add the new key to the SSH agent")
	flags.String("endpoint", exchange.DefaultEndpoint, "key service URL")
	flags.Duration("timeout", exchange.DefaultTimeout, "timeout for each request")
	flags.Int("retries", exchange.DefaultRetries, "retries after a server or network error")
	flags.String("key-dir", "~/.ssh", "directory the key pair is written to")

	bindFlag(fetchCmd, "endpoint", "endpoint")
	bindFlag(fetchCmd, "timeout", "timeout")
	bindFlag(fetchCmd, "retries", "retries")
	bindFlag(fetchCmd, "key_dir", "key-dir")

	rootCmd.AddCommand(fetchCmd)
}

// bindFlag makes a command flag override the config key.
func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := settings.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("binding --%s: %v", flag, err))
	}
}

type fetchOptions struct {
	Backend string
	Item    string
	Force   bool
	Add     bool
	DryRun  bool
	Quiet   bool
}

// resolveTarget picks the backend and item from the arguments, falling back
// to the config.
func resolveTarget(c *config.Config, backend, item string) (vault.Backend, string, error) {
	if backend == "" {
		backend = c.Backend
	}
	if item == "" {
		item = c.Item
	}

	if strings.TrimSpace(backend) == "" {
		return "", "", errors.New(errors.ErrConfig,
			"No password manager selected",
			fmt.Sprintf("Pass one (cscs-keygen fetch <%s> <item>) or set 'backend' in the config", strings.Join(backendCommands(), "|")))
	}
	b, err := vault.ParseBackend(backend)
	if err != nil {
		return "", "", err
	}
	return b, strings.TrimSpace(item), nil
}

func backendCommands() []string {
	var names []string
	for _, b := range vault.Backends() {
		names = append(names, b.Command())
	}
	return names
}

func runFetch(ctx context.Context, out io.Writer, c *config.Config, opts fetchOptions) error {
	backend, item, err := resolveTarget(c, opts.Backend, opts.Item)
	if err != nil {
		return err
	}

	source, err := vault.New(backend, item, env.vaultOptions(log))
	if err != nil {
		return err
	}

	svc := env.newService(c, source, log, ui.NewSteps(opts.Quiet))
	if opts.DryRun {
		svc.Confirm = func(string) (bool, error) { return true, nil }
	}

	res, err := svc.Fetch(ctx, keygen.FetchOptions{
		Force:      opts.Force,
		DryRun:     opts.DryRun,
		AddToAgent: opts.Add,
	})
	if res != nil && !opts.Quiet {
		if opts.DryRun {
			fmt.Fprint(out, renderPlan(res.Plan))
		} else {
			fmt.Fprint(out, renderFetchResult(res, env.Now()))
		}
	}
	return err
}

func renderPlan(plan []string) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(ui.Heading("Dry run, nothing was changed. Would:"))
	b.WriteString("\n")
	for _, step := range plan {
		fmt.Fprintf(&b, "  %s %s\n", ui.MutedStyle().Render("-"), step)
	}
	return b.String()
}

func renderFetchResult(res *keygen.FetchResult, now time.Time) string {
	fields := []ui.Field{
		{Label: "Private key", Value: res.Pair.PrivatePath()},
		{Label: "Certificate", Value: res.Pair.CertificatePath()},
	}
	if m := res.Material; m != nil {
		fields = append(fields,
			ui.Field{Label: "Fingerprint", Value: m.Fingerprint()},
			ui.Field{Label: "Expires", Value: formatExpiry(m.ExpiresAt, now)},
		)
	}
	agentState := "not added (run 'cscs-keygen add')"
	if res.Added {
		agentState = "added"
	}
	fields = append(fields, ui.Field{Label: "SSH agent", Value: agentState})

	title := "Key pair saved"
	if res.Replaced {
		title = "Key pair replaced"
	}

	var b strings.Builder
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s\n", ui.SuccessStyle().Render(ui.SymbolSuccess), ui.HeadingStyle().Render(title))
	b.WriteString(ui.RenderFields(fields))
	return b.String()
}

// formatExpiry renders an absolute expiry with the time left.
func formatExpiry(at, now time.Time) string {
	if at.IsZero() {
		return "unknown"
	}
	stamp := at.Local().Format("2006-01-02 15:04 MST")
	if !now.Before(at) {
		return stamp + " (expired)"
	}
	return fmt.Sprintf("%s (in %s)", stamp, formatRemaining(at.Sub(now)))
}

// formatRemaining renders d as "23h59m", "2h" or "45m".
func formatRemaining(d time.Duration) string {
	d = d.Truncate(time.Minute)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	default:
		return "less than a minute"
	}
}
