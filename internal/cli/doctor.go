package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/cscs-keygen/cscs-keygen/internal/config"
	"github.com/cscs-keygen/cscs-keygen/internal/doctor"
	"github.com/cscs-keygen/cscs-keygen/internal/errors"
	"github.com/cscs-keygen/cscs-keygen/internal/keys"
	"github.com/cscs-keygen/cscs-keygen/internal/ui"
)

var (
	doctorJSON    bool
	doctorFix     bool
	doctorOffline bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the setup",
	Long: `Check everything fetch and add depend on: the config file, the password
manager CLI and its session, the SSH agent, the key directory and pair, the
ssh_config hosts and the key service.

Exits with status 1 when a check fails.`,
	Example: `  cscs-keygen doctor
  cscs-keygen doctor --fix
  cscs-keygen doctor --json`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDoctor(cmd.Context(), cmd.OutOrStdout(), doctorOptions{
			ConfigPath: cfgFile,
			JSON:       doctorJSON,
			Fix:        doctorFix,
			Offline:    doctorOffline,
		})
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "output in JSON format")
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "attempt automatic fixes where possible")
	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "skip the key service reachability check")
	rootCmd.AddCommand(doctorCmd)
}

// DoctorOutput represents the JSON output for doctor command.
type DoctorOutput struct {
	Categories []CategoryOutput `json:"categories"`
	Summary    SummaryOutput    `json:"summary"`
}

// CategoryOutput represents a category of check results.
type CategoryOutput struct {
	Name    string               `json:"name"`
	Results []doctor.CheckResult `json:"results"`
}

// SummaryOutput summarizes the check results.
type SummaryOutput struct {
	Pass     int  `json:"pass"`
	Warn     int  `json:"warn"`
	Fail     int  `json:"fail"`
	Fixable  int  `json:"fixable"`
	AllClear bool `json:"all_clear"`
}

type doctorOptions struct {
	ConfigPath string
	JSON       bool
	Fix        bool
	Offline    bool
}

func runDoctor(ctx context.Context, out io.Writer, opts doctorOptions) error {
	checks := collectChecks(opts)

	results := doctor.RunAllParallel(ctx, checks)
	if opts.Fix {
		results = doctor.AttemptFixes(ctx, checks, results)
	}

	var err error
	if opts.JSON {
		err = outputDoctorJSON(out, checks, results)
	} else {
		outputDoctorText(out, checks, results, opts.Fix)
	}
	if err != nil {
		return err
	}

	if doctor.HasFailures(results) {
		return errors.New(errors.ErrConfig,
			doctor.Summary(results),
			"Fix the failed checks above and run 'cscs-keygen doctor' again.")
	}
	return nil
}

// collectChecks gathers all diagnostic checks. A config that fails to load
// is reported by the config checks; the others fall back to defaults.
func collectChecks(opts doctorOptions) []doctor.Check {
	checks := doctor.NewConfigChecks(opts.ConfigPath)

	c, _, err := loadConfig(opts.ConfigPath)
	if err != nil {
		c = config.DefaultConfig()
		c.KeyDir = config.ExpandPath(c.KeyDir)
	}

	checks = append(checks, doctor.NewVaultChecks(c.Backend, c.Item, env.vaultOptions(log))...)

	pair := keys.NewPair(c.KeyDir)
	checks = append(checks, doctor.NewSSHChecks(pair, env.registrar(c, log), env.SSHConfig)...)

	if !opts.Offline {
		checks = append(checks, &doctor.EndpointCheck{URL: c.Endpoint, Client: env.HTTPClient})
	}
	return checks
}

func outputDoctorJSON(out io.Writer, checks []doctor.Check, results []doctor.CheckResult) error {
	grouped := make(map[string][]doctor.CheckResult)
	for i, check := range checks {
		grouped[check.Category()] = append(grouped[check.Category()], results[i])
	}

	output := DoctorOutput{Categories: []CategoryOutput{}}
	for _, cat := range doctor.Categories(checks) {
		output.Categories = append(output.Categories, CategoryOutput{
			Name:    cat,
			Results: grouped[cat],
		})
	}

	counts := doctor.CountByStatus(results)
	output.Summary = SummaryOutput{
		Pass:     counts[doctor.StatusPass],
		Warn:     counts[doctor.StatusWarn],
		Fail:     counts[doctor.StatusFail],
		Fixable:  doctor.FixableCount(results),
		AllClear: !doctor.HasIssues(results),
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

func outputDoctorText(out io.Writer, checks []doctor.Check, results []doctor.CheckResult, fixed bool) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, ui.HeadingStyle().Render("cscs-keygen diagnostic report"))
	fmt.Fprintln(out)

	grouped := make(map[string][]int)
	for i, check := range checks {
		grouped[check.Category()] = append(grouped[check.Category()], i)
	}

	for _, category := range doctor.Categories(checks) {
		fmt.Fprintln(out, ui.HeadingStyle().Render(category))
		for _, idx := range grouped[category] {
			renderCheckResult(out, results[idx])
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, strings.Repeat("━", 60))
	fmt.Fprintln(out)

	counts := doctor.CountByStatus(results)
	if !doctor.HasIssues(results) {
		fmt.Fprintf(out, "%s %s\n", ui.SuccessStyle().Render(ui.SymbolSuccess), "Everything looks good")
	} else {
		total := counts[doctor.StatusFail] + counts[doctor.StatusWarn]
		fmt.Fprintf(out, "%s %d issue%s found\n",
			ui.ErrorStyle().Render(ui.SymbolFail),
			total,
			pluralSuffix(total),
		)

		if doctor.FixableCount(results) > 0 && !fixed {
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Run with %s to attempt automatic fixes where possible.\n",
				ui.MutedStyle().Render("--fix"))
		}
	}
	fmt.Fprintln(out)
}

func renderCheckResult(out io.Writer, result doctor.CheckResult) {
	var symbol string
	var style lipgloss.Style

	switch result.Status {
	case doctor.StatusPass:
		symbol, style = ui.SymbolSuccess, ui.SuccessStyle()
	case doctor.StatusWarn:
		symbol, style = ui.SymbolWarning, ui.WarningStyle()
	default:
		symbol, style = ui.SymbolFail, ui.ErrorStyle()
	}

	fmt.Fprintf(out, "  %s %s\n", style.Render(symbol), result.Message)

	if result.Suggestion != "" && result.Status != doctor.StatusPass {
		for _, line := range strings.Split(result.Suggestion, "\n") {
			fmt.Fprintf(out, "    %s\n", ui.MutedStyle().Render(line))
		}
	}
}

// pluralSuffix returns "s" if n != 1.
func pluralSuffix(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
