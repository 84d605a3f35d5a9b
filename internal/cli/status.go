package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cscs-keygen/cscs-keygen/internal/config"
	"github.com/cscs-keygen/cscs-keygen/internal/errors"
	"github.com/cscs-keygen/cscs-keygen/internal/keygen"
	"github.com/cscs-keygen/cscs-keygen/internal/ui"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the key pair, its expiry and the agent state",
	Long: `Show where the key pair lives, its fingerprint and expiry, whether the
SSH agent has it loaded, and which ssh_config hosts use it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.OutOrStdout(), cfg, statusJSON)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output in JSON format")
	rootCmd.AddCommand(statusCmd)
}

// StatusOutput is the JSON form of the status command.
type StatusOutput struct {
	PrivateKey   string     `json:"private_key"`
	Certificate  string     `json:"certificate"`
	Present      bool       `json:"present"`
	Fingerprint  string     `json:"fingerprint,omitempty"`
	Principals   []string   `json:"principals,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Expired      bool       `json:"expired"`
	Encrypted    bool       `json:"encrypted"`
	Error        string     `json:"error,omitempty"`
	AgentRunning bool       `json:"agent_running"`
	InAgent      bool       `json:"in_agent"`
	Hosts        []string   `json:"hosts"`
}

func runStatus(out io.Writer, c *config.Config, asJSON bool) error {
	svc := env.newService(c, nil, log, nil)
	st := svc.Status(env.SSHConfig)

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(statusOutput(st))
	}

	fmt.Fprint(out, renderStatus(st, env.Now()))
	return nil
}

func statusOutput(st *keygen.Status) StatusOutput {
	o := StatusOutput{
		PrivateKey:   st.PrivatePath,
		Certificate:  st.CertificatePath,
		Present:      st.Complete,
		Fingerprint:  st.Fingerprint,
		Principals:   st.Principals,
		Expired:      st.Expired,
		Encrypted:    st.Encrypted,
		AgentRunning: st.AgentRunning,
		InAgent:      st.InAgent,
		Hosts:        hostAliases(st),
	}
	if !st.ExpiresAt.IsZero() {
		at := st.ExpiresAt
		o.ExpiresAt = &at
	}
	if st.LoadError != nil {
		msg, _ := errors.Describe(st.LoadError)
		o.Error = msg
	}
	return o
}

func hostAliases(st *keygen.Status) []string {
	aliases := make([]string, 0, len(st.Hosts))
	for _, h := range st.Hosts {
		aliases = append(aliases, h.Alias)
	}
	return aliases
}

func renderStatus(st *keygen.Status, now time.Time) string {
	var b strings.Builder

	b.WriteString(ui.Heading("Key pair"))
	b.WriteString("\n")

	fields := []ui.Field{
		{Label: "Private key", Value: st.PrivatePath},
		{Label: "Certificate", Value: st.CertificatePath},
	}

	switch {
	case !st.Exists:
		fields = append(fields, ui.Field{Label: "State", Value: ui.WarningStyle().Render("missing, run 'cscs-keygen fetch'")})
	case !st.Complete:
		fields = append(fields, ui.Field{Label: "State", Value: ui.ErrorStyle().Render("incomplete, run 'cscs-keygen fetch --force'")})
	case st.LoadError != nil:
		msg, _ := errors.Describe(st.LoadError)
		fields = append(fields, ui.Field{Label: "State", Value: ui.ErrorStyle().Render(msg)})
	default:
		expiry := formatExpiry(st.ExpiresAt, now)
		if st.Expired {
			expiry = ui.ErrorStyle().Render(expiry)
		}
		fields = append(fields,
			ui.Field{Label: "Fingerprint", Value: st.Fingerprint},
			ui.Field{Label: "Expires", Value: expiry},
		)
		if len(st.Principals) > 0 {
			fields = append(fields, ui.Field{Label: "Principals", Value: strings.Join(st.Principals, ", ")})
		}
		if st.Encrypted {
			fields = append(fields, ui.Field{Label: "Passphrase", Value: "yes"})
		}
	}
	b.WriteString(ui.RenderFields(fields))

	b.WriteString("\n")
	b.WriteString(ui.Heading("SSH agent"))
	b.WriteString("\n")
	var agentState string
	switch {
	case !st.AgentRunning:
		agentState = ui.WarningStyle().Render("not running")
	case st.InAgent:
		agentState = ui.SuccessStyle().Render("key loaded")
	case st.Complete && st.LoadError == nil:
		agentState = "running, key not loaded (run 'cscs-keygen add')"
	default:
		agentState = "running"
	}
	b.WriteString(ui.RenderFields([]ui.Field{{Label: "State", Value: agentState}}))

	b.WriteString("\n")
	b.WriteString(ui.Heading("ssh_config hosts"))
	b.WriteString("\n")
	if len(st.Hosts) == 0 {
		fmt.Fprintf(&b, "  %s\n", ui.MutedStyle().Render("none use this key"))
	} else {
		for _, h := range st.Hosts {
			if desc := h.Description(); desc != h.Alias {
				fmt.Fprintf(&b, "  %s %s\n", h.Alias, ui.MutedStyle().Render(desc))
				continue
			}
			fmt.Fprintf(&b, "  %s\n", h.Alias)
		}
	}
	return b.String()
}
