package vault

import (
	"context"
	"encoding/json"
	"fmt"
)

type bwStatus struct {
	Status    string `json:"status"`
	UserEmail string `json:"userEmail"`
}

// CheckSession verifies that backend's CLI is installed and can read the
// vault without prompting. It never reads an item. The returned string
// describes the session.
func CheckSession(ctx context.Context, backend Backend, opts Options) (string, error) {
	opts = opts.withDefaults()
	if err := checkInstalled(backend, "", opts); err != nil {
		return "", err
	}

	switch backend {
	case Bitwarden:
		return bitwardenSession(ctx, opts)
	case OnePassword:
		if opts.Getenv(OnePassword.TokenEnv()) != "" {
			return "service account token", nil
		}
		s := &OnePasswordSource{opts: opts}
		if err := s.ensureSession(ctx); err != nil {
			return "", err
		}
		return "signed in", nil
	default:
		return "", fmt.Errorf("unknown backend %q", backend)
	}
}

func bitwardenSession(ctx context.Context, opts Options) (string, error) {
	if opts.Getenv(Bitwarden.TokenEnv()) == "" {
		return "", credentialErr(Bitwarden, NotAuthenticated, "",
			fmt.Errorf("%s is not set", Bitwarden.TokenEnv()))
	}

	out, err := opts.Runner.Run(ctx, "bw", "status")
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", credentialErr(Bitwarden, CommandFailed, "", err)
	}

	var st bwStatus
	if err := json.Unmarshal(out, &st); err != nil {
		return "", credentialErr(Bitwarden, CommandFailed, "",
			fmt.Errorf("decode bw status: %w", err))
	}
	if st.Status != "unlocked" {
		return "", credentialErr(Bitwarden, NotAuthenticated, "",
			fmt.Errorf("vault is %s", st.Status))
	}
	if st.UserEmail != "" {
		return "unlocked for " + st.UserEmail, nil
	}
	return "unlocked", nil
}
