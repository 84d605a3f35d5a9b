package doctor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// probeTimeout bounds the endpoint probe.
const probeTimeout = 5 * time.Second

// EndpointCheck verifies the key service answers. It sends a HEAD request
// without credentials; any HTTP status counts as reachable.
type EndpointCheck struct {
	URL    string
	Client *http.Client
}

func (c *EndpointCheck) Name() string     { return "endpoint" }
func (c *EndpointCheck) Category() string { return "NETWORK" }

func (c *EndpointCheck) Run(ctx context.Context) CheckResult {
	u, err := url.Parse(c.URL)
	if err != nil || u.Host == "" {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("Invalid endpoint %q", c.URL),
			Suggestion: "Check the 'endpoint' setting",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.URL, nil)
	if err != nil {
		return CheckResult{Name: c.Name(), Status: StatusFail, Message: err.Error()}
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("Cannot reach %s: %v", u.Host, err),
			Suggestion: "Check your network connection and any proxy settings",
		}
	}
	resp.Body.Close()

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (HTTP %d)", u.Host, resp.StatusCode),
	}
}

func (c *EndpointCheck) Fix() error { return nil }
