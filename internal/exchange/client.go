// Package exchange trades CSCS credentials plus a one-time password for a
// signed SSH key pair.
//
// One RequestKey call walks a small state machine:
//
//	Idle -> CredentialsLoaded -> CodeGenerated -> RequestSent -> Succeeded
//	                                  ^               |
//	                                  +-- transient --+--> Failed
//
// Authentication failures (4xx) end the call immediately. Server errors,
// timeouts and connection failures are retried up to Retries times; each
// retry waits for the next TOTP step so the service never sees the same
// code twice.
package exchange

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	kgerrors "github.com/cscs-keygen/cscs-keygen/internal/errors"
	"github.com/cscs-keygen/cscs-keygen/internal/keys"
	"github.com/cscs-keygen/cscs-keygen/internal/logger"
	"github.com/cscs-keygen/cscs-keygen/internal/passcode"
	"github.com/cscs-keygen/cscs-keygen/internal/vault"
)

// Defaults for a Client.
const (
	DefaultTimeout = 30 * time.Second
	DefaultRetries = 1
)

// KeyRequester is what the fetch workflow needs from a Client.
type KeyRequester interface {
	RequestKey(ctx context.Context, creds vault.Credentials) (*keys.Material, error)
}

var _ KeyRequester = (*Client)(nil)

// Client talks to the key service.
type Client struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
	retries    int
	userAgent  string
	clock      passcode.Clock
	log        logger.Logger
	observer   Observer
	requestID  func() string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. Redirects are never
// followed, whatever the client's own policy.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each attempt. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithClock sets the clock used for codes and retry waits.
func WithClock(clock passcode.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithObserver registers a callback for state transitions.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient returns a client for endpoint. An empty endpoint means
// DefaultEndpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		retries:    DefaultRetries,
		userAgent:  "cscs-keygen",
		clock:      passcode.SystemClock{},
		log:        logger.Noop(),
		requestID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	// Copy so a caller's client keeps its own redirect policy.
	hc := *c.httpClient
	hc.CheckRedirect = refuseRedirect
	c.httpClient = &hc
	return c
}

// refuseRedirect hands 3xx responses back to send instead of re-posting the
// credentials to another location.
func refuseRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// Endpoint returns the URL requests are sent to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// RequestKey obtains a key pair for creds. It sends at most 1+Retries
// requests. Errors unwrap to *AuthError, *TransientError or *ProtocolError.
func (c *Client) RequestKey(ctx context.Context, creds vault.Credentials) (*keys.Material, error) {
	m := &machine{observer: c.observer}

	gen, err := passcode.NewGenerator(creds.TOTPSeed, c.clock)
	if err != nil {
		m.to(StateFailed, err)
		return nil, kgerrors.WrapWithCode(err, kgerrors.ErrCredential,
			"The TOTP seed in the vault item is unusable",
			"Check the item's one-time password field")
	}
	m.to(StateCredentialsLoaded, nil)

	code, err := gen.Generate()
	if err != nil {
		m.to(StateFailed, err)
		return nil, kgerrors.WrapWithCode(err, kgerrors.ErrCredential,
			"Couldn't compute the one-time password", "")
	}

	m.to(StateCodeGenerated, nil)
	for {
		m.attempt++
		c.log.Debug("attempt %d with %s", m.attempt, code)

		m.to(StateRequestSent, nil)
		material, err := c.send(ctx, creds, code)
		if err == nil {
			m.to(StateSucceeded, nil)
			c.log.Info("key %s issued", material.Fingerprint())
			return material, nil
		}

		var te *TransientError
		retryable := errors.As(err, &te) && m.attempt <= c.retries && ctx.Err() == nil
		if !retryable {
			if te != nil {
				te.Attempts = m.attempt
			}
			m.to(StateFailed, err)
			return nil, classify(err)
		}

		c.log.Warn("attempt %d failed: %v; retrying with a fresh code", m.attempt, err)
		next, nextErr := gen.Next(ctx, code)
		if nextErr != nil {
			te.Attempts = m.attempt
			if te.Err != nil {
				te.Err = fmt.Errorf("%w (while waiting to retry: %w)", te.Err, nextErr)
			} else {
				te.Err = nextErr
			}
			m.to(StateFailed, te)
			return nil, classify(te)
		}
		code = next
		m.to(StateCodeGenerated, err)
	}
}

// send performs one attempt.
func (c *Client) send(ctx context.Context, creds vault.Credentials, code passcode.Code) (*keys.Material, error) {
	body, err := encodeRequest(creds.Username, creds.Password, code.Value)
	if err != nil {
		return nil, &ProtocolError{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ProtocolError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(headerRequestID, c.requestID())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		public, private, err := decodeKeyResponse(respBody)
		if err != nil {
			return nil, &ProtocolError{StatusCode: resp.StatusCode, Err: err}
		}
		material, err := keys.NewMaterial(public, private, c.clock.Now())
		if err != nil {
			return nil, &ProtocolError{StatusCode: resp.StatusCode, Err: err}
		}
		return material, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &AuthError{StatusCode: resp.StatusCode, Reason: decodeErrorMessage(respBody)}

	case resp.StatusCode >= 500:
		reason := decodeErrorMessage(respBody)
		var cause error
		if reason != "" {
			cause = errors.New(reason)
		}
		return nil, &TransientError{StatusCode: resp.StatusCode, Err: cause}

	default:
		return nil, &ProtocolError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
}

// classify attaches the CLI error code and a suggestion to a typed failure.
func classify(err error) error {
	var (
		ae *AuthError
		te *TransientError
		pe *ProtocolError
	)
	switch {
	case errors.As(err, &ae):
		return kgerrors.WrapWithCode(err, kgerrors.ErrAuth,
			"The key service rejected your credentials",
			"Check the username, password and TOTP seed in your password manager")
	case errors.As(err, &te):
		if errors.Is(err, context.Canceled) {
			return kgerrors.WrapWithCode(err, kgerrors.ErrTransient, "Key request canceled", "")
		}
		return kgerrors.WrapWithCode(err, kgerrors.ErrTransient,
			"The key service is unreachable",
			"Check your network connection and try again in a minute")
	case errors.As(err, &pe):
		return kgerrors.WrapWithCode(err, kgerrors.ErrProtocol,
			"The key service sent a response cscs-keygen doesn't understand",
			"Check --endpoint, or report the problem with -vv output")
	default:
		return err
	}
}
