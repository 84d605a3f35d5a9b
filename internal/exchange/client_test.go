package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgerrors "github.com/cscs-keygen/cscs-keygen/internal/errors"
	"github.com/cscs-keygen/cscs-keygen/internal/logger"
	"github.com/cscs-keygen/cscs-keygen/internal/passcode"
	passcodetest "github.com/cscs-keygen/cscs-keygen/internal/passcode/testing"
	"github.com/cscs-keygen/cscs-keygen/internal/vault"
	sshtest "github.com/cscs-keygen/cscs-keygen/pkg/sshutil/testing"
)

const testSeed = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

var testStart = time.Unix(1700000012, 0)

func testCreds() vault.Credentials {
	return vault.Credentials{Username: "alice", Password: "hunter2", TOTPSeed: testSeed}
}

type recordedRequest struct {
	Body    issuanceRequest
	Headers http.Header
}

// fakeService replies with the scripted responses in order, repeating the
// last one once the script runs out.
type fakeService struct {
	t         *testing.T
	mu        sync.Mutex
	responses []func(w http.ResponseWriter, r *http.Request)
	requests  []recordedRequest
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body issuanceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		f.t.Errorf("decode request body: %v", err)
	}

	f.mu.Lock()
	n := len(f.requests)
	f.requests = append(f.requests, recordedRequest{Body: body, Headers: r.Header.Clone()})
	respond := f.responses[len(f.responses)-1]
	if n < len(f.responses) {
		respond = f.responses[n]
	}
	f.mu.Unlock()

	respond(w, r)
}

func (f *fakeService) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeService) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newFakeService(t *testing.T, responses ...func(w http.ResponseWriter, r *http.Request)) (*fakeService, *httptest.Server) {
	t.Helper()
	svc := &fakeService{t: t, responses: responses}
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)
	return svc, srv
}

func jsonReply(status int, v interface{}) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
}

func keyReply(kp *sshtest.KeyPair) func(w http.ResponseWriter, r *http.Request) {
	return jsonReply(http.StatusOK, map[string]string{
		"public":  string(kp.PublicCert),
		"private": string(kp.PrivatePEM),
	})
}

func rawReply(status int, body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func newTestClient(srv *httptest.Server, clock *passcodetest.FakeClock, opts ...Option) *Client {
	base := []Option{
		WithHTTPClient(srv.Client()),
		WithClock(clock),
		WithLogger(logger.Noop()),
	}
	return NewClient(srv.URL, append(base, opts...)...)
}

func expectedCode(t *testing.T, at time.Time) string {
	t.Helper()
	g, err := passcode.NewGenerator(testSeed, nil)
	require.NoError(t, err)
	code, err := g.At(at)
	require.NoError(t, err)
	return code.Value
}

func TestRequestKey_Success(t *testing.T) {
	kp := sshtest.NewKeyPair(t, "alice", testStart.Add(24*time.Hour))
	svc, srv := newFakeService(t, keyReply(kp))
	clock := passcodetest.NewFakeClock(testStart)

	client := newTestClient(srv, clock, WithUserAgent("cscs-keygen/1.2.3"))
	material, err := client.RequestKey(context.Background(), testCreds())
	require.NoError(t, err)

	assert.Equal(t, kp.PublicCert, material.PublicKey)
	assert.Equal(t, kp.PrivatePEM, material.PrivateKey)
	assert.Equal(t, kp.ValidBefore, material.ExpiresAt)

	require.Equal(t, 1, svc.count())
	req := svc.recorded()[0]
	assert.Equal(t, "alice", req.Body.Username)
	assert.Equal(t, "hunter2", req.Body.Password)
	assert.Equal(t, expectedCode(t, testStart), req.Body.OTP)
	assert.Equal(t, "application/json", req.Headers.Get("Content-Type"))
	assert.Equal(t, "application/json", req.Headers.Get("Accept"))
	assert.Equal(t, "cscs-keygen/1.2.3", req.Headers.Get("User-Agent"))

	_, err = uuid.Parse(req.Headers.Get("X-Request-ID"))
	assert.NoError(t, err, "request id should be a UUID")

	assert.Zero(t, clock.SleepCount())
}

func TestRequestKey_AuthErrorIsNotRetried(t *testing.T) {
	svc, srv := newFakeService(t, jsonReply(http.StatusUnauthorized, map[string]interface{}{
		"payload": map[string]string{"message": "Invalid OTP"},
	}))
	clock := passcodetest.NewFakeClock(testStart)

	_, err := newTestClient(srv, clock, WithRetries(3)).RequestKey(context.Background(), testCreds())
	require.Error(t, err)

	assert.Equal(t, 1, svc.count())
	assert.Zero(t, clock.SleepCount())

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Equal(t, "Invalid OTP", authErr.Reason)

	assert.True(t, kgerrors.IsCode(err, kgerrors.ErrAuth))
	assert.Equal(t, kgerrors.ExitAuth, kgerrors.ExitCode(err))
	assert.Contains(t, err.Error(), "Invalid OTP")
}

func TestRequestKey_TransientThenSuccessUsesFreshCode(t *testing.T) {
	kp := sshtest.NewKeyPair(t, "alice", testStart.Add(24*time.Hour))
	svc, srv := newFakeService(t,
		rawReply(http.StatusServiceUnavailable, "upstream down"),
		keyReply(kp),
	)
	clock := passcodetest.NewFakeClock(testStart)

	var transitions []Transition
	client := newTestClient(srv, clock, WithObserver(func(tr Transition) {
		transitions = append(transitions, tr)
	}))

	material, err := client.RequestKey(context.Background(), testCreds())
	require.NoError(t, err)
	assert.Equal(t, kp.PrivatePEM, material.PrivateKey)

	reqs := svc.recorded()
	require.Len(t, reqs, 2)
	assert.NotEqual(t, reqs[0].Body.OTP, reqs[1].Body.OTP, "a code must never be sent twice")
	assert.Equal(t, expectedCode(t, testStart), reqs[0].Body.OTP)
	assert.Equal(t, expectedCode(t, testStart.Add(28*time.Second)), reqs[1].Body.OTP)
	assert.NotEqual(t, reqs[0].Headers.Get("X-Request-ID"), reqs[1].Headers.Get("X-Request-ID"))

	require.Equal(t, 1, clock.SleepCount())
	assert.Equal(t, 28*time.Second, clock.Sleeps[0])

	var states []State
	for _, tr := range transitions {
		states = append(states, tr.To)
	}
	assert.Equal(t, []State{
		StateCredentialsLoaded,
		StateCodeGenerated,
		StateRequestSent,
		StateCodeGenerated,
		StateRequestSent,
		StateSucceeded,
	}, states)

	retryEdge := transitions[3]
	assert.Equal(t, StateRequestSent, retryEdge.From)
	assert.Equal(t, 1, retryEdge.Attempt)
	var te *TransientError
	assert.ErrorAs(t, retryEdge.Err, &te)
	assert.Equal(t, 2, transitions[5].Attempt)
}

func TestRequestKey_RetryBudget(t *testing.T) {
	tests := []struct {
		name    string
		retries int
	}{
		{name: "no retries", retries: 0},
		{name: "default", retries: DefaultRetries},
		{name: "three retries", retries: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, srv := newFakeService(t, jsonReply(http.StatusBadGateway, map[string]interface{}{
				"payload": map[string]string{"message": "gateway"},
			}))
			clock := passcodetest.NewFakeClock(testStart)

			_, err := newTestClient(srv, clock, WithRetries(tt.retries)).
				RequestKey(context.Background(), testCreds())
			require.Error(t, err)

			assert.Equal(t, 1+tt.retries, svc.count())
			assert.Equal(t, tt.retries, clock.SleepCount())

			var te *TransientError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, http.StatusBadGateway, te.StatusCode)
			assert.Equal(t, 1+tt.retries, te.Attempts)
			assert.True(t, kgerrors.IsCode(err, kgerrors.ErrTransient))
			assert.Equal(t, kgerrors.ExitTransient, kgerrors.ExitCode(err))

			seen := map[string]bool{}
			for _, r := range svc.recorded() {
				assert.False(t, seen[r.Body.OTP], "code %s reused", r.Body.OTP)
				seen[r.Body.OTP] = true
			}
		})
	}
}

func TestRequestKey_MalformedSuccessIsProtocolError(t *testing.T) {
	kp := sshtest.NewKeyPair(t, "alice", testStart.Add(time.Hour))
	other := sshtest.NewKeyPair(t, "bob", testStart.Add(time.Hour))

	tests := []struct {
		name  string
		reply func(w http.ResponseWriter, r *http.Request)
	}{
		{name: "not json", reply: rawReply(http.StatusOK, "<html>maintenance</html>")},
		{name: "empty object", reply: jsonReply(http.StatusOK, map[string]string{})},
		{name: "missing private", reply: jsonReply(http.StatusOK, map[string]string{"public": string(kp.PublicCert)})},
		{name: "garbage keys", reply: jsonReply(http.StatusOK, map[string]string{"public": "x", "private": "y"})},
		{name: "mismatched halves", reply: jsonReply(http.StatusOK, map[string]string{
			"public":  string(other.PublicCert),
			"private": string(kp.PrivatePEM),
		})},
		{name: "redirect status", reply: rawReply(http.StatusNotModified, "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, srv := newFakeService(t, tt.reply)
			clock := passcodetest.NewFakeClock(testStart)

			_, err := newTestClient(srv, clock).RequestKey(context.Background(), testCreds())
			require.Error(t, err)

			assert.Equal(t, 1, svc.count(), "protocol errors are not retried")
			var pe *ProtocolError
			assert.ErrorAs(t, err, &pe)
			assert.True(t, kgerrors.IsCode(err, kgerrors.ErrProtocol))
		})
	}
}

func TestRequestKey_RedirectIsNotFollowed(t *testing.T) {
	kp := sshtest.NewKeyPair(t, "alice", testStart.Add(time.Hour))

	for _, status := range []int{http.StatusFound, http.StatusTemporaryRedirect, http.StatusPermanentRedirect} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			elsewhere, target := newFakeService(t, keyReply(kp))
			svc, srv := newFakeService(t, func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, target.URL+"/keys", status)
			})
			clock := passcodetest.NewFakeClock(testStart)

			_, err := newTestClient(srv, clock, WithRetries(0)).RequestKey(context.Background(), testCreds())
			require.Error(t, err)

			assert.Equal(t, 1, svc.count())
			assert.Zero(t, elsewhere.count(), "credentials must not reach the redirect target")
			var pe *ProtocolError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, status, pe.StatusCode)
		})
	}
}

func TestNewClient_KeepsCallerRedirectPolicy(t *testing.T) {
	hc := &http.Client{}
	NewClient("https://example.test/keys", WithHTTPClient(hc))
	assert.Nil(t, hc.CheckRedirect)
}

func TestRequestKey_TimeoutIsTransient(t *testing.T) {
	svc, srv := newFakeService(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	clock := passcodetest.NewFakeClock(testStart)

	_, err := newTestClient(srv, clock, WithTimeout(50*time.Millisecond), WithRetries(0)).
		RequestKey(context.Background(), testCreds())
	require.Error(t, err)

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.StatusCode)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, svc.count())
}

func TestRequestKey_ConnectionRefusedIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	clock := passcodetest.NewFakeClock(testStart)
	client := NewClient(url, WithClock(clock), WithRetries(1))

	_, err := client.RequestKey(context.Background(), testCreds())
	require.Error(t, err)

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 2, te.Attempts)
	assert.Equal(t, 1, clock.SleepCount())
}

func TestRequestKey_CanceledContextStopsRetries(t *testing.T) {
	svc, srv := newFakeService(t, rawReply(http.StatusServiceUnavailable, ""))
	clock := passcodetest.NewFakeClock(testStart)

	ctx, cancel := context.WithCancel(context.Background())
	client := newTestClient(srv, clock, WithRetries(5), WithObserver(func(tr Transition) {
		if tr.To == StateRequestSent {
			cancel()
		}
	}))

	_, err := client.RequestKey(ctx, testCreds())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, svc.count(), 1)
}

// cancelOnSleep cancels the request context when the retry wait begins.
type cancelOnSleep struct {
	*passcodetest.FakeClock
	cancel context.CancelFunc
}

func (c cancelOnSleep) Sleep(ctx context.Context, d time.Duration) error {
	c.cancel()
	return c.FakeClock.Sleep(ctx, d)
}

func TestRequestKey_CanceledRetryWaitKeepsServerReason(t *testing.T) {
	svc, srv := newFakeService(t, jsonReply(http.StatusServiceUnavailable, map[string]interface{}{
		"payload": map[string]string{"message": "maintenance window"},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := cancelOnSleep{FakeClock: passcodetest.NewFakeClock(testStart), cancel: cancel}

	client := NewClient(srv.URL, WithHTTPClient(srv.Client()), WithClock(clock), WithRetries(2))
	_, err := client.RequestKey(ctx, testCreds())
	require.Error(t, err)

	assert.Equal(t, 1, svc.count())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "maintenance window")

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.Equal(t, 1, te.Attempts)
}

func TestRequestKey_BadSeedSendsNothing(t *testing.T) {
	svc, srv := newFakeService(t, rawReply(http.StatusOK, ""))
	clock := passcodetest.NewFakeClock(testStart)

	var last Transition
	client := newTestClient(srv, clock, WithObserver(func(tr Transition) { last = tr }))

	creds := testCreds()
	creds.TOTPSeed = "not base32!"
	_, err := client.RequestKey(context.Background(), creds)
	require.Error(t, err)

	assert.Zero(t, svc.count())
	assert.True(t, kgerrors.IsCode(err, kgerrors.ErrCredential))
	assert.Equal(t, StateFailed, last.To)
	assert.Equal(t, StateIdle, last.From)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("")
	assert.Equal(t, DefaultEndpoint, c.Endpoint())
	assert.Equal(t, DefaultTimeout, c.timeout)
	assert.Equal(t, DefaultRetries, c.retries)

	c = NewClient("https://example.test/keys", WithTimeout(0), WithRetries(-1))
	assert.Equal(t, "https://example.test/keys", c.Endpoint())
	assert.Equal(t, DefaultTimeout, c.timeout, "zero timeout keeps default")
	assert.Equal(t, DefaultRetries, c.retries, "negative retries keeps default")
}
