package doctor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndpointCheck(t *testing.T) {
	ctx := context.Background()
	methods := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods <- r.Method
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	res := (&EndpointCheck{URL: srv.URL + "/api/v1/auth/ssh-keys/signed-key", Client: srv.Client()}).Run(ctx)
	assert.Equal(t, StatusPass, res.Status)
	assert.Contains(t, res.Message, "HTTP 405")
	assert.Equal(t, http.MethodHead, <-methods)
}

func TestEndpointCheck_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := (&EndpointCheck{URL: url}).Run(context.Background())
	assert.Equal(t, StatusFail, res.Status)
	assert.Contains(t, res.Message, "Cannot reach")
}

func TestEndpointCheck_Invalid(t *testing.T) {
	res := (&EndpointCheck{URL: "not a url"}).Run(context.Background())
	assert.Equal(t, StatusFail, res.Status)
	assert.Equal(t, "NETWORK", (&EndpointCheck{}).Category())
}
