package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "request-sent", StateRequestSent.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateIdle, StateCredentialsLoaded, StateCodeGenerated, StateRequestSent} {
		assert.False(t, s.Terminal(), s.String())
	}
	assert.True(t, StateSucceeded.Terminal())
	assert.True(t, StateFailed.Terminal())
}

func TestMachine_RejectsIllegalTransitions(t *testing.T) {
	tests := []struct {
		name  string
		path  []State
		wrong State
	}{
		{name: "skip code generation", path: []State{StateCredentialsLoaded}, wrong: StateRequestSent},
		{name: "leave succeeded", path: []State{StateCredentialsLoaded, StateCodeGenerated, StateRequestSent, StateSucceeded}, wrong: StateCodeGenerated},
		{name: "leave failed", path: []State{StateFailed}, wrong: StateCredentialsLoaded},
		{name: "succeed without request", path: []State{StateCredentialsLoaded, StateCodeGenerated}, wrong: StateSucceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &machine{}
			for _, s := range tt.path {
				m.to(s, nil)
			}
			assert.Panics(t, func() { m.to(tt.wrong, nil) })
		})
	}
}

func TestDecodeErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "payload message", body: `{"payload":{"message":"Invalid OTP"}}`, want: "Invalid OTP"},
		{name: "top level message", body: `{"message":"nope"}`, want: "nope"},
		{name: "json without message", body: `{"detail":"x"}`, want: ""},
		{name: "plain text", body: "Service Unavailable\nmore lines", want: "Service Unavailable"},
		{name: "empty", body: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeErrorMessage([]byte(tt.body)))
		})
	}
}

func TestEncodeRequest(t *testing.T) {
	body, err := encodeRequest("alice", "pw", "012345")
	assert.NoError(t, err)
	assert.JSONEq(t, `{"username":"alice","password":"pw","otp":"012345"}`, string(body))
}
