package exchange

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultEndpoint is the CSCS signed-key endpoint.
const DefaultEndpoint = "https://sshservice.cscs.ch/api/v1/auth/ssh-keys/signed-key"

// Headers set on every issuance request.
const (
	headerRequestID = "X-Request-ID"
	contentTypeJSON = "application/json"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

type issuanceRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	OTP      string `json:"otp"`
}

type issuanceResponse struct {
	Public  string `json:"public"`
	Private string `json:"private"`
}

type errorResponse struct {
	Payload struct {
		Message string `json:"message"`
	} `json:"payload"`
	Message string `json:"message"`
}

func encodeRequest(username, password, otp string) ([]byte, error) {
	return json.Marshal(issuanceRequest{
		Username: username,
		Password: password,
		OTP:      otp,
	})
}

func decodeKeyResponse(body []byte) (public, private []byte, err error) {
	var resp issuanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Public == "" || resp.Private == "" {
		return nil, nil, fmt.Errorf("response is missing the public or private key")
	}
	return []byte(resp.Public), []byte(resp.Private), nil
}

// decodeErrorMessage extracts the service's explanation from an error body.
// Non-JSON bodies are returned trimmed, truncated to one line.
func decodeErrorMessage(body []byte) string {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err == nil {
		if resp.Payload.Message != "" {
			return resp.Payload.Message
		}
		if resp.Message != "" {
			return resp.Message
		}
		return ""
	}

	text := strings.TrimSpace(string(body))
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return text
}
