// Package voice places OTP calls through the VoicePass voice API.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type sendOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
	OTP         string `json:"otp"`
}

type sendOTPResponse struct {
	CallID string `json:"call_id"`
}

// SendVoiceOTP asks the voice API to read otp to phone and returns the provider call id.
// A provider that omits the id gets a generated call_<uuid>.
func (c *Client) SendVoiceOTP(ctx context.Context, phone, otp string) (string, error) {
	body, err := json.Marshal(sendOTPRequest{PhoneNumber: phone, OTP: otp})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send-voice-otp", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("voice api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("voice api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out sendOTPResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to decode voice api response: %w", err)
	}
	if out.CallID == "" {
		out.CallID = "call_" + uuid.NewString()
	}
	return out.CallID, nil
}
