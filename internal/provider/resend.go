package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultBaseURL is the Resend API endpoint.
const DefaultBaseURL = "https://api.resend.com"

// ResendClient sends email through the Resend HTTP API.
type ResendClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewResendClient creates a Resend API client. An empty baseURL selects the
// production endpoint; timeout bounds each send request.
func NewResendClient(baseURL, apiKey string, timeout time.Duration) *ResendClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ResendClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type resendSendResponse struct {
	ID string `json:"id"`
}

type resendErrorResponse struct {
	Message string `json:"message"`
	Name    string `json:"name"`
}

// Send posts the payload to /emails and returns the provider message id.
func (c *ResendClient) Send(ctx context.Context, p *Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp resendErrorResponse
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Message != "" {
			msg = errResp.Message
		}
		return "", &Error{StatusCode: resp.StatusCode, Message: msg}
	}

	var out resendSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.ID == "" {
		return "", &Error{StatusCode: resp.StatusCode, Message: "provider returned no message id"}
	}

	return out.ID, nil
}
