package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBody = 64 << 10

// channelResponse is the response body both channel APIs share.
type channelResponse struct {
	Status     string `json:"status"`
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"message"`
	ResultCode *int   `json:"resultCode"`
}

// succeeded reports whether a 2xx body confirms delivery. A non-zero
// resultCode is a rejection even when status says success.
func (r channelResponse) succeeded() bool {
	return (r.Status == "" || strings.EqualFold(r.Status, "success")) &&
		r.ErrorCode == "" &&
		(r.ResultCode == nil || *r.ResultCode == 0)
}

// failureMessage prefers the channel's own message and falls back to the
// status and result code.
func (r channelResponse) failureMessage(channel string, status int) string {
	if r.Message != "" {
		return r.Message
	}
	if r.ResultCode != nil && *r.ResultCode != 0 {
		return fmt.Sprintf("%s channel responded %d with result code %d", channel, status, *r.ResultCode)
	}
	return fmt.Sprintf("%s channel responded %d", channel, status)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// postJSON sends body and returns the status and the raw response. A non 2xx
// status is not an error here; callers classify it.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// decodeResponse tolerates empty and non JSON bodies; the raw body is always
// kept for the delivery log.
func decodeResponse(raw []byte) channelResponse {
	var r channelResponse
	if len(bytes.TrimSpace(raw)) == 0 {
		return r
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return channelResponse{Status: "unparseable", Message: string(raw)}
	}
	return r
}

// healthCheck calls GET {base}/health and expects {"status":"UP"}.
func healthCheck(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&body)
	if resp.StatusCode != http.StatusOK || !strings.EqualFold(body.Status, "UP") {
		return fmt.Errorf("unexpected health response: %d status=%q", resp.StatusCode, body.Status)
	}
	return nil
}

func retryableStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}
