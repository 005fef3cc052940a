package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPNotifier hands codes to a remote delivery endpoint that accepts
// POST {"email","otp"} and answers {"success":true} or {"error":"..."}.
type HTTPNotifier struct {
	endpoint string
	client   *http.Client
}

// NewHTTPNotifier posts to endpoint with client, or a client with a 10s
// timeout when client is nil.
func NewHTTPNotifier(endpoint string, client *http.Client) (*HTTPNotifier, error) {
	if endpoint == "" {
		return nil, errors.New("delivery endpoint required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPNotifier{endpoint: endpoint, client: client}, nil
}

type deliveryRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type deliveryResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details"`
}

func (n *HTTPNotifier) SendOTP(ctx context.Context, destination, code string) error {
	body, err := json.Marshal(deliveryRequest{Email: destination, OTP: code})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery endpoint: %w", err)
	}
	defer resp.Body.Close()

	var out deliveryResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out)

	if resp.StatusCode != http.StatusOK || !out.Success {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if out.Details != "" {
			msg += ": " + out.Details
		}
		return fmt.Errorf("delivery endpoint returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}
