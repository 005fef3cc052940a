package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrEthical07/otpgate"
)

// ErrRefreshRejected means the server refused the refresh token.
var ErrRefreshRejected = errors.New("refresh token rejected")

// Refresher exchanges a refresh token for a new pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (otpgate.TokenPair, error)
}

// RefresherFunc adapts a function to [Refresher].
type RefresherFunc func(ctx context.Context, refreshToken string) (otpgate.TokenPair, error)

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (otpgate.TokenPair, error) {
	return f(ctx, refreshToken)
}

// HTTPRefresher calls POST {BaseURL}/api/auth/refresh.
type HTTPRefresher struct {
	BaseURL string
	// Client must not route through a Transport backed by the same
	// coordinator. Nil means http.DefaultClient.
	Client *http.Client
}

func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (otpgate.TokenPair, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return otpgate.TokenPair{}, err
	}

	url := strings.TrimRight(r.BaseURL, "/") + "/api/auth/refresh"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return otpgate.TokenPair{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return otpgate.TokenPair{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return otpgate.TokenPair{}, ErrRefreshRejected
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return otpgate.TokenPair{}, fmt.Errorf("refresh endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var pair otpgate.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return otpgate.TokenPair{}, fmt.Errorf("decode refresh response: %w", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return otpgate.TokenPair{}, errors.New("refresh response missing tokens")
	}
	return pair, nil
}
