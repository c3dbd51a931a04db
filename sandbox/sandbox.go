// Package sandbox provisions sandbox API credentials: a generated api
// user bound to a callback host, plus its api key. One-shot; nothing
// is stored.
package sandbox

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

	"github.com/nugget-digital/momo/auth"
)

// Provisioner creates sandbox credentials against the platform's
// apiuser endpoints.
type Provisioner struct {
	baseURL         string
	subscriptionKey string
	httpClient      *http.Client
}

// NewProvisioner builds a provisioner. A nil httpClient gets a default
// with a timeout.
func NewProvisioner(baseURL, subscriptionKey string, httpClient *http.Client) *Provisioner {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Provisioner{
		baseURL:         strings.TrimRight(baseURL, "/"),
		subscriptionKey: subscriptionKey,
		httpClient:      httpClient,
	}
}

// Provision creates a fresh api user registered for callbackHost and
// returns complete credentials for it. The user id is generated here
// and doubles as the reference id of the creation request.
func (p *Provisioner) Provision(ctx context.Context, callbackHost string) (auth.Credentials, error) {
	userID := uuid.New().String()

	body, err := json.Marshal(map[string]string{"providerCallbackHost": callbackHost})
	if err != nil {
		return auth.Credentials{}, fmt.Errorf("encoding api user request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1_0/apiuser", bytes.NewReader(body))
	if err != nil {
		return auth.Credentials{}, fmt.Errorf("building api user request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Reference-Id", userID)
	req.Header.Set("Ocp-Apim-Subscription-Key", p.subscriptionKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return auth.Credentials{}, fmt.Errorf("creating sandbox api user: %w", err)
	}
	drainAndClose(resp)

	if resp.StatusCode != http.StatusCreated {
		return auth.Credentials{}, fmt.Errorf("creating sandbox api user: upstream status %d", resp.StatusCode)
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1_0/apiuser/"+userID+"/apikey", nil)
	if err != nil {
		return auth.Credentials{}, fmt.Errorf("building api key request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.subscriptionKey)

	resp, err = p.httpClient.Do(req)
	if err != nil {
		return auth.Credentials{}, fmt.Errorf("creating sandbox api key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return auth.Credentials{}, fmt.Errorf("creating sandbox api key: upstream status %d", resp.StatusCode)
	}

	var key struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&key); err != nil {
		return auth.Credentials{}, fmt.Errorf("decoding api key response: %w", err)
	}
	if key.APIKey == "" {
		return auth.Credentials{}, fmt.Errorf("api key response without apiKey")
	}

	return auth.Credentials{
		SubscriptionKey: p.subscriptionKey,
		APIUser:         userID,
		APIKey:          key.APIKey,
	}, nil
}

func drainAndClose(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
}
