// Package collections initiates request-to-pay operations against the
// MoMo collections API and tracks them to a terminal status.
package collections

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"github.com/nugget-digital/momo/auth"
	"github.com/nugget-digital/momo/msisdn"
)

const (
	ProductionBaseURL = "https://momodeveloper.mtn.com"
	SandboxBaseURL    = "https://sandbox.momodeveloper.mtn.com"

	EnvironmentProduction = "production"
	EnvironmentSandbox    = "sandbox"
)

// ErrInvalidInput marks caller-supplied data that failed validation
// before any network traffic. Not retryable.
var ErrInvalidInput = errors.New("invalid input")

// ErrTransient marks a network failure or platform-side server error.
// The caller may retry; the client never does so itself, because
// retrying a payment-initiating call implicitly is not safe.
var ErrTransient = errors.New("transient upstream failure")

// RejectionError is the platform refusing a submission for a
// client-caused reason. Not retryable as-is.
type RejectionError struct {
	StatusCode  int
	Reason      string
	ReferenceID string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("request to pay %s rejected with status %d: %s", e.ReferenceID, e.StatusCode, e.Reason)
}

// supportedCurrencies the platform settles collections in.
var supportedCurrencies = map[string]bool{
	"GHS": true,
	"NGN": true,
}

// PaymentRequest describes one request-to-pay submission.
type PaymentRequest struct {
	// Amount is a positive decimal string, e.g. "100" or "49.99".
	Amount   string
	Currency string
	// Payer is the subscriber number in any form msisdn.Normalize
	// accepts for Country.
	Payer   string
	Country msisdn.Country
	// ExternalID correlates the collection in the caller's own books.
	// Defaults to the generated reference id.
	ExternalID   string
	PayerMessage string
	PayeeNote    string
}

// Balance is the collection wallet balance.
type Balance struct {
	AvailableBalance string `json:"availableBalance"`
	Currency         string `json:"currency"`
}

// Client submits collections and queries their status. It holds no
// mutable state and is safe for concurrent use.
type Client struct {
	baseURL         string
	environment     string
	subscriptionKey string
	callbackURL     string
	tokens          *auth.TokenSource
	httpClient      *http.Client
	logger          *slog.Logger
}

// NewClient builds a collection client for the given platform base URL.
// The target environment is derived from the URL: the production host
// maps to "production", anything else to "sandbox". A nil httpClient
// gets a default with a timeout.
func NewClient(logger *slog.Logger, baseURL string, tokens *auth.TokenSource, subscriptionKey string, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	environment := EnvironmentSandbox
	if strings.HasPrefix(baseURL, ProductionBaseURL) {
		environment = EnvironmentProduction
	}

	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		environment:     environment,
		subscriptionKey: subscriptionKey,
		tokens:          tokens,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		logger:          logger.With(slog.String("component", "collections")),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ClientOption customizes a Client at construction.
type ClientOption func(*Client)

// WithHTTPClient injects the HTTP client used for all platform calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithCallbackURL sets the X-Callback-Url attached to submissions, so
// the platform pushes the terminal status instead of being polled only.
func WithCallbackURL(url string) ClientOption {
	return func(c *Client) { c.callbackURL = url }
}

// Environment returns the derived target environment.
func (c *Client) Environment() string { return c.environment }

// requestToPayBody is the platform's submission payload.
type requestToPayBody struct {
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	ExternalID   string `json:"externalId"`
	Payer        payer  `json:"payer"`
	PayerMessage string `json:"payerMessage,omitempty"`
	PayeeNote    string `json:"payeeNote,omitempty"`
}

type payer struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

// RequestToPay submits a collection against the payer's wallet and
// returns the reference id to query its status with. Each call
// generates a fresh reference id; resubmitting after a transient
// failure is the caller's decision, never the client's.
func (c *Client) RequestToPay(ctx context.Context, req PaymentRequest) (string, error) {
	if err := validateAmount(req.Amount); err != nil {
		return "", err
	}
	if !supportedCurrencies[req.Currency] {
		return "", fmt.Errorf("unsupported currency %q: %w", req.Currency, ErrInvalidInput)
	}

	number, err := msisdn.Normalize(req.Payer, req.Country)
	if err != nil {
		return "", err
	}

	referenceID := uuid.New().String()

	externalID := req.ExternalID
	if externalID == "" {
		externalID = referenceID
	}

	body, err := json.Marshal(requestToPayBody{
		Amount:     req.Amount,
		Currency:   req.Currency,
		ExternalID: externalID,
		Payer: payer{
			PartyIDType: "MSISDN",
			PartyID:     number.Canonical(),
		},
		PayerMessage: req.PayerMessage,
		PayeeNote:    req.PayeeNote,
	})
	if err != nil {
		return "", fmt.Errorf("encoding request to pay: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/collection/v1_0/requesttopay", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Reference-Id", referenceID)
	if c.callbackURL != "" {
		httpReq.Header.Set("X-Callback-Url", c.callbackURL)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("request to pay transport failure",
			slog.String("reference_id", referenceID),
			"err", err,
		)
		return "", fmt.Errorf("submitting request to pay: %v: %w", err, ErrTransient)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted:
		c.logger.Info("request to pay accepted",
			slog.String("reference_id", referenceID),
			slog.String("amount", req.Amount),
			slog.String("currency", req.Currency),
		)
		return referenceID, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		reason := errorReason(resp.Body)
		c.logger.Warn("request to pay rejected",
			slog.String("reference_id", referenceID),
			slog.Int("status", resp.StatusCode),
			slog.String("reason", reason),
		)
		return "", &RejectionError{
			StatusCode:  resp.StatusCode,
			Reason:      reason,
			ReferenceID: referenceID,
		}
	default:
		return "", fmt.Errorf("request to pay %s: upstream status %d: %w", referenceID, resp.StatusCode, ErrTransient)
	}
}

// payment is the platform's status query response.
type payment struct {
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	ExternalID string `json:"externalId"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

// GetStatus queries the current status of a submitted collection. It
// is side-effect free and re-derives the status on every call. A 200
// response that cannot be parsed or carries an unrecognized status
// field yields StatusUnknown with a nil error, so pollers can tell an
// ambiguous state apart from a system failure.
func (c *Client) GetStatus(ctx context.Context, referenceID string) (Status, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/collection/v1_0/requesttopay/"+referenceID, nil)
	if err != nil {
		return StatusUnknown, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return StatusUnknown, fmt.Errorf("querying status of %s: %v: %w", referenceID, err, ErrTransient)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var p payment
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			c.logger.Warn("unparseable status response",
				slog.String("reference_id", referenceID),
				"err", err,
			)
			return StatusUnknown, nil
		}
		return ParseStatus(p.Status), nil
	case resp.StatusCode == http.StatusUnauthorized:
		c.tokens.Invalidate()
		return StatusUnknown, fmt.Errorf("querying status of %s: upstream status %d: %w", referenceID, resp.StatusCode, ErrTransient)
	case resp.StatusCode >= 500:
		return StatusUnknown, fmt.Errorf("querying status of %s: upstream status %d: %w", referenceID, resp.StatusCode, ErrTransient)
	default:
		return StatusUnknown, fmt.Errorf("querying status of %s: upstream status %d: %s", referenceID, resp.StatusCode, errorReason(resp.Body))
	}
}

// GetBalance fetches the collection wallet balance.
func (c *Client) GetBalance(ctx context.Context) (Balance, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/collection/v1_0/account/balance", nil)
	if err != nil {
		return Balance{}, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Balance{}, fmt.Errorf("fetching balance: %v: %w", err, ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		if resp.StatusCode >= 500 {
			return Balance{}, fmt.Errorf("fetching balance: upstream status %d: %w", resp.StatusCode, ErrTransient)
		}
		return Balance{}, fmt.Errorf("fetching balance: upstream status %d: %s", resp.StatusCode, errorReason(resp.Body))
	}

	var b Balance
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		return Balance{}, fmt.Errorf("decoding balance: %w", err)
	}

	return b, nil
}

// newRequest builds a platform request with the bearer token and the
// headers every collection call carries. Token acquisition failures
// pass through unchanged.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, path, err)
	}

	req.Header.Set("Authorization", "Bearer "+tok.Value)
	req.Header.Set("X-Target-Environment", c.environment)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.subscriptionKey)

	return req, nil
}

// validateAmount accepts plain positive decimals only: digits with an
// optional fraction part. Signs, exponents and empty parts all fail.
func validateAmount(amount string) error {
	whole, frac, _ := strings.Cut(amount, ".")
	if !isDigits(whole) || (frac != "" && !isDigits(frac)) || strings.Contains(amount, ".") && frac == "" {
		return fmt.Errorf("amount %q is not a decimal: %w", amount, ErrInvalidInput)
	}
	if v, err := strconv.ParseFloat(amount, 64); err != nil || v <= 0 {
		return fmt.Errorf("amount %q is not positive: %w", amount, ErrInvalidInput)
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// momoError is the error body the platform attaches to rejections.
type momoError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorReason extracts a human-readable reason from a platform error
// body, falling back to the raw body when it is not the documented
// JSON shape.
func errorReason(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4<<10))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var e momoError
	if err := json.Unmarshal(raw, &e); err == nil && e.Message != "" {
		return e.Message
	}

	return strings.TrimSpace(string(raw))
}
