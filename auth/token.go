// Package auth exchanges API credentials for short-lived collection
// access tokens and caches them across concurrent callers.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slog"
)

// ErrTokenAcquisition marks any failure to obtain a fresh access token,
// transport errors and authentication rejections alike. The token
// source never retries; that is the caller's call.
var ErrTokenAcquisition = errors.New("token acquisition failed")

// Credentials identify an API user against the platform. They are
// opaque to this package beyond being attached to the token request.
type Credentials struct {
	SubscriptionKey string
	APIUser         string
	APIKey          string
}

// Token is a collection access token with its absolute expiry.
type Token struct {
	Value     string
	Type      string
	ExpiresAt time.Time
}

// DefaultMargin is how long before its expiry a cached token stops
// being served.
const DefaultMargin = time.Minute

// TokenSource owns one cached token and refreshes it on demand.
// Concurrent readers of a still-valid token do not block each other;
// concurrent refreshes collapse into a single upstream request whose
// outcome every waiter observes.
type TokenSource struct {
	creds      Credentials
	baseURL    string
	margin     time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.RWMutex
	cached   *Token
	inflight *fetch
}

// fetch is one in-flight token request. Waiters block on done and then
// read tok/err, which are written exactly once before done is closed.
type fetch struct {
	done chan struct{}
	tok  Token
	err  error
}

// NewTokenSource builds a token source for the given platform base URL.
// A nil httpClient gets a default with a timeout; a zero margin gets
// DefaultMargin.
func NewTokenSource(logger *slog.Logger, baseURL string, creds Credentials, httpClient *http.Client, margin time.Duration) *TokenSource {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if margin <= 0 {
		margin = DefaultMargin
	}

	return &TokenSource{
		creds:      creds,
		baseURL:    strings.TrimRight(baseURL, "/"),
		margin:     margin,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "token_source")),
		now:        time.Now,
	}
}

// Token returns the cached access token while it is still more than the
// safety margin away from expiry, refreshing it otherwise.
func (s *TokenSource) Token(ctx context.Context) (Token, error) {
	s.mu.RLock()
	if t := s.cached; t != nil && s.fresh(t) {
		tok := *t
		s.mu.RUnlock()
		return tok, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	// Another caller may have refreshed while we waited for the lock.
	if t := s.cached; t != nil && s.fresh(t) {
		tok := *t
		s.mu.Unlock()
		return tok, nil
	}
	if f := s.inflight; f != nil {
		s.mu.Unlock()
		return awaitFetch(ctx, f)
	}
	f := &fetch{done: make(chan struct{})}
	s.inflight = f
	s.mu.Unlock()

	tok, err := s.acquire(ctx)

	s.mu.Lock()
	if err == nil {
		cached := tok
		s.cached = &cached
	}
	s.inflight = nil
	s.mu.Unlock()

	f.tok, f.err = tok, err
	close(f.done)

	return tok, err
}

// Invalidate drops the cached token so the next call refreshes. Used
// when the platform rejects a token the source still considered fresh.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *TokenSource) fresh(t *Token) bool {
	return t.ExpiresAt.Sub(s.now()) > s.margin
}

func awaitFetch(ctx context.Context, f *fetch) (Token, error) {
	select {
	case <-f.done:
		return f.tok, f.err
	case <-ctx.Done():
		return Token{}, ctx.Err()
	}
}

// authorization is the platform's token endpoint response.
type authorization struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (s *TokenSource) acquire(ctx context.Context) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/collection/token/", nil)
	if err != nil {
		return Token{}, fmt.Errorf("building token request: %w", ErrTokenAcquisition)
	}
	req.SetBasicAuth(s.creds.APIUser, s.creds.APIKey)
	req.Header.Set("Ocp-Apim-Subscription-Key", s.creds.SubscriptionKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("token request failed", "err", err)
		return Token{}, fmt.Errorf("token request: %v: %w", err, ErrTokenAcquisition)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		s.logger.Error("token endpoint rejected credentials",
			slog.Int("status", resp.StatusCode),
			slog.String("body", strings.TrimSpace(string(body))),
		)
		return Token{}, fmt.Errorf("token endpoint status %d: %w", resp.StatusCode, ErrTokenAcquisition)
	}

	var a authorization
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return Token{}, fmt.Errorf("decoding token response: %v: %w", err, ErrTokenAcquisition)
	}
	if a.AccessToken == "" {
		return Token{}, fmt.Errorf("token response without access_token: %w", ErrTokenAcquisition)
	}

	tok := Token{
		Value:     a.AccessToken,
		Type:      a.TokenType,
		ExpiresAt: s.now().Add(time.Duration(a.ExpiresIn) * time.Second),
	}

	s.logger.Debug("acquired access token", slog.Time("expires_at", tok.ExpiresAt))

	return tok, nil
}
