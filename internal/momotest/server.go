// Package momotest is an in-process fake of the MoMo platform for
// tests: token endpoint, request-to-pay store, scripted status
// sequences, balance and sandbox user provisioning.
package momotest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Server is one fake platform instance. All knobs and counters are
// safe for concurrent use.
type Server struct {
	httpSrv *httptest.Server

	SubscriptionKey string
	APIUser         string
	APIKey          string
	AccessToken     string
	ExpiresIn       int64

	mu             sync.Mutex
	tokenRequests  int
	rejectTokens   bool
	payments       map[string]payment
	statusScript   map[string][]string
	submitStatus   int
	submitReason   string
	sandboxUsers   map[string]string // api user id -> api key
	balance        balance
}

type payment struct {
	Amount     string          `json:"amount"`
	Currency   string          `json:"currency"`
	ExternalID string          `json:"externalId"`
	Payer      json.RawMessage `json:"payer"`
	Status     string          `json:"status"`
}

type balance struct {
	AvailableBalance string `json:"availableBalance"`
	Currency         string `json:"currency"`
}

// NewServer starts a fake platform accepting the given credentials.
// Callers must Close it.
func NewServer(subscriptionKey, apiUser, apiKey string) *Server {
	s := &Server{
		SubscriptionKey: subscriptionKey,
		APIUser:         apiUser,
		APIKey:          apiKey,
		AccessToken:     "test-access-token",
		ExpiresIn:       3600,
		payments:        map[string]payment{},
		statusScript:    map[string][]string{},
		sandboxUsers:    map[string]string{},
		submitStatus:    http.StatusAccepted,
		balance:         balance{AvailableBalance: "1000", Currency: "GHS"},
	}

	r := chi.NewRouter()
	r.Post("/collection/token/", s.token)
	r.Post("/collection/v1_0/requesttopay", s.requestToPay)
	r.Get("/collection/v1_0/requesttopay/{referenceID}", s.paymentStatus)
	r.Get("/collection/v1_0/account/balance", s.accountBalance)
	r.Post("/v1_0/apiuser", s.createUser)
	r.Post("/v1_0/apiuser/{userID}/apikey", s.createKey)

	s.httpSrv = httptest.NewServer(r)

	return s
}

// URL is the fake platform's base URL.
func (s *Server) URL() string { return s.httpSrv.URL }

// Client returns an HTTP client wired to the fake platform.
func (s *Server) Client() *http.Client { return s.httpSrv.Client() }

func (s *Server) Close() { s.httpSrv.Close() }

// TokenRequests reports how many token requests the platform has seen.
func (s *Server) TokenRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenRequests
}

// RejectTokens makes the token endpoint answer 401 when set.
func (s *Server) RejectTokens(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectTokens = reject
}

// RespondToSubmissions overrides the status code (and, for rejections,
// the error message) returned for new request-to-pay submissions.
func (s *Server) RespondToSubmissions(status int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitStatus = status
	s.submitReason = reason
}

// ScriptStatuses queues raw status strings returned by successive
// status queries for referenceID; the last entry repeats forever.
func (s *Server) ScriptStatuses(referenceID string, statuses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusScript[referenceID] = statuses
}

// Payment returns the stored submission for referenceID, if any.
func (s *Server) Payment(referenceID string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[referenceID]
	if !ok {
		return nil, false
	}
	var payer map[string]any
	_ = json.Unmarshal(p.Payer, &payer)
	return map[string]any{
		"amount":     p.Amount,
		"currency":   p.Currency,
		"externalId": p.ExternalID,
		"payer":      payer,
	}, true
}

// SandboxKey returns the api key provisioned for the given user id.
func (s *Server) SandboxKey(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.sandboxUsers[userID]
	return k, ok
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.tokenRequests++
	reject := s.rejectTokens
	s.mu.Unlock()

	user, pass, ok := r.BasicAuth()
	if !ok || user != s.APIUser || pass != s.APIKey ||
		r.Header.Get("Ocp-Apim-Subscription-Key") != s.SubscriptionKey || reject {
		http.Error(w, `{"error":"access denied"}`, http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"access_token": s.AccessToken,
		"token_type":   "access_token",
		"expires_in":   s.ExpiresIn,
	})
}

// authorized checks the headers every collection call must carry.
func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer "+s.AccessToken {
		http.Error(w, `{"message":"invalid token"}`, http.StatusUnauthorized)
		return false
	}
	if r.Header.Get("Ocp-Apim-Subscription-Key") != s.SubscriptionKey {
		http.Error(w, `{"message":"invalid subscription key"}`, http.StatusUnauthorized)
		return false
	}
	if env := r.Header.Get("X-Target-Environment"); env == "" {
		http.Error(w, `{"message":"missing target environment"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) requestToPay(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	referenceID := r.Header.Get("X-Reference-Id")
	if _, err := uuid.Parse(referenceID); err != nil {
		http.Error(w, `{"message":"invalid reference id"}`, http.StatusBadRequest)
		return
	}

	var p payment
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, `{"message":"invalid body"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitStatus != http.StatusAccepted {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.submitStatus)
		json.NewEncoder(w).Encode(map[string]string{"message": s.submitReason})
		return
	}
	if _, exists := s.payments[referenceID]; exists {
		http.Error(w, `{"message":"duplicated reference id"}`, http.StatusConflict)
		return
	}

	p.Status = "PENDING"
	s.payments[referenceID] = p

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) paymentStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	referenceID := chi.URLParam(r, "referenceID")

	s.mu.Lock()
	p, ok := s.payments[referenceID]
	if script := s.statusScript[referenceID]; len(script) > 0 {
		ok = true
		p.Status = script[0]
		if len(script) > 1 {
			s.statusScript[referenceID] = script[1:]
		}
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, `{"message":"payment not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

func (s *Server) accountBalance(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	s.mu.Lock()
	b := s.balance
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(b)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Ocp-Apim-Subscription-Key") != s.SubscriptionKey {
		http.Error(w, `{"message":"invalid subscription key"}`, http.StatusUnauthorized)
		return
	}

	userID := r.Header.Get("X-Reference-Id")
	if _, err := uuid.Parse(userID); err != nil {
		http.Error(w, `{"message":"invalid reference id"}`, http.StatusBadRequest)
		return
	}

	var body struct {
		ProviderCallbackHost string `json:"providerCallbackHost"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ProviderCallbackHost == "" {
		http.Error(w, `{"message":"providerCallbackHost is required"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.sandboxUsers[userID] = ""
	s.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
}

func (s *Server) createKey(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Ocp-Apim-Subscription-Key") != s.SubscriptionKey {
		http.Error(w, `{"message":"invalid subscription key"}`, http.StatusUnauthorized)
		return
	}

	userID := chi.URLParam(r, "userID")

	s.mu.Lock()
	_, ok := s.sandboxUsers[userID]
	var key string
	if ok {
		key = "key-" + uuid.New().String()
		s.sandboxUsers[userID] = key
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, `{"message":"unknown api user"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"apiKey": key})
}
