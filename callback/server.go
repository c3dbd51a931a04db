// Package callback runs the HTTP listener the platform pushes
// request-to-pay results to, so callers learn terminal statuses
// without polling for them.
package callback

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	"github.com/nugget-digital/momo/collections"
)

// Notification is one pushed request-to-pay result.
type Notification struct {
	ReferenceID string
	Status      collections.Status
	Amount      string
	Currency    string
	ExternalID  string
	// Reason is the platform's failure reason, empty unless failed.
	Reason string
}

// Handler consumes pushed notifications. It is invoked sequentially
// per delivery; long work should be handed off by the handler itself.
type Handler func(Notification)

// Server is the callback listener. Its lifecycle follows the usual
// Start/Shutdown pair; Addr carries the bound address after Start.
type Server struct {
	Addr string

	addr    string
	handler Handler
	logger  *slog.Logger
	srv     *http.Server
	wg      *sync.WaitGroup
}

// NewServer builds a listener for the given address ("host:0" picks a
// free port, reflected in Addr after Start).
func NewServer(logger *slog.Logger, addr string, handler Handler) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		addr:    addr,
		handler: handler,
		logger:  logger.With(slog.String("component", "callback")),
		wg:      &sync.WaitGroup{},
	}
}

// Start binds the listener and serves callbacks until Shutdown.
func (s *Server) Start() error {
	router := chi.NewRouter()
	// The platform delivers the result with a PUT to the callback URL;
	// some sandbox tools replay it as a POST.
	router.Put("/collections/requesttopay/{referenceID}", s.receive)
	router.Post("/collections/requesttopay/{referenceID}", s.receive)

	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.Addr = l.Addr().String()
	s.srv = &http.Server{Handler: router}

	s.wg.Add(1)
	go func() {
		s.logger.Info("callback listener started", slog.String("addr", s.Addr))

		if err := s.srv.Serve(l); err != nil && err != http.ErrServerClosed {
			s.logger.Error("callback listener failed", "err", err)
		}

		s.wg.Done()
	}()

	return nil
}

// Shutdown stops accepting callbacks and waits for the serve loop.
func (s *Server) Shutdown() {
	s.srv.Shutdown(context.Background())
	s.wg.Wait()

	s.logger.Info("callback listener stopped")
}

// callbackBody is the payment payload the platform pushes. It matches
// the status query response.
type callbackBody struct {
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	ExternalID string `json:"externalId"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

func (s *Server) receive(w http.ResponseWriter, r *http.Request) {
	referenceID := chi.URLParam(r, "referenceID")

	n := Notification{
		ReferenceID: referenceID,
		Status:      collections.StatusUnknown,
	}

	// An unparseable body still acknowledges as an Unknown-status
	// notification; erroring back at the operator would only trigger
	// redelivery of the same payload.
	var body callbackBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.logger.Warn("unparseable callback",
			slog.String("reference_id", referenceID),
			"err", err,
		)
	} else {
		n.Status = collections.ParseStatus(body.Status)
		n.Amount = body.Amount
		n.Currency = body.Currency
		n.ExternalID = body.ExternalID
		n.Reason = body.Reason
	}

	s.logger.Info("callback received",
		slog.String("reference_id", referenceID),
		slog.String("status", string(n.Status)),
	)

	if s.handler != nil {
		s.handler(n)
	}

	w.WriteHeader(http.StatusOK)
}
