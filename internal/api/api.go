// Package api provides the HTTP surface of CareLedger.
//
// It exposes the inbound webhook that feeds the conversation engine, a
// health endpoint, a manual reminder-sweep trigger, and Prometheus metrics.
// It also drains the messaging service's response channel so transport-level
// events (WhatsApp messages, Twilio webhooks) reach the engine through the
// same dedup path as direct webhook posts.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BTreeMap/CareLedger/internal/flow"
	"github.com/BTreeMap/CareLedger/internal/ledger"
	"github.com/BTreeMap/CareLedger/internal/messaging"
	"github.com/BTreeMap/CareLedger/internal/models"
	"github.com/BTreeMap/CareLedger/internal/store"
)

// DefaultAddr is where the API listens when no address is configured.
const DefaultAddr = ":8080"

// handleTimeout bounds one engine invocation end to end.
const handleTimeout = 30 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	WebhookSecret string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithWebhookSecret enables HMAC-SHA256 signature verification on the
// inbound webhook.
func WithWebhookSecret(secret string) Option {
	return func(o *Opts) { o.WebhookSecret = secret }
}

// Server wires HTTP transport, the conversation engine and the reminder
// sweep together.
type Server struct {
	store      store.Store
	ledger     *ledger.Ledger
	engine     *flow.Engine
	msgService messaging.Service

	opts       Opts
	metrics    *serverMetrics
	registry   *prometheus.Registry
	httpServer *http.Server
}

// NewServer creates the API server.
func NewServer(st store.Store, led *ledger.Ledger, engine *flow.Engine, msgService messaging.Service, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	registry := prometheus.NewRegistry()
	return &Server{
		store:      st,
		ledger:     led,
		engine:     engine,
		msgService: msgService,
		opts:       cfg,
		metrics:    newServerMetrics(registry),
		registry:   registry,
	}
}

// routes builds the HTTP mux. Separated from Start so tests can exercise
// handlers without a listener.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/reminders/run", s.remindersRunHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// Start begins serving HTTP and draining transport responses. It returns
// once the listener is running.
func (s *Server) Start(ctx context.Context) error {
	if err := s.msgService.Start(ctx); err != nil {
		return fmt.Errorf("start messaging service: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.drainResponses(ctx)

	go func() {
		slog.Info("Server.Start: API listening", "addr", s.opts.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server.Start: HTTP server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
	}
	return s.msgService.Stop()
}

// drainResponses feeds transport-delivered messages into the engine, one
// goroutine per message, behind the same dedup gate as the webhook.
func (s *Server) drainResponses(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.msgService.Responses():
			if !ok {
				return
			}
			s.dispatch(ctx, msg.MessageID, msg.From, msg.Body, msg.TenantID)
		}
	}
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// remindersRunHandler triggers a reminder sweep immediately, outside the
// hourly schedule.
func (s *Server) remindersRunHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sent, err := s.ledger.RunReminderSweep(r.Context(), s.msgService.SendMessage)
	if err != nil {
		slog.Error("Server.remindersRunHandler: sweep failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, models.Error("Reminder sweep failed"))
		return
	}
	s.metrics.remindersSent.Add(float64(sent))
	writeJSON(w, http.StatusOK, models.Success(map[string]int{"sent": sent}))
}
