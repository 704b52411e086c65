// Package web serves the HTTP API: workflow listing and triggering, live
// event streams over SSE and websockets, run history and service health.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/orca/internal/config"
	"github.com/mtzanidakis/orca/internal/natsbus"
	"github.com/mtzanidakis/orca/internal/pool"
	"github.com/mtzanidakis/orca/internal/store"
	"github.com/mtzanidakis/orca/internal/workflow"
)

// HealthReporter reports the health of the downstream services.
// *pool.Pool satisfies it.
type HealthReporter interface {
	Snapshot() pool.Report
}

type Server struct {
	runner    *workflow.Runner
	health    HealthReporter
	store     *store.Store
	nats      *natsbus.Client
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time
}

// NewServer builds the API server. store and nc may be nil; without nc the
// hub must be registered as a run observer to receive events.
func NewServer(runner *workflow.Runner, health HealthReporter, st *store.Store, nc *natsbus.Client, cfg config.WebConfig, version string) *Server {
	return &Server{
		runner:    runner,
		health:    health,
		store:     st,
		nats:      nc,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
	}
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPI(mux)
	mux.HandleFunc("/api/ws", s.handleWebSocket)
	return s.withMiddleware(mux)
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	s.subscribeEvents()

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// subscribeEvents forwards run events published on NATS to websocket
// clients.
func (s *Server) subscribeEvents() {
	if s.nats == nil {
		return
	}
	_, err := s.nats.Subscribe(natsbus.TopicEventsRuns, func(msg *nats.Msg) {
		var ev natsbus.RunEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("invalid NATS event payload", "error", err)
			return
		}
		s.hub.Publish(Frame{RunID: ev.RunID, Workflow: ev.Workflow, Type: ev.Type, Data: ev.Data})
	})
	if err != nil {
		slog.Error("web server nats subscribe failed", "error", err)
	}
}
