// Package dashboard serves a read-only JSON status API over the running bot:
// the current signal reading, registered tasks, and the live position and
// order snapshots. It observes; it never mutates trading state.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nopeig/nopebot/internal/broker"
	"github.com/nopeig/nopebot/internal/positions"
	"github.com/nopeig/nopebot/internal/scheduler"
	"github.com/nopeig/nopebot/internal/signal"
	"github.com/sirupsen/logrus"
)

// Server is the status HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	store     *signal.Store
	sched     *scheduler.Scheduler
	view      *positions.View
	broker    broker.Broker
	logger    *logrus.Logger
	listen    string
	authToken string
}

// Config carries the server settings.
type Config struct {
	Listen    string
	AuthToken string
}

// NewServer creates the status server. All dependencies are read-only views
// into the running bot.
func NewServer(
	cfg Config,
	store *signal.Store,
	sched *scheduler.Scheduler,
	view *positions.View,
	b broker.Broker,
	logger *logrus.Logger,
) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		store:     store,
		sched:     sched,
		view:      view,
		broker:    b,
		logger:    logger,
		listen:    cfg.Listen,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/signal", s.handleSignal)
	s.router.Get("/api/tasks", s.handleTasks)
	s.router.Get("/api/positions", s.handlePositions)
	s.router.Get("/api/orders", s.handleOrders)
	s.router.Get("/api/account", s.handleAccount)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start blocks serving until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Infof("Starting status server on %s", s.listen)
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

type signalResponse struct {
	Value           float64   `json:"value"`
	UnderlyingPrice float64   `json:"underlying_price"`
	ObservedAt      time.Time `json:"observed_at"`
}

func (s *Server) handleSignal(w http.ResponseWriter, _ *http.Request) {
	reading := s.store.Read()
	s.writeJSON(w, signalResponse{
		Value:           reading.Value,
		UnderlyingPrice: reading.UnderlyingPrice,
		ObservedAt:      reading.ObservedAt,
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string][]string{"tasks": s.sched.Names()})
}

type positionView struct {
	Contract string  `json:"contract"`
	Right    string  `json:"right"`
	Quantity int     `json:"quantity"`
	AvgCost  float64 `json:"avg_cost_per_share"`
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	out := make([]positionView, 0, 4)
	for _, right := range []broker.Right{broker.RightCall, broker.RightPut} {
		held, err := s.view.Held(r.Context(), right)
		if err != nil {
			s.logger.WithError(err).Error("Failed to fetch positions")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		for _, p := range held {
			out = append(out, positionView{
				Contract: p.Contract.Key(),
				Right:    right.String(),
				Quantity: p.Quantity,
				AvgCost:  p.AvgCostPerShare(),
			})
		}
	}
	s.writeJSON(w, map[string][]positionView{"positions": out})
}

type orderView struct {
	ID        int     `json:"id"`
	Contract  string  `json:"contract"`
	Side      string  `json:"side"`
	Type      string  `json:"type"`
	Quantity  int     `json:"quantity"`
	Remaining int     `json:"remaining"`
	Limit     float64 `json:"limit_price,omitempty"`
	Stop      float64 `json:"stop_price,omitempty"`
	Status    string  `json:"status"`
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.view.ActiveOrders(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to fetch open orders")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderView{
			ID:        o.Order.ID,
			Contract:  o.Contract.Key(),
			Side:      string(o.Order.Side),
			Type:      string(o.Order.Type),
			Quantity:  o.Order.Quantity,
			Remaining: o.Remaining,
			Limit:     o.Order.LimitPrice,
			Stop:      o.Order.StopPrice,
			Status:    string(o.Status),
		})
	}
	s.writeJSON(w, map[string][]orderView{"orders": out})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	buyingPower, err := s.broker.GetAccountValue(r.Context(), broker.AccountTagBuyingPower, "USD")
	if err != nil {
		s.logger.WithError(err).Error("Failed to fetch account value")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]float64{"buying_power": buyingPower})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
