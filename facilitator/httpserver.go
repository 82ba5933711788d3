package facilitator

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ledgerflow/x402/internal/config"
	"github.com/ledgerflow/x402/internal/logging"

	x402 "github.com/ledgerflow/x402"
)

// Server exposes an X402Facilitator's Verify/Settle/GetSupported over HTTP.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	facilitator *x402.X402Facilitator
	logger      zerolog.Logger
}

// NewServer builds the facilitator HTTP server with a configured router.
func NewServer(cfg *config.Config, fac *x402.X402Facilitator, logger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{facilitator: fac, logger: logger},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, fac, logger)

	return s
}

// ConfigureRouter attaches the facilitator's routes to an existing router,
// so callers can embed the facilitator inside a larger service if they want.
func ConfigureRouter(router chi.Router, cfg *config.Config, fac *x402.X402Facilitator, logger zerolog.Logger) {
	if router == nil {
		return
	}

	h := handlers{facilitator: fac, logger: logger}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(logging.Middleware(logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	if cfg.RateLimit.Enabled {
		router.Use(httprate.LimitByIP(cfg.RateLimit.Limit, cfg.RateLimit.Window.Duration))
	}

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints: discovery and metrics get a short timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/supported", h.getSupported)
		r.Get(prefix+"/health", h.health)
		r.Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Verify/settle hit chains and external signers, so they get more room.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Post(prefix+"/verify", h.verify)
		r.Post(prefix+"/settle", h.settle)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *handlers) getSupported(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.facilitator.GetSupported())
}

type verifyOrSettleRequest struct {
	PaymentPayload      json.RawMessage `json:"paymentPayload"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements"`
}

func (h *handlers) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyOrSettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	payload, requirements, err := decodeVerifyOrSettleRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := h.facilitator.Verify(r.Context(), payload, requirements)
	if err != nil {
		logging.FromContext(r.Context()).Error().Err(err).Msg("verify.failed")
		writeJSON(w, http.StatusOK, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) settle(w http.ResponseWriter, r *http.Request) {
	var req verifyOrSettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	payload, requirements, err := decodeVerifyOrSettleRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := h.facilitator.Settle(r.Context(), payload, requirements)
	if err != nil {
		logging.FromContext(r.Context()).Error().Err(err).Msg("settle.failed")
		writeJSON(w, http.StatusOK, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func decodeVerifyOrSettleRequest(req verifyOrSettleRequest) (x402.PaymentPayload, x402.PaymentRequirements, error) {
	var payload x402.PaymentPayload
	if err := json.Unmarshal(req.PaymentPayload, &payload); err != nil {
		return payload, x402.PaymentRequirements{}, err
	}
	var requirements x402.PaymentRequirements
	if err := json.Unmarshal(req.PaymentRequirements, &requirements); err != nil {
		return payload, requirements, err
	}
	return payload, requirements, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
