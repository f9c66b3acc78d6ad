package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ai-trading-bot-go/internal/bot"
	"ai-trading-bot-go/internal/config"
	"ai-trading-bot-go/internal/logger"
	"ai-trading-bot-go/internal/models"
)

const defaultTradeLimit = 100

// Server exposes the controller over HTTP: lifecycle commands,
// dashboard queries and Prometheus metrics.
type Server struct {
	controller *bot.Controller
	router     *mux.Router
}

// NewServer builds the HTTP surface around a controller.
func NewServer(controller *bot.Controller, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		controller: controller,
		router:     mux.NewRouter(),
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/bot/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/bot/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/bot/ack", s.handleAcknowledgeHalt).Methods(http.MethodPost)
	api.HandleFunc("/bot/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleUpdateConfig).Methods(http.MethodPut)
	api.HandleFunc("/dashboard/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/trades", s.handleTrades).Methods(http.MethodGet)
	api.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	api.HandleFunc("/risk-metrics", s.handleRiskMetrics).Methods(http.MethodGet)
	api.HandleFunc("/market-analysis", s.handleMarketAnalysis).Methods(http.MethodGet)

	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.controller.Start(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.controller.Stop()
	writeJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) handleAcknowledgeHalt(w http.ResponseWriter, _ *http.Request) {
	if err := s.controller.AcknowledgeHalt(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.State())
}

// handleUpdateConfig validates the submitted config before swapping it in.
// An invalid config is refused wholesale; the running one stays active.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var next models.Config
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "malformed config: "+err.Error())
		return
	}
	config.ApplyDefaults(&next)
	if err := config.Validate(&next); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.controller.UpdateConfig(&next)
	writeJSON(w, http.StatusOK, map[string]int{"version": next.Version})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Stats())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	trades, err := s.controller.Trades(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if trades == nil {
		trades = []*models.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Positions())
}

func (s *Server) handleRiskMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.RiskMetrics())
}

func (s *Server) handleMarketAnalysis(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter is required")
		return
	}
	sig, ok := s.controller.MarketAnalysis(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "no analysis available for "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.S().Errorw("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
