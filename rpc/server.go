package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"raylend/native/flashliq"
	"raylend/native/lending"
)

// Config tunes the HTTP surface.
type Config struct {
	// RequestsPerSecond bounds requests per client address; zero disables
	// the limiter.
	RequestsPerSecond float64
	Burst             int
}

// Server exposes the pool's read models and the flash settlement path over
// HTTP.
type Server struct {
	pool   *lending.Pool
	logger *slog.Logger
	cfg    Config

	flashProvider *flashliq.Provider
	flashOrch     *flashliq.Orchestrator

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer constructs the HTTP server over the given pool.
func NewServer(pool *lending.Pool, logger *slog.Logger, cfg Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	return &Server{
		pool:     pool,
		logger:   logger,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Handler builds the routed handler, instrumented for tracing.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.rateLimit)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/reserves", s.handleListReserves)
		r.Get("/reserves/{asset}", s.handleReserve)
		r.Get("/accounts/{address}", s.handleAccount)
		r.Post("/liquidations", s.handleLiquidate)
	})

	return otelhttp.NewHandler(r, "raylend.rpc")
}

func (s *Server) limiter(client string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)
		s.limiters[client] = limiter
	}
	return limiter
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RequestsPerSecond <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		client, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			client = r.RemoteAddr
		}
		if !s.limiter(client).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleListReserves(w http.ResponseWriter, r *http.Request) {
	assets, err := s.pool.Reserves()
	if err != nil {
		s.logger.Error("list reserves", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	hexed := make([]string, len(assets))
	for i, asset := range assets {
		hexed[i] = asset.Hex()
	}
	writeJSON(w, map[string][]string{"reserves": hexed})
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "asset")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid asset address")
		return
	}
	data, err := s.pool.GetReserveData(common.HexToAddress(raw))
	if err != nil {
		if errors.Is(err, lending.ErrReserveNotListed) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("reserve data", "asset", raw, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, data)
}

// SetFlash wires the flash liquidation provider and orchestrator. Until both
// are set, POST /v1/liquidations answers 503.
func (s *Server) SetFlash(provider *flashliq.Provider, orch *flashliq.Orchestrator) {
	s.flashProvider = provider
	s.flashOrch = orch
}

type liquidationRequest struct {
	CollateralAsset string `json:"collateralAsset"`
	DebtAsset       string `json:"debtAsset"`
	User            string `json:"user"`
	DebtToCover     string `json:"debtToCover"`
	// FlashAmount is the flash loan principal; defaults to DebtToCover.
	FlashAmount string `json:"flashAmount"`
	Initiator   string `json:"initiator"`
}

func parseAmount(raw string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, false
	}
	return amount, true
}

func liquidationStatus(err error) int {
	switch {
	case errors.Is(err, lending.ErrReserveNotListed):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrInvalidAmount), errors.Is(err, lending.ErrInconsistentParams):
		return http.StatusBadRequest
	}
	var protoErr *lending.Error
	var flashErr *flashliq.Error
	if errors.As(err, &protoErr) || errors.As(err, &flashErr) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	if s.flashProvider == nil || s.flashOrch == nil {
		writeError(w, http.StatusServiceUnavailable, "flash settlement not configured")
		return
	}
	var req liquidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, raw := range []string{req.CollateralAsset, req.DebtAsset, req.User, req.Initiator} {
		if !common.IsHexAddress(raw) {
			writeError(w, http.StatusBadRequest, "invalid address")
			return
		}
	}
	debtToCover, ok := parseAmount(req.DebtToCover)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid debtToCover")
		return
	}
	flashAmount := debtToCover
	if req.FlashAmount != "" {
		if flashAmount, ok = parseAmount(req.FlashAmount); !ok {
			writeError(w, http.StatusBadRequest, "invalid flashAmount")
			return
		}
	}

	debtAsset := common.HexToAddress(req.DebtAsset)
	initiator := common.HexToAddress(req.Initiator)
	params := flashliq.LiquidationParams{
		CollateralAsset: common.HexToAddress(req.CollateralAsset),
		DebtAsset:       debtAsset,
		User:            common.HexToAddress(req.User),
		DebtToCover:     debtToCover,
	}
	err := s.flashProvider.FlashLoan(r.Context(), s.flashOrch, initiator,
		[]common.Address{debtAsset}, []*big.Int{flashAmount}, params)
	if err != nil {
		status := liquidationStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("flash liquidation", "user", req.User, "err", err)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "settled"})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}
	data, err := s.pool.GetUserAccountData(common.HexToAddress(raw))
	if err != nil {
		s.logger.Error("account data", "address", raw, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, data)
}
