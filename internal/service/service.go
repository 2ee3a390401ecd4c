package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/verifailabs/verifai/config"
	"github.com/verifailabs/verifai/internal/realtime"
	"github.com/verifailabs/verifai/internal/tkv"
	"github.com/verifailabs/verifai/internal/workers"
)

// Service is the HTTP surface of the platform plus the wiring point for
// the realtime plane. One explicitly constructed instance per process.
type Service struct {
	appCtx context.Context
	cfg    *config.Server
	logger *slog.Logger
	tkv    tkv.TKV

	registry  *realtime.Registry
	router    *realtime.Router
	bridge    *realtime.Bridge
	gate      *realtime.Gate
	endpoint  *realtime.Endpoint
	producers *realtime.Producers
	workers   *workers.Manager

	authToken string
	mux       *http.ServeMux

	startedAt    time.Time
	rateLimiters map[string]*rate.Limiter
}

func NewService(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Server,
	kv tkv.TKV,
	rdb *redis.Client,
) (*Service, error) {

	secHash := sha256.New()
	secHash.Write([]byte(cfg.RootKey))
	authToken := hex.EncodeToString(secHash.Sum(nil))

	rateLimiters := make(map[string]*rate.Limiter)
	rlLogger := logger.With("component", "rate-limiter")

	if rlConfig := cfg.RateLimiters.Api; rlConfig.Limit > 0 {
		rateLimiters["api"] = rate.NewLimiter(rate.Limit(rlConfig.Limit), rlConfig.Burst)
		rlLogger.Info("Initialized rate limiter for 'api'", "limit", rlConfig.Limit, "burst", rlConfig.Burst)
	}
	if rlConfig := cfg.RateLimiters.Default; rlConfig.Limit > 0 {
		rateLimiters["default"] = rate.NewLimiter(rate.Limit(rlConfig.Limit), rlConfig.Burst)
		rlLogger.Info("Initialized rate limiter for 'default'", "limit", rlConfig.Limit, "burst", rlConfig.Burst)
	}

	s := &Service{
		appCtx:       ctx,
		cfg:          cfg,
		logger:       logger,
		tkv:          kv,
		authToken:    authToken,
		mux:          http.NewServeMux(),
		rateLimiters: rateLimiters,
	}

	s.registry = realtime.NewRegistry(logger)
	s.router = realtime.NewRouter(s.registry, logger)
	s.bridge = realtime.NewBridge(rdb, s.router, cfg.Redis.BroadcastChannel, logger)
	s.gate = realtime.NewGate(s, cfg.Cache.Tokens, logger)
	s.endpoint = realtime.NewEndpoint(
		ctx, cfg.Sessions, cfg.RateLimiters.Actions,
		s.registry, s.router, s.bridge, s.gate, logger,
	)
	s.producers = realtime.NewProducers(s.bridge)
	s.workers = workers.NewManager(ctx, cfg.Workers, kv, s.producers, logger)

	return s, nil
}

func (s *Service) Producers() *realtime.Producers { return s.producers }
func (s *Service) Registry() *realtime.Registry   { return s.registry }
func (s *Service) Bridge() *realtime.Bridge       { return s.bridge }

func (s *Service) rateLimitMiddleware(next http.Handler, category string) http.Handler {
	limiter, ok := s.rateLimiters[category]
	if !ok {
		limiter, ok = s.rateLimiters["default"]
		if !ok {
			s.logger.Warn("No rate limiter configured for category and no default limiter present", "category", category)
			return next
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			s.logger.Warn("Rate limit exceeded", "category", category, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Routes wires every handler onto the mux. Split from Run so tests can
// mount the full surface on an httptest server.
func (s *Service) Routes() http.Handler {

	// Realtime endpoints
	s.mux.Handle("/ws/connect", http.HandlerFunc(s.endpoint.ServeConnect))
	s.mux.Handle("/ws/proof/{id}", http.HandlerFunc(s.endpoint.ServeProofTracking))

	// Agent handlers
	s.mux.Handle("/api/v1/agents", s.rateLimitMiddleware(http.HandlerFunc(s.agentsHandler), "api"))
	s.mux.Handle("/api/v1/agents/{id}", s.rateLimitMiddleware(http.HandlerFunc(s.agentHandler), "api"))
	s.mux.Handle("/api/v1/agents/{id}/heartbeat", s.rateLimitMiddleware(http.HandlerFunc(s.agentHeartbeatHandler), "api"))

	// Proof handlers
	s.mux.Handle("/api/v1/proofs", s.rateLimitMiddleware(http.HandlerFunc(s.proofsHandler), "api"))
	s.mux.Handle("/api/v1/proofs/{id}", s.rateLimitMiddleware(http.HandlerFunc(s.proofHandler), "api"))

	// Settlement handlers
	s.mux.Handle("/api/v1/settlements", s.rateLimitMiddleware(http.HandlerFunc(s.settlementsHandler), "api"))
	s.mux.Handle("/api/v1/settlements/{id}", s.rateLimitMiddleware(http.HandlerFunc(s.settlementHandler), "api"))

	// Swarm handlers
	s.mux.Handle("/api/v1/swarms", s.rateLimitMiddleware(http.HandlerFunc(s.swarmsHandler), "api"))
	s.mux.Handle("/api/v1/swarms/{id}/join", s.rateLimitMiddleware(http.HandlerFunc(s.swarmJoinHandler), "api"))

	// Reward handlers
	s.mux.Handle("/api/v1/rewards/balance", s.rateLimitMiddleware(http.HandlerFunc(s.rewardBalanceHandler), "api"))
	s.mux.Handle("/api/v1/rewards/history", s.rateLimitMiddleware(http.HandlerFunc(s.rewardHistoryHandler), "api"))

	// System handlers
	s.mux.Handle("/api/v1/users", s.rateLimitMiddleware(http.HandlerFunc(s.createUserHandler), "default"))
	s.mux.Handle("/api/v1/announce", s.rateLimitMiddleware(http.HandlerFunc(s.announceHandler), "default"))
	s.mux.Handle("/api/v1/dashboard/stats", s.rateLimitMiddleware(http.HandlerFunc(s.dashboardHandler), "api"))
	s.mux.Handle("/api/v1/ping", s.rateLimitMiddleware(http.HandlerFunc(s.pingHandler), "default"))

	return s.mux
}

// Run serves until the app context is cancelled. The broker listener and
// the background workers live for the same span.
func (s *Service) Run() {

	handler := s.Routes()

	go s.bridge.Listen(s.appCtx)
	s.workers.Start()

	srv := &http.Server{
		Addr:    s.cfg.HttpBinding,
		Handler: handler,
	}

	go func() {
		<-s.appCtx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Server shutdown error", "error", err)
		}
	}()

	s.startedAt = time.Now()

	s.logger.Info("Starting HTTP server", "listen_addr", s.cfg.HttpBinding)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		s.logger.Error("HTTP server error", "error", err)
	}

	s.workers.Wait()
	s.gate.Stop()
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Could not encode response", "error", err)
	}
}
