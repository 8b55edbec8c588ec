package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/botify/catalog/core/catalog"
	"github.com/botify/catalog/core/infra/config"
	"github.com/botify/catalog/core/infra/logging"
	"github.com/botify/catalog/core/infra/metrics"
	"github.com/gorilla/websocket"
)

const (
	// multipartOverhead covers form fields and part headers around the archive.
	multipartOverhead = 1 << 20
	maxFormMemory     = 1 << 20
	maxRatingBody     = 4 << 10
	shutdownTimeout   = 10 * time.Second
)

type server struct {
	svc     *catalog.Service
	hub     *Hub
	metrics metrics.GatewayMetrics
	auth    AuthProvider
	limiter *tokenBucket
	origins originPolicy

	upgrader websocket.Upgrader
}

// Options carries the collaborators of the HTTP layer.
type Options struct {
	Service *catalog.Service
	// Hub is optional; without it the stream endpoint answers 503.
	Hub     *Hub
	Metrics metrics.GatewayMetrics
}

// Handler is the assembled HTTP surface plus the resources it owns.
type Handler struct {
	http.Handler
	limiter *tokenBucket
}

// Close releases background resources held by the handler.
func (h *Handler) Close() {
	h.limiter.Stop()
}

// NewHandler builds the routed, middleware-wrapped HTTP handler.
func NewHandler(cfg *config.Config, opts Options) (*Handler, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if opts.Service == nil {
		return nil, errors.New("catalog service required")
	}
	s := &server{
		svc:     opts.Service,
		hub:     opts.Hub,
		metrics: opts.Metrics,
		origins: newOriginPolicy(cfg.AllowedOrigins),
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	if cfg.AuthMode == config.AuthAuthenticated {
		provider, err := NewAPIKeyAuth(cfg.APIKeys)
		if err != nil {
			return nil, fmt.Errorf("init auth: %w", err)
		}
		s.auth = provider
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.origins.allows,
	}
	s.limiter = newTokenBucket(cfg.RateLimitRPS, cfg.RateLimitBurst)

	handler := corsMiddleware(s.origins, rateLimitMiddleware(s.limiter, apiKeyMiddleware(s.auth, s.routes())))
	return &Handler{Handler: handler, limiter: s.limiter}, nil
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/v1/stats", s.instrumented("/api/v1/stats", s.handleStats))

	mux.HandleFunc("GET /api/v1/bots", s.instrumented("/api/v1/bots", s.handleListBots))
	mux.HandleFunc("POST /api/v1/bots", s.instrumented("/api/v1/bots", s.handleSubmitBot))
	mux.HandleFunc("GET /api/v1/bots/search", s.instrumented("/api/v1/bots/search", s.handleSearchBots))
	mux.HandleFunc("POST /api/v1/bots/validate", s.instrumented("/api/v1/bots/validate", s.handleValidateArchive))
	mux.HandleFunc("POST /api/v1/bots/inspect", s.instrumented("/api/v1/bots/inspect", s.handleInspectArchive))
	mux.HandleFunc("GET /api/v1/bots/{id}", s.instrumented("/api/v1/bots/{id}", s.handleGetBot))
	mux.HandleFunc("POST /api/v1/bots/{id}/downloads", s.instrumented("/api/v1/bots/{id}/downloads", s.handleRecordDownload))
	mux.HandleFunc("GET /api/v1/bots/{id}/download", s.instrumented("/api/v1/bots/{id}/download", s.handleDownloadBot))
	mux.HandleFunc("POST /api/v1/bots/{id}/ratings", s.instrumented("/api/v1/bots/{id}/ratings", s.handleRateBot))

	mux.HandleFunc("GET /api/v1/stream", s.instrumented("/api/v1/stream", s.handleStream))
	return mux
}

// Run serves the API and metrics listeners until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	handler, err := NewHandler(cfg, opts)
	if err != nil {
		return err
	}
	defer handler.Close()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      metricsMux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logging.Info("gateway", "metrics listening", "addr", cfg.MetricsAddr+"/metrics")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("gateway", "metrics server error", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// Uploads of up to max_upload_bytes need a generous read window.
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("gateway", "http listening", "addr", cfg.HTTPAddr, "auth_mode", cfg.AuthMode)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logging.Error("gateway", "http server error", "error", err)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	logging.Info("gateway", "http server stopped")
	return nil
}
