package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"modelplayground/internal/blob"
	"modelplayground/internal/cache"
	"modelplayground/internal/config"
	"modelplayground/internal/core"
	"modelplayground/internal/metrics"
	"modelplayground/internal/rehost"
	"modelplayground/internal/schema"
	"modelplayground/internal/validate"
	"modelplayground/internal/webhook"

	"github.com/gin-gonic/gin"
)

// Server application server
type Server struct {
	port    string
	ginMode string

	httpClient *http.Client
	router     *gin.Engine

	cache          *cache.CacheService
	metricsService *metrics.MetricsService

	schemas   *schema.Loader
	store     core.BlobStore
	rehoster  *rehost.Rehoster
	verifier  *webhook.Verifier
	processor *webhook.Processor
	media     *validate.MediaValidator

	config config.ServerConfig

	rateLimiter *rateLimiter

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// NewServer creates a new server instance
func NewServer(cfg config.ServerConfig) (*Server, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required in ServerConfig")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required in ServerConfig")
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = core.DefaultRateLimit
	}

	httpClient := createOptimizedHTTPClient(cfg.HTTPClientSettings)

	store, err := blob.New(blob.Config{
		Backend:        cfg.Blob.Backend,
		VercelToken:    cfg.Blob.VercelToken,
		VercelBaseURL:  cfg.Blob.VercelBaseURL,
		SupabaseURL:    cfg.Blob.SupabaseURL,
		SupabaseKey:    cfg.Blob.SupabaseKey,
		SupabaseBucket: cfg.Blob.SupabaseBucket,
		LocalDir:       cfg.Blob.LocalDir,
		PublicBaseURL:  cfg.PublicBaseURL,
		HTTPClient:     httpClient,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}

	cacheService := cache.NewCacheService()

	metricsService := metrics.NewMetricsService(metrics.MetricsConfig{
		SaveInterval: core.MinSaveInterval,
		HistorySize:  core.HistoryBufferSize,
		Storage:      cfg.Storage,
		Logger:       cfg.Logger,
	})

	if err := metricsService.LoadStats(); err != nil {
		cfg.Logger.Warn("Failed to load historical stats: %v", err)
	}

	rehoster := rehost.New(httpClient, store, cfg.Logger, metricsService)

	var verifier *webhook.Verifier
	if cfg.Webhook.Verify {
		verifier = webhook.NewVerifier(webhook.VerifierConfig{
			JWKSURL:    cfg.Webhook.JWKSURL,
			HTTPClient: httpClient,
			Cache:      cacheService,
			Logger:     cfg.Logger,
		})
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	server := &Server{
		port:           cfg.Port,
		ginMode:        cfg.GinMode,
		httpClient:     httpClient,
		cache:          cacheService,
		metricsService: metricsService,
		schemas:        schema.NewLoader(cfg.SchemasDir, cacheService, cfg.Logger),
		store:          store,
		rehoster:       rehoster,
		verifier:       verifier,
		processor:      webhook.NewProcessor(rehoster, cacheService, cfg.Logger),
		media:          validate.NewMediaValidator(),
		config:         cfg,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}

	server.setupRoutes()

	return server, nil
}

func createOptimizedHTTPClient(settings config.HTTPClientSettings) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          settings.MaxIdleConns,
		MaxIdleConnsPerHost:   settings.MaxIdleConnsPerHost,
		MaxConnsPerHost:       settings.MaxConnsPerHost,
		IdleConnTimeout:       settings.IdleConnTimeout,
		TLSHandshakeTimeout:   settings.TLSHandshakeTimeout,
		ExpectContinueTimeout: core.HTTPExpectContinueTimeout,
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: core.HTTPResponseHeaderTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   settings.RequestTimeout,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run runs the server
func (s *Server) Run() error {
	s.setupGracefulShutdown()

	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute, // uploads up to MaxBodySize
		WriteTimeout:      5 * time.Minute, // replicate polls for up to two minutes, then rehosts
	}

	go func() {
		<-s.shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.config.Logger.Error("Server shutdown error: %v", err)
		}
	}()

	s.config.Logger.Info("Server starting on port %s", s.port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) setupGracefulShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		s.config.Logger.Info("Shutdown signal received, shutting down gracefully...")
		s.shutdownCancel()
	}()
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "healthy"})
}

func (s *Server) getStatsData(c *gin.Context) {
	stats := s.metricsService.GetRequestStats()
	periodStats := metrics.GetPeriodStats(stats.RequestHistory, 24, 24*7, 24*30)
	currentQPS := s.metricsService.GetQPS()

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"currentTime":    time.Now().Format(core.TimeFormatDateTime),
		"currentQPS":     fmt.Sprintf("%.3f", currentQPS),
		"totalRequests":  stats.TotalRequests,
		"totalRecords":   len(stats.RequestHistory),
		"stats24h":       periodStats[24],
		"stats7d":        periodStats[24*7],
		"stats30d":       periodStats[24*30],
		"providers":      metrics.CountByProvider(stats.RequestHistory),
		"rehostedMedia":  stats.RehostedMedia,
		"rehostFailures": stats.RehostFailures,
	})
}

// Close closes the server
func (s *Server) Close() error {
	if s.shutdownCancel != nil {
		s.shutdownCancel()
	}

	var closeErr error

	if s.rateLimiter != nil {
		s.rateLimiter.stop()
	}

	if s.metricsService != nil {
		if err := s.metricsService.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close metrics service: %w", err))
		}
	}

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close cache service: %w", err))
		}
	}

	return closeErr
}
