package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/HammerMeetNail/friendlane/internal/config"
	"github.com/HammerMeetNail/friendlane/internal/database"
	"github.com/HammerMeetNail/friendlane/internal/handlers"
	"github.com/HammerMeetNail/friendlane/internal/logging"
	"github.com/HammerMeetNail/friendlane/internal/metrics"
	"github.com/HammerMeetNail/friendlane/internal/middleware"
	"github.com/HammerMeetNail/friendlane/internal/services"
	"github.com/HammerMeetNail/friendlane/internal/services/algolia"
)

const identityProvider = "oidc"

func main() {
	if err := run(); err != nil {
		logging.Error("Application error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	logger := logging.New()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cfg.Server.Debug {
		logger.SetLevel(logging.LevelDebug)
		logging.SetDefaultLevel(logging.LevelDebug)
		logger.Debug("Debug logging enabled", map[string]interface{}{"env": cfg.Server.Environment})
	}

	logger.Info("Starting Friendlane server...")

	// Connect to PostgreSQL
	logger.Info("Connecting to PostgreSQL", map[string]interface{}{
		"host": cfg.Database.Host,
		"port": cfg.Database.Port,
	})
	db, err := database.NewPostgresDB(cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	logger.Info("Running database migrations...")
	if err := database.RunMigrations(cfg.Database.DSN()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("Migrations completed")

	// Connect to Redis
	logger.Info("Connecting to Redis", map[string]interface{}{
		"addr": cfg.Redis.Addr(),
	})
	redisDB, err := database.NewRedisDB(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() { _ = redisDB.Close() }()
	logger.Info("Connected to Redis")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(registry)

	// Initialize services
	dbAdapter := services.NewPoolAdapter(db.Pool)
	redisAdapter := services.NewRedisAdapter(redisDB.Client)

	profileService := services.NewProfileService(dbAdapter)
	relationshipService := services.NewRelationshipService(dbAdapter)
	relationshipService.SetMetrics(recorder)
	relationshipService.SetLogger(logger)

	var emailSender services.EmailSender = services.NewConsoleEmailSender(logger)
	if cfg.Email.Provider == "resend" && cfg.Email.ResendAPIKey != "" {
		emailSender = services.NewResendEmailSender(cfg.Email.ResendAPIKey, cfg.Email.FromAddress, cfg.Email.FromName)
	}
	notificationService := services.NewNotificationService(profileService, emailSender, cfg.Email.BaseURL)
	notificationService.SetLogger(logger)

	natsConn, err := connectNATS(cfg.Events.NATSURL, logger)
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
		notificationService.SetEventPublisher(services.NewNATSPublisher(natsConn, cfg.Events.SubjectPrefix))
	}

	asyncCtx, asyncCancel := context.WithCancel(context.Background())
	defer asyncCancel()
	notificationService.SetAsyncContext(asyncCtx)
	relationshipService.SetNotificationService(notificationService)

	searchService := services.NewDirectorySearchService(profileService, relationshipService)
	searchService.SetLimits(cfg.Search.HitsPerPage, cfg.Search.FallbackLimit)
	searchService.SetMetrics(recorder)
	searchService.SetLogger(logger)

	var keyCache *services.SearchKeyCache
	var algoliaClient *algolia.Client
	if cfg.Search.Enabled() {
		algoliaClient = algolia.NewClient(&http.Client{Timeout: 5 * time.Second}, algolia.Config{
			AppID:    cfg.Search.AppID,
			AdminKey: cfg.Search.AdminAPIKey,
			Index:    cfg.Search.IndexName,
			HostURL:  cfg.Search.HostURL,
			WriteQPS: cfg.Search.WriteQPS,
		})
		algoliaClient.SetLogger(logger)

		issuer := services.NewSecuredKeyIssuer(cfg.Search.SearchAPIKey, cfg.Search.IndexName, cfg.Search.KeyTTL)
		keyCache = services.NewSearchKeyCache(redisAdapter, issuer, cfg.Search.KeyTTL, cfg.Search.KeyRefresh)
		keyCache.SetLogger(logger)
		searchService.SetProvider(keyCache, algoliaClient)
		logger.Info("Hosted search enabled", map[string]interface{}{"index": cfg.Search.IndexName})
	} else {
		logger.Warn("Hosted search not configured; using profile store fallback")
	}

	indexCtx, indexCancel := context.WithCancel(context.Background())
	defer indexCancel()
	if algoliaClient != nil && cfg.Search.AdminAPIKey != "" {
		indexer := services.NewProfileIndexer(profileService, algoliaClient)
		indexer.SetMetrics(recorder)
		indexer.SetLogger(logger)

		changes, err := database.NewProfileChangeListener(db, logger).Listen(indexCtx)
		if err != nil {
			return fmt.Errorf("listening for profile changes: %w", err)
		}
		go indexer.Run(indexCtx, changes)
		logger.Info("Profile indexer started")
	}

	var verifier services.TokenVerifier
	if cfg.Auth.IssuerURL != "" && cfg.Auth.ClientID != "" {
		// The verifier keeps this context for key refreshes, so it must outlive startup.
		oidcVerifier, err := services.NewOIDCVerifier(context.Background(), services.OIDCVerifierConfig{
			IssuerURL: cfg.Auth.IssuerURL,
			ClientID:  cfg.Auth.ClientID,
		})
		if err != nil {
			return fmt.Errorf("initializing oidc verifier: %w", err)
		}
		verifier = oidcVerifier
	} else {
		logger.Warn("OIDC not configured; all API requests will be rejected")
	}

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db, redisDB)
	relationshipHandler := handlers.NewRelationshipHandler(relationshipService)
	profileHandler := handlers.NewProfileHandler(profileService)
	var keyIssuer handlers.SearchKeyIssuer
	if keyCache != nil {
		keyIssuer = keyCache
	}
	searchHandler := handlers.NewSearchHandler(searchService, keyIssuer)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(verifier, profileService, identityProvider)
	requestLogger := middleware.NewRequestLogger(logger)
	searchLimit := resolveSearchRateLimit(cfg, logger, os.LookupEnv)
	searchRateLimiter := middleware.NewRateLimiter(redisDB.Client, searchLimit, time.Minute, middleware.SearchKeyPrefix(time.Minute), middleware.UserKey, true)

	requireAuth := authMiddleware.RequireAuth

	mux := http.NewServeMux()

	// Health and metrics
	mux.HandleFunc("GET /health", healthHandler.Health)
	mux.HandleFunc("GET /ready", healthHandler.Ready)
	mux.HandleFunc("GET /live", healthHandler.Live)
	mux.Handle("GET /metrics", metrics.Handler(registry))

	// Relationship endpoints
	mux.Handle("GET /api/friends", requireAuth(http.HandlerFunc(relationshipHandler.List)))
	mux.Handle("POST /api/friends/requests", requireAuth(http.HandlerFunc(relationshipHandler.SendRequest)))
	mux.Handle("PUT /api/friends/requests/{id}/accept", requireAuth(http.HandlerFunc(relationshipHandler.AcceptRequest)))
	mux.Handle("DELETE /api/friends/requests/{id}/cancel", requireAuth(http.HandlerFunc(relationshipHandler.CancelRequest)))
	mux.Handle("DELETE /api/friends/{id}", requireAuth(http.HandlerFunc(relationshipHandler.Unfriend)))
	mux.Handle("POST /api/friends/{id}/actions", requireAuth(http.HandlerFunc(relationshipHandler.ApplyAction)))
	mux.Handle("POST /api/blocks", requireAuth(http.HandlerFunc(relationshipHandler.Block)))

	// Search endpoints
	mux.Handle("GET /api/users/search", requireAuth(searchRateLimiter.Middleware(http.HandlerFunc(searchHandler.Search))))
	mux.Handle("POST /api/search/key", requireAuth(http.HandlerFunc(searchHandler.SearchKey)))

	// Profile endpoints
	mux.Handle("GET /api/profile", requireAuth(http.HandlerFunc(profileHandler.Me)))
	mux.Handle("PATCH /api/profile", requireAuth(http.HandlerFunc(profileHandler.Update)))
	mux.Handle("PUT /api/profile/searchable", requireAuth(http.HandlerFunc(profileHandler.UpdateSearchable)))
	mux.Handle("GET /api/users/{id}", requireAuth(http.HandlerFunc(profileHandler.Get)))

	// Build middleware chain (order matters: outermost first)
	var handler http.Handler = mux
	handler = authMiddleware.Authenticate(handler)
	handler = requestLogger.Apply(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("Server is shutting down...")
		indexCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Could not gracefully shutdown the server", map[string]interface{}{
				"error": err.Error(),
			})
		}
		waitWithTimeout(notificationService.Wait, 10*time.Second, logger)
		asyncCancel()
		close(done)
	}()

	logger.Info("Server listening", map[string]interface{}{
		"addr": addr,
	})
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	logger.Info("Server stopped")
	return nil
}

var natsConnect = func(url string, opts ...nats.Option) (*nats.Conn, error) {
	return nats.Connect(url, opts...)
}

// connectNATS returns nil when no URL is configured; events are then dropped.
func connectNATS(url string, logger *logging.Logger) (*nats.Conn, error) {
	if url == "" {
		logger.Info("NATS not configured; relationship events disabled")
		return nil, nil
	}
	conn, err := natsConnect(url,
		nats.Name("friendlane"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", map[string]interface{}{"error": err.Error()})
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", map[string]interface{}{"url": c.ConnectedUrl()})
		}),
	)
	if err != nil {
		return nil, err
	}
	logger.Info("Connected to NATS", map[string]interface{}{"url": conn.ConnectedUrl()})
	return conn, nil
}

func waitWithTimeout(wait func(), timeout time.Duration, logger *logging.Logger) {
	finished := make(chan struct{})
	go func() {
		wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(timeout):
		logger.Warn("Timed out waiting for notifications to drain", map[string]interface{}{"timeout": timeout.String()})
	}
}

func resolveSearchRateLimit(cfg *config.Config, logger *logging.Logger, lookupEnv func(string) (string, bool)) int64 {
	limit := int64(120)
	if cfg.Server.Environment == "development" {
		limit = 1000
		logger.Info("Using development search rate limit", map[string]interface{}{"limit": limit})
	}
	if v, ok := lookupEnv("SEARCH_RATE_LIMIT"); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			limit = parsed
			logger.Info("Using search rate limit from env", map[string]interface{}{"limit": limit})
		} else {
			logger.Warn("Invalid SEARCH_RATE_LIMIT; using default", map[string]interface{}{
				"value": v,
				"limit": limit,
			})
		}
	}
	return limit
}
