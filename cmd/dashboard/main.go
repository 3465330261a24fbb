package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aquarium-dashboard/internal/dashboard"
	"aquarium-dashboard/internal/healthsrv"
	"aquarium-dashboard/internal/watch"
	"aquarium-dashboard/pkg/api"
	"aquarium-dashboard/pkg/auth"
	"aquarium-dashboard/pkg/client"
	"aquarium-dashboard/pkg/config"
	"aquarium-dashboard/pkg/db"
	"aquarium-dashboard/pkg/events"
	"aquarium-dashboard/pkg/logger"
	"aquarium-dashboard/pkg/store"
	"aquarium-dashboard/pkg/validator"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.LogToFile {
		logger.InitWithFileLogging(cfg.LogLevel, logger.Dashboard)
	} else {
		logger.Init(cfg.LogLevel)
	}
	defer logger.Close()

	startupLogger := logger.NewCategoryLogger(cfg.LogLevel, logger.Dashboard, logger.Startup)
	startupLogger.Info().Msg("Starting aquarium dashboard")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize store backend
	database, err := db.Open(ctx, db.Options{
		Backend:       cfg.StoreBackend,
		SQLitePath:    cfg.StorePath,
		RedisAddress:  cfg.Redis.Address,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		RedisPrefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		startupLogger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("Failed to open store")
	}
	defer database.Close()
	startupLogger.Info().Str("backend", cfg.StoreBackend).Msg("Store opened")

	// Every write is stamped with this instance's origin so relays can tell their own
	// changes from other processes'
	origin := uuid.New().String()
	bus := events.NewBus()
	st := store.New(database, bus, origin, logger.NewCategoryLogger(cfg.LogLevel, logger.Dashboard, logger.Store))

	// HMAC authentication for write routes
	var hmacAuth *auth.HMACAuth
	if cfg.AuthEnabled() {
		hmacAuth = auth.NewHMACAuth(cfg.GetSecrets(), cfg.GetClockSkew())
		startupLogger.Info().Str("key_id", cfg.HMACKeyID).Msg("HMAC authentication enabled for write routes")
	} else {
		startupLogger.Warn().Msg("SHARED_SECRET_KEY not set, write routes are unauthenticated")
	}

	clientLogger := logger.NewCategoryLogger(cfg.LogLevel, logger.Dashboard, logger.General)
	clientOpts := []client.Option{client.WithTimeout(cfg.RequestTimeout), client.WithLogger(clientLogger)}
	upstreams := dashboard.Upstreams{
		Monitor: client.NewMonitorClient(cfg.MonitorBaseURL(), clientOpts...),
		Species: client.NewSpeciesClient(cfg.SpeciesBaseURL(), clientOpts...),
		Brain:   client.NewBrainClient(cfg.BrainBaseURL(), clientOpts...),
	}

	v := validator.New(validator.Options{
		AppOrigin:  cfg.AppOrigin,
		APIBaseURL: cfg.APIBaseURL,
		Overrides:  cfg.StatusOverrides,
		Timeout:    cfg.RequestTimeout,
	}, st, logger.NewCategoryLogger(cfg.LogLevel, logger.Dashboard, logger.Validation))

	pollLogger := logger.NewCategoryLogger(cfg.LogLevel, logger.Dashboard, logger.Poller)
	svc := dashboard.NewService(st, v, upstreams.Brain, pollLogger)
	svc.Load(ctx)
	svc.Challenges(ctx)
	startupLogger.Info().Str("overall_status", svc.Status().OverallStatus).Msg("Dashboard state loaded")

	poller := dashboard.NewPoller(svc, bus, cfg.PollInterval, pollLogger)
	poller.Start(ctx)

	// Cross-process change sources
	syncLogger := logger.NewCategoryLogger(cfg.LogLevel, logger.Dashboard, logger.Sync)
	var fileWatcher *watch.FileWatcher
	if cfg.WatchStore && cfg.StoreBackend == db.BackendSQLite && watch.IsStoreFile(cfg.StorePath) {
		fileWatcher, err = watch.NewFileWatcher(cfg.StorePath, bus, syncLogger, watch.FileWatcherOptions{})
		if err == nil {
			err = fileWatcher.Start(ctx)
		}
		if err != nil {
			startupLogger.Error().Err(err).Msg("Failed to watch store file, continuing without it")
			fileWatcher = nil
		} else {
			st.SetBeforeWrite(fileWatcher.NoteLocalWrite)
		}
	}

	var relay *watch.Relay
	if cfg.SyncRedis {
		relay, err = startRelay(ctx, cfg, database, bus, origin)
		if err != nil {
			startupLogger.Error().Err(err).Msg("Failed to start Redis change relay, continuing without it")
			relay = nil
		}
	}

	// Initialize middleware
	middleware := api.NewMiddleware(hmacAuth, database, logger.NewCategoryLogger(cfg.LogLevel, logger.Dashboard, logger.Request))

	// Create router
	router := mux.NewRouter()
	router.Use(middleware.RequestLogging)
	router.Use(middleware.SizeLimit)
	router.Use(middleware.CORS)

	// Health endpoints (no auth required)
	router.HandleFunc("/healthz", api.HealthCheck).Methods("GET")
	router.HandleFunc("/readyz", api.ReadinessCheck(svc, startupLogger)).Methods("GET")

	stream := dashboard.NewStream(svc, bus, syncLogger)
	dashboard.NewHandler(svc, stream, upstreams, clientLogger).Routes(router, middleware)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.GetDashboardAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		startupLogger.Info().
			Str("address", cfg.GetDashboardAddr()).
			Str("app_origin", cfg.AppOrigin).
			Msg("Dashboard server starting")

		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			startupLogger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	var health *healthsrv.Server
	if cfg.GRPCHealthAddr != "" {
		health, err = healthsrv.Start(cfg.GRPCHealthAddr, startupLogger)
		if err != nil {
			startupLogger.Error().Err(err).Msg("Failed to start gRPC health endpoint")
		} else {
			go health.Follow(ctx, bus, svc)
		}
	}

	// Start background cleanup goroutine
	go cleanupNonces(ctx, database, cfg)
	startupLogger.Info().Msg("Background nonce cleanup routine started")

	// Wait for interrupt signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	<-interrupt
	startupLogger.Info().Msg("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		startupLogger.Error().Err(err).Msg("Server shutdown error")
	}
	stream.Close()
	poller.Stop()
	if fileWatcher != nil {
		st.SetBeforeWrite(nil)
		fileWatcher.Stop()
	}
	if relay != nil {
		if err := relay.Close(); err != nil {
			startupLogger.Warn().Err(err).Msg("Failed to close Redis change relay")
		}
	}
	if health != nil {
		if err := health.Shutdown(shutdownCtx); err != nil {
			startupLogger.Error().Err(err).Msg("gRPC health shutdown error")
		}
	}
	cancel()

	startupLogger.Info().Msg("Dashboard server stopped")

	// Clean up old log files (keep last 7 days)
	if err := logger.CleanupOldLogs(7); err != nil {
		startupLogger.Warn().Err(err).Msg("Failed to cleanup old log files")
	}
}

// startRelay connects the change relay, reusing the store's Redis client when the
// store itself lives in Redis.
func startRelay(ctx context.Context, cfg *config.Config, database db.Database, bus *events.Bus, origin string) (*watch.Relay, error) {
	var transport *watch.RedisTransport
	if rdb, ok := database.(*db.RedisDB); ok {
		transport = watch.NewRedisTransport(rdb.Client(), cfg.Redis.Channel)
	} else {
		transport = watch.DialRedisTransport(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.Channel)
	}

	relay := watch.NewRelay(transport, bus, origin,
		logger.NewCategoryLogger(cfg.LogLevel, logger.Dashboard, logger.Sync))
	if err := relay.Start(ctx); err != nil {
		_ = transport.Close()
		return nil, err
	}
	return relay, nil
}

func cleanupNonces(ctx context.Context, database db.NonceStore, cfg *config.Config) {
	cleanupLogger := logger.NewCategoryLogger(cfg.LogLevel, logger.Dashboard, logger.General)

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Clean up nonces older than 2x clock skew
			olderThan := time.Now().Add(-2 * cfg.GetClockSkew())
			if err := database.CleanupOldNonces(olderThan); err != nil {
				cleanupLogger.Error().Err(err).Msg("Failed to cleanup old nonces")
			} else {
				cleanupLogger.Debug().Msg("Cleaned up old nonces")
			}
		}
	}
}
