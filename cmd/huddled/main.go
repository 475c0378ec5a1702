package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/internal/core/services"
	httphandlers "huddle/internal/handlers/http"
	"huddle/internal/infrastructure/events"
	"huddle/internal/infrastructure/middleware"
	"huddle/internal/infrastructure/monitoring"
	"huddle/internal/infrastructure/platform/pionmd"
	"huddle/internal/infrastructure/platform/synthetic"
	"huddle/internal/infrastructure/recorder/webm"
	repositories "huddle/internal/infrastructure/repositories"
	"huddle/internal/infrastructure/storage"
	"huddle/pkg/config"
	"huddle/pkg/logger"
	"huddle/pkg/tracing"
	"huddle/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// pionOptions supplies encoders for the pion driver. Builds with the pion
// tag register hardware drivers and replace it.
var pionOptions = func(cfg *config.Config) ([]pionmd.Option, error) { return nil, nil }

func main() {
	startTime := time.Now()

	configPath := flag.String("config", "", "path to config file")
	driver := flag.String("driver", "", "capture driver override (synthetic|pion)")
	flag.Parse()

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		// Logger is not configured yet.
		logger.New("info").Sugar().Fatalw("failed to load configuration", "path", path, "error", err)
	}
	if *driver != "" {
		cfg.Capture.Driver = *driver
		if err := cfg.Validate(); err != nil {
			logger.New("info").Sugar().Fatalw("invalid driver", "driver", *driver, "error", err)
		}
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	log.Infow("configuration loaded",
		"path", path,
		"room_id", cfg.Session.RoomID,
		"driver", cfg.Capture.Driver,
		"catalog", cfg.Recording.Catalog,
		"token_secret", utils.MaskSensitive(cfg.Auth.TokenSecret, 2),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	if cfg.Tracing.Enabled {
		tc := tracing.DefaultConfig()
		tc.Enabled = true
		tc.JaegerURL = cfg.Tracing.JaegerEndpoint
		tc.SampleRate = cfg.Tracing.SampleRate
		tp, err := tracing.Init(tc)
		if err != nil {
			log.Fatalw("failed to initialize tracing", "error", err)
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Warnw("tracer shutdown failed", "error", err)
			}
		}()
	}

	// Metrics
	var collector *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	// Catalog and artifact storage
	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, log)
	defer repoFactory.Close()
	catalog := repoFactory.CreateArtifactRepository()

	store, err := storage.NewFileStore(cfg.Recording.OutputDir)
	if err != nil {
		log.Fatalw("failed to open recording directory", "dir", cfg.Recording.OutputDir, "error", err)
	}
	delivery := storage.NewDelivery(store, catalog, log)

	// Capture platform and recorder
	devices, err := newPlatform(cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize capture platform", "driver", cfg.Capture.Driver, "error", err)
	}
	recorders := webm.NewFactory(recorderConfig(cfg), log)

	// Event feed and orchestrator
	room := domain.RoomID(cfg.Session.RoomID)
	shareDefaults := shareOptions(cfg)

	hubOpts := events.OptionsFromConfig(cfg)
	hubOpts.ShareDefaults = shareDefaults
	var watcher events.ClientObserver
	if collector != nil {
		watcher = collector
	}
	hub := events.NewHub(room, hubOpts, middleware.NewConnectionLimiter(cfg), watcher, log)

	deps := services.Dependencies{
		Devices:   devices,
		Recorders: recorders,
		Preview:   hub,
		Artifacts: delivery,
		Observers: []ports.SessionObserver{hub},
	}
	if collector != nil {
		deps.Metrics = collector
	}
	orchestrator := services.NewSessionOrchestrator(orchestratorConfig(cfg), deps, log)
	hub.Attach(orchestrator)

	tokens := services.NewTokenService(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)

	// Health
	health := monitoring.NewHealthChecker()
	if collector != nil {
		health.OnResult(collector.RecordHealthCheck)
	}
	health.AddCatalogCheck(catalog, cfg.Monitoring.HealthCheckInterval, 2*time.Second)
	health.AddDevicesCheck(devices, cfg.Monitoring.HealthCheckInterval, 5*time.Second)
	if repoFactory.RedisClient() != nil {
		health.AddCheck(monitoring.HealthCheck{
			Name:     "redis",
			Check:    repoFactory.HealthCheck,
			Interval: cfg.Monitoring.HealthCheckInterval,
			Timeout:  2 * time.Second,
		})
	}
	health.StartBackgroundChecks(ctx)

	// HTTP
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	var requests middleware.RequestObserver
	if collector != nil {
		requests = collector
	}
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(requests),
		middleware.RequestLoggingMiddleware(logger.NewContextLogger(zapLogger), cfg.Session.RoomID),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	httphandlers.NewTokenHandler(tokens).SetupRoutes(router)

	auth := middleware.OptionalAuthMiddleware(tokens)
	if cfg.Auth.RequireToken {
		auth = middleware.AuthMiddleware(tokens, room)
	}

	api := router.Group("/api/v1")
	api.Use(auth)
	httphandlers.NewSessionHandler(orchestrator, shareDefaults).SetupRoutes(api)
	httphandlers.NewRecordingsHandler(room, catalog, store, log).SetupRoutes(api)

	router.GET("/ws/session", auth, gin.WrapF(hub.HandleWebSocket))

	router.GET("/health", func(c *gin.Context) {
		status := health.Cached()
		c.JSON(http.StatusOK, gin.H{
			"status":    status.Status,
			"checks":    status.Checks,
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"clients":   hub.ClientCount(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		readyCtx, done := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer done()

		status := health.CheckAll(readyCtx)
		code := http.StatusOK
		if status.Status == monitoring.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var metricsSrv *http.Server
	if collector != nil {
		metricsSrv = &http.Server{
			Addr:    metricsAddress(cfg),
			Handler: promhttp.Handler(),
		}
	}

	serverErr := make(chan error, 2)
	go func() {
		log.Infow("starting huddle daemon", "address", cfg.Server.Address, "room_id", room)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	if metricsSrv != nil {
		go func() {
			log.Infow("prometheus metrics enabled", "address", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}()
	}

	if cfg.Session.AutoMount {
		go func() {
			req := domain.CaptureRequest{WantVideo: cfg.Session.StartVideo, WantAudio: cfg.Session.StartAudio}
			if err := orchestrator.Mount(ctx, req); err != nil {
				log.Warnw("automatic mount failed", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down huddle daemon")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Closing the session finalizes a running recording before the
	// listeners go away.
	if err := orchestrator.Close(shutdownCtx); err != nil {
		log.Errorw("error closing session", "error", err)
	}
	hub.Shutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warnw("error shutting down metrics server", "error", err)
		}
	}
	cancel()

	log.Info("huddle daemon stopped")
}

// loadConfig reads the given path, then HUDDLE_CONFIG, then the usual
// locations. With no file anywhere the defaults are used.
func loadConfig(explicit string) (*config.Config, string, error) {
	if explicit != "" {
		cfg, err := config.Load(explicit)
		return cfg, explicit, err
	}
	paths := []string{
		os.Getenv("HUDDLE_CONFIG"),
		"configs/config.yaml",
		"config.yaml",
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			cfg, err := config.Load(path)
			return cfg, path, err
		}
	}
	cfg, err := config.Load("")
	return cfg, "(defaults)", err
}

func newPlatform(cfg *config.Config, log *zap.SugaredLogger) (ports.MediaDevices, error) {
	switch cfg.Capture.Driver {
	case "pion":
		opts, err := pionOptions(cfg)
		if err != nil {
			return nil, err
		}
		if len(opts) == 0 {
			log.Warnw("pion driver built without encoders; tracks cannot be recorded (rebuild with -tags pion)")
		}
		return pionmd.New(append(opts, pionmd.WithLogger(log))...), nil
	default:
		return synthetic.New(synthetic.WithLogger(log)), nil
	}
}

func recorderConfig(cfg *config.Config) webm.Config {
	rc := webm.DefaultConfig()
	rc.VideoCodecs = []string{cfg.Capture.VideoCodec}
	rc.AudioCodecs = []string{cfg.Capture.AudioCodec}
	rc.Width = cfg.Capture.Width
	rc.Height = cfg.Capture.Height
	return rc
}

func orchestratorConfig(cfg *config.Config) services.OrchestratorConfig {
	oc := services.DefaultOrchestratorConfig(domain.RoomID(cfg.Session.RoomID))
	oc.MaxNotices = cfg.Session.MaxNotices

	oc.Capture.SettleDelay = cfg.Session.SettleDelay
	oc.Capture.PermissionTimeout = cfg.Session.PermissionTimeout
	oc.Capture.InUseRetry.MaxRetries = cfg.Session.InUseRetry.MaxRetries
	oc.Capture.InUseRetry.InitialDelay = cfg.Session.InUseRetry.InitialDelay
	oc.Capture.InUseRetry.MaxDelay = cfg.Session.InUseRetry.MaxDelay
	oc.Capture.Video = domain.VideoConstraints{
		DeviceID:  cfg.Capture.CameraID,
		Width:     cfg.Capture.Width,
		Height:    cfg.Capture.Height,
		FrameRate: cfg.Capture.FrameRate,
	}
	oc.Capture.Audio.DeviceID = cfg.Capture.MicID

	oc.Recording.Formats = cfg.Recording.Formats
	oc.Recording.Timeslice = cfg.Recording.Timeslice
	oc.Recording.FinalizeTimeout = cfg.Recording.FinalizeTimeout
	oc.Recording.DeliverTimeout = cfg.Recording.DeliverTimeout
	return oc
}

func shareOptions(cfg *config.Config) domain.ShareOptions {
	return domain.ShareOptions{
		Quality:      domain.QualityTier(cfg.ScreenShare.Quality),
		FrameRate:    cfg.ScreenShare.FrameRate,
		Cursor:       domain.CursorPolicy(cfg.ScreenShare.Cursor),
		IncludeAudio: cfg.ScreenShare.IncludeAudio,
		Optimization: domain.Optimization(cfg.ScreenShare.Optimization),
	}.Normalize()
}

// metricsAddress binds the metrics listener to the API host.
func metricsAddress(cfg *config.Config) string {
	host, _, err := net.SplitHostPort(cfg.Server.Address)
	if err != nil {
		host = ""
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Monitoring.PrometheusPort))
}
