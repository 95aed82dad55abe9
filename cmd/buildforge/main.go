package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"buildforge/internal/admission"
	"buildforge/internal/artifact"
	"buildforge/internal/bundle"
	"buildforge/internal/common/cache"
	"buildforge/internal/common/mq"
	"buildforge/internal/common/storage"
	"buildforge/internal/controller"
	"buildforge/internal/middleware"
	"buildforge/internal/model"
	"buildforge/internal/service"
	"buildforge/internal/toolchain"
	"buildforge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	appCfg, err := loadAppConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() { _ = logger.Sync() }()

	var redisCache *cache.RedisCache
	if appCfg.Redis.Addr != "" {
		redisCache, err = cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			logger.Error(context.Background(), "init redis failed", zap.Error(err))
			return
		}
		defer func() { _ = redisCache.Close() }()
	}

	var events *service.EventPublisher
	if appCfg.Events.Enabled {
		mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
		if err != nil {
			logger.Error(context.Background(), "init kafka failed", zap.Error(err))
			return
		}
		defer func() { _ = mqClient.Close() }()
		events = service.NewEventPublisher(mqClient, appCfg.Events.Topic)
	}

	var store storage.ObjectStorage
	if appCfg.Storage.Endpoint != "" {
		store, err = storage.NewMinIOStorage(appCfg.Storage)
		if err != nil {
			logger.Error(context.Background(), "init object storage failed", zap.Error(err))
			return
		}
	}

	// runCtx bounds toolchain processes. It is cancelled on the way out of
	// main, after graceful shutdown has given in-flight builds their chance
	// to finish.
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	buildService, err := service.NewBuildService(service.Config{
		Admission: admission.NewController(appCfg.Admission.MaxConcurrent, appCfg.Admission.QueueCapacity, appCfg.Admission.SeedBuildDuration),
		Ingestor:  bundle.NewIngestor(nil, store),
		Runner: &toolchain.Runner{
			Command:     appCfg.Build.Command,
			TargetFlag:  appCfg.Build.TargetFlag,
			LogMaxBytes: appCfg.Build.LogMaxBytes,
		},
		Locator: artifact.Locator{Dir: appCfg.Artifact.Dir, Ext: appCfg.Artifact.Ext},
		Events:  events,
		Defaults: model.BuildConfig{
			Timeout:           appCfg.Build.Timeout,
			MaxBundleBytes:    appCfg.Build.MaxBundleBytes,
			MaxExtractedBytes: appCfg.Build.MaxExtractedBytes,
		},
		WorkRoot:   appCfg.Build.WorkRoot,
		RunContext: runCtx,
	})
	if err != nil {
		logger.Error(context.Background(), "init build service failed", zap.Error(err))
		return
	}

	if err := buildService.SweepWorkRoot(context.Background()); err != nil {
		logger.Error(context.Background(), "sweep work root failed", zap.Error(err))
		return
	}

	var rateService *service.RateLimitService
	if redisCache != nil {
		rateService = service.NewRateLimitService(redisCache, appCfg.Rate.Window, appCfg.Redis.ReadTimeout)
	}

	httpServer := buildHTTPServer(appCfg, controller.NewBuildController(buildService), rateService)

	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "buildforge http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), appCfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(cfg *AppConfig, buildController *controller.BuildController, rateService *service.RateLimitService) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	router.GET("/readyz", buildController.Ready)

	ratePolicy := middleware.RateLimitPolicy{Window: cfg.Rate.Window, IPMax: cfg.Rate.IPMax}
	router.POST("/build",
		middleware.RateLimitMiddleware(rateService, "build", ratePolicy, cfg.Rate.Window),
		buildController.Build,
	)

	return &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
