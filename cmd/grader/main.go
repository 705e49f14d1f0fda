package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"judgeflow/internal/auth"
	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	commonmw "judgeflow/internal/common/http/middleware"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/common/storage"
	"judgeflow/internal/grading/abuse"
	"judgeflow/internal/grading/admission"
	"judgeflow/internal/grading/archive"
	"judgeflow/internal/grading/controller"
	"judgeflow/internal/grading/events"
	"judgeflow/internal/grading/judgeclient"
	"judgeflow/internal/grading/metrics"
	"judgeflow/internal/grading/repository"
	"judgeflow/internal/grading/service"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"
	"judgeflow/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/grader.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "grader stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis failed: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	graderMetrics := metrics.New(registry)

	var (
		mqClient  *mq.KafkaQueue
		publisher *events.Publisher
	)
	if len(appCfg.Kafka.Brokers) > 0 {
		mqClient, err = mq.NewKafkaQueue(appCfg.Kafka)
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = mqClient.Close()
		}()
		publisher = events.NewPublisher(mqClient, appCfg.Topics.SubmissionGraded, appCfg.Topics.UserShadowBanned)
	} else {
		logger.Warn(ctx, "kafka brokers not configured, grading events disabled")
	}

	var sourceArchive *archive.Archiver
	if appCfg.MinIO.Endpoint != "" {
		objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			return fmt.Errorf("init minio failed: %w", err)
		}
		if err := objStorage.EnsureBucket(ctx, appCfg.MinIO.Bucket, appCfg.MinIO.Region); err != nil {
			return fmt.Errorf("ensure source bucket failed: %w", err)
		}
		sourceArchive, err = archive.New(objStorage, appCfg.MinIO.Bucket)
		if err != nil {
			return fmt.Errorf("init source archive failed: %w", err)
		}
		defer func() {
			_ = sourceArchive.Close()
		}()
	} else {
		logger.Warn(ctx, "minio endpoint not configured, source archive disabled")
	}

	submissionRepo := repository.NewSubmissionRepository(mysqlDB)
	problemRepo := repository.NewProblemRepositoryWithTTL(mysqlDB, redisCache, appCfg.Grading.ProblemCacheTTL, appCfg.Grading.ProblemEmptyTTL)
	testCaseRepo := repository.NewTestCaseRepository(mysqlDB, redisCache)
	abuseRepo := repository.NewAbuseRepository(mysqlDB)

	guard, err := admission.NewGuard(admission.Config{
		Cache:        redisCache,
		History:      submissionRepo,
		MinInterval:  appCfg.Grading.MinSubmitInterval,
		CacheTimeout: appCfg.Grading.CacheTimeout,
	})
	if err != nil {
		return fmt.Errorf("init admission guard failed: %w", err)
	}

	abuseCfg := abuse.Config{
		Store:           abuseRepo,
		BanSet:          redisCache,
		SolveWindow:     appCfg.Abuse.SolveWindow,
		MinSolveSeconds: appCfg.Abuse.MinSolveSeconds,
		BanThreshold:    appCfg.Abuse.BanThreshold,
		Timeout:         appCfg.Abuse.Timeout,
	}
	if publisher != nil {
		abuseCfg.Notifier = publisher
	}
	monitor, err := abuse.NewMonitor(abuseCfg)
	if err != nil {
		return fmt.Errorf("init abuse monitor failed: %w", err)
	}

	judge := judgeclient.New(appCfg.Judge, judgeclient.WithObserver(graderMetrics))
	if appCfg.Judge.BaseURL == "" {
		logger.Warn(ctx, "judge baseURL not configured, grading requests will fail")
	}

	svcCfg := service.Config{
		Judge:          judge,
		Admission:      guard,
		Abuse:          monitor,
		ProblemRepo:    problemRepo,
		TestCaseRepo:   testCaseRepo,
		SubmissionRepo: submissionRepo,
		Metrics:        graderMetrics,
		MaxCodeBytes:   appCfg.Grading.MaxCodeBytes,
		Timeouts:       appCfg.Grading.Timeouts,
		Retry:          appCfg.Grading.Retry,
	}
	if sourceArchive != nil {
		svcCfg.Archive = sourceArchive
	}
	if publisher != nil {
		svcCfg.Events = publisher
	}
	gradingService, err := service.NewGradingService(svcCfg)
	if err != nil {
		return fmt.Errorf("init grading service failed: %w", err)
	}

	if mqClient != nil {
		projector := abuse.NewShadowBanProjector(mqClient, redisCache, appCfg.Abuse.Timeout)
		if err := projector.Start(ctx, appCfg.Topics.UserShadowBanned, appCfg.Topics.ProjectorGroup); err != nil {
			return fmt.Errorf("start shadow ban projector failed: %w", err)
		}
	}

	authService := auth.NewService(appCfg.Auth, redisCache)
	httpServer := buildHTTPServer(appCfg, gradingService, authService, registry, mysqlDB, redisCache)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "grader http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	ctxShutdown, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	if mqClient != nil {
		_ = mqClient.Stop()
	}
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func buildHTTPServer(appCfg *AppConfig, grader controller.Grader, authenticator commonmw.Authenticator, registry *prometheus.Registry, deps ...pinger) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContext())
	router.Use(commonmw.CORS(appCfg.CORS))
	router.Use(requestLogger())

	router.GET("/healthz", healthHandler(deps...))
	router.GET(appCfg.Server.MetricsPath, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1/submissions", commonmw.Auth(authenticator))
	submissionController := controller.NewSubmissionController(grader)
	api.POST("", submissionController.Submit)
	api.POST("/run", submissionController.Run)

	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}

func healthHandler(deps ...pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		for _, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				response.Error(c, appErr.Wrapf(err, appErr.ServiceUnavailable, "dependency unavailable"))
				return
			}
		}
		response.Success(c, gin.H{"status": "ok"})
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
