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

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	commonmw "codearena/internal/common/http/middleware"
	"codearena/internal/common/mq"
	"codearena/internal/common/storage"
	"codearena/internal/judge/coderunner"
	judgeController "codearena/internal/judge/controller"
	"codearena/internal/judge/evaluator"
	"codearena/internal/judge/remote"
	"codearena/internal/judge/sandbox"
	"codearena/internal/judge/sandbox/engine"
	"codearena/internal/judge/sandbox/observer"
	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/judge/sandbox/runner"
	"codearena/internal/match/controller"
	matchRepo "codearena/internal/match/repository"
	"codearena/internal/match/service"
	"codearena/internal/notify"
	problemRepo "codearena/internal/problem/repository"
	"codearena/internal/rating"
	"codearena/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/arena_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()
	ctx := context.Background()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(ctx, "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(ctx, "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observer.NewPrometheusRecorder(registry)
	db.RegisterPoolMetrics(registry, mysqlDB)

	codeRunner, caps := buildCodeRunner(ctx, appCfg.Judge, metrics)
	suiteEvaluator := evaluator.New(codeRunner)

	ratingRepo := rating.NewRepository(mysqlDB)
	ratingSvc := rating.NewService(ratingRepo)

	hub := notify.NewHub()
	notifiers := notify.Multi{hub}

	cfg := service.Config{
		Rooms:     matchRepo.NewRoomRepository(mysqlDB),
		Codes:     matchRepo.NewCodeStore(redisCache),
		Problems:  problemRepo.NewProblemRepositoryWithTTL(mysqlDB, redisCache, appCfg.Problem.CacheTTL, appCfg.Problem.EmptyTTL),
		Evaluator: suiteEvaluator,
		Ratings:   ratingSvc,
		Settings:  appCfg.Match,
	}

	var mqClient *mq.KafkaQueue
	if appCfg.Kafka.enabled() {
		mqClient, err = mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
		if err != nil {
			logger.Error(ctx, "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = mqClient.Close()
		}()

		retryQueue := rating.NewRetryQueue(appCfg.Rating, mqClient, ratingSvc)
		if err := retryQueue.Subscribe(ctx, appCfg.Kafka.ConsumerGroup); err != nil {
			logger.Error(ctx, "subscribe rating retry failed", zap.Error(err))
			return
		}
		if err := mqClient.Start(); err != nil {
			logger.Error(ctx, "start kafka consumer failed", zap.Error(err))
			return
		}
		cfg.Retry = retryQueue
		notifiers = append(notifiers, notify.NewMQNotifier(mqClient, appCfg.Kafka.NotifyTopic))
	} else {
		logger.Warn(ctx, "kafka brokers not configured, rating retries and event fan-out disabled")
	}
	cfg.Notifier = notifiers

	if appCfg.Archive.Enabled {
		objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			logger.Error(ctx, "init minio failed", zap.Error(err))
			return
		}
		archive := matchRepo.NewSourceArchive(objStorage, appCfg.Archive.Bucket)
		if err := archive.Ensure(ctx); err != nil {
			logger.Error(ctx, "ensure archive bucket failed", zap.Error(err))
			return
		}
		cfg.Archive = archive
	}

	matchSvc, err := service.NewMatchService(cfg)
	if err != nil {
		logger.Error(ctx, "init match service failed", zap.Error(err))
		return
	}
	defer matchSvc.Close()

	auth := commonmw.NewAuthenticator(appCfg.Auth.JWTSecret, appCfg.Auth.JWTIssuer)
	matchController := controller.NewMatchController(matchSvc, ratingSvc, hub)
	compilerController := judgeController.NewCompilerController(judgeController.Config{
		Runner:        codeRunner,
		Capabilities:  caps,
		PreferLocal:   appCfg.Judge.Runner.PreferLocal,
		RemoteEnabled: appCfg.Judge.Remote.BaseURL != "",
		MaxCodeBytes:  appCfg.Match.MaxCodeBytes,
	})
	httpServer := buildHTTPServer(appCfg.Server, matchController, compilerController, auth, registry)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(ctx, "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "arena http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	if mqClient != nil {
		_ = mqClient.Stop()
	}
}

// buildCodeRunner wires the local sandbox, when any toolchain is installed,
// in front of the remote judge.
func buildCodeRunner(ctx context.Context, cfg JudgeConfig, metrics observer.MetricsRecorder) (*coderunner.CodeRunner, *sandbox.Capabilities) {
	eng := engine.NewExecEngine()
	caps := sandbox.ProbeCapabilities(ctx, eng, profile.Local())
	local := sandbox.New(cfg.Sandbox, runner.NewRunnerWithObserver(eng, metrics), caps)
	logger.Info(ctx, "sandbox capabilities probed", zap.Any("languages", caps.Languages()))

	var remoteExec coderunner.Executor
	if cfg.Remote.BaseURL != "" {
		remoteExec = remote.NewClient(cfg.Remote, &http.Client{Timeout: cfg.Remote.Timeout})
	} else {
		logger.Warn(ctx, "remote judge not configured, only local languages are available")
	}
	return coderunner.New(cfg.Runner, local, caps, remoteExec, metrics), caps
}

func buildHTTPServer(cfg ServerConfig, matches *controller.MatchController, compilers *judgeController.CompilerController, auth *commonmw.Authenticator, registry *prometheus.Registry) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1", commonmw.AuthMiddleware(auth))
	ws := router.Group("/ws", commonmw.AuthMiddleware(auth))
	matches.RegisterRoutes(api, ws)
	compilers.RegisterRoutes(router.Group("/api/v1"), api)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
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
