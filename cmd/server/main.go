package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/scriptorium/api/internal/client"
	"github.com/scriptorium/api/internal/config"
	"github.com/scriptorium/api/internal/handler"
	applog "github.com/scriptorium/api/internal/logger"
	"github.com/scriptorium/api/internal/media"
	"github.com/scriptorium/api/internal/middleware"
	"github.com/scriptorium/api/internal/pipeline"
	"github.com/scriptorium/api/internal/segment"
	"github.com/scriptorium/api/internal/service"
	"github.com/scriptorium/api/internal/version"
	ws "github.com/scriptorium/api/internal/websocket"
	"github.com/scriptorium/api/internal/worker"
	"github.com/scriptorium/api/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log := applog.New(cfg.Server.LogLevel)

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis not available")
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	// Media archive (optional)
	var storage client.StorageClient
	if cfg.R2.Configured() {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.WithError(err).Warn("R2 client not initialized")
		} else {
			storage = r2Client
		}
	} else {
		log.Info("R2 storage not configured, media stays local")
	}

	// External tools and services
	tools := media.NewTools(cfg.Media.FFmpegPath, cfg.Media.FFprobePath, cfg.Media.Dir)
	transcriber := client.NewTranscriberClient(&cfg.Transcriber)
	acquirer := client.NewYtDlpAcquirer(cfg.Media.YtDlpPath, cfg.Media.Dir, storage, log).
		WithTimeout(time.Duration(cfg.Media.AcquireTimeout) * time.Second)

	var diarizer pipeline.Diarizer
	if cfg.Diarizer.Configured() {
		diarizer = client.NewDiarizerClient(&cfg.Diarizer, tools)
	} else {
		log.Info("Diarizer not configured, diarization stages are skipped")
	}

	validate := handler.NewValidator()

	hub := ws.NewHub(log)
	go hub.Run()

	transcriptionService := service.NewTranscriptionService(redisClient, asynqClient, storage, cfg.Media.Dir, diarizer != nil)

	orchestrator := pipeline.NewOrchestrator(pipeline.Dependencies{
		Acquirer:    acquirer,
		Transcriber: transcriber,
		Diarizer:    diarizer,
		Prober:      tools,
		Sink:        transcriptionService.Sink(),
		Listener:    hub,
		Resegmenter: segment.NewResegmenter(segment.Limits{
			MaxChars:   cfg.Segment.MaxChars,
			MaxSeconds: cfg.Segment.MaxSeconds,
		}),
		Logger: log,
	})

	// Initialize handlers
	maxUpload := int64(cfg.Media.MaxUploadMB) * 1024 * 1024
	transcriptionHandler := handler.NewTranscriptionHandler(transcriptionService, validate, maxUpload)
	healthHandler := handler.NewHealthHandler(
		version.NewCache(version.WithFallback(version.FromFile(cfg.Server.VersionFile), version.FromBuildInfo)),
		handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		map[string]bool{
			"transcriber": transcriber.IsConfigured(),
			"diarizer":    diarizer != nil,
			"r2":          storage != nil,
		},
	)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret, time.Duration(cfg.JWT.Expiration)*time.Hour)
	rateLimiter := middleware.NewRateLimiter(redisClient, log)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler(log),
		BodyLimit:    int(maxUpload) + 1024*1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		Output: log.Writer(),
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", healthHandler.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	transcriptions := api.Group("/transcriptions")
	transcriptions.Post("/", rateLimiter.TranscribeLimit(cfg.RateLimit.TranscribePerHour), transcriptionHandler.Create)
	transcriptions.Post("/upload", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), transcriptionHandler.Upload)
	transcriptions.Get("/", transcriptionHandler.List)
	transcriptions.Get("/:jobId", transcriptionHandler.Get)
	transcriptions.Patch("/:jobId", transcriptionHandler.Update)
	transcriptions.Delete("/:jobId", transcriptionHandler.Delete)
	transcriptions.Get("/:jobId/status", transcriptionHandler.Status)
	transcriptions.Post("/:jobId/cancel", transcriptionHandler.Cancel)
	transcriptions.Post("/:jobId/speakers/rename", transcriptionHandler.RenameSpeaker)
	transcriptions.Patch("/:jobId/segments/:index", transcriptionHandler.UpdateSegment)
	transcriptions.Delete("/:jobId/segments/:index", transcriptionHandler.DeleteSegment)

	// WebSocket routes (token passed as ?token=)
	app.Get("/ws/jobs/:jobId",
		authMiddleware.Authenticate(),
		transcriptionHandler.Subscribe,
		handler.Stream(hub),
	)

	// Start Asynq worker server
	transcribeWorker := worker.NewTranscribeWorker(transcriptionService, orchestrator, hub, log)
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			service.QueueTranscribe: 1,
		},
		Logger:   log,
		LogLevel: asynqLogLevel(cfg.Server.LogLevel),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeTranscribe, transcribeWorker.ProcessTask)

	go func() {
		if err := srv.Run(mux); err != nil {
			log.WithError(err).Error("Asynq worker error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Shutting down server...")
		srv.Shutdown()
		hub.Stop()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Error("Server shutdown error")
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.WithField("addr", addr).Info("Server starting")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("Server error")
	}
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn", "warning":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

func customErrorHandler(log *logrus.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"

		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			message = e.Message
		} else {
			log.WithError(err).WithField("path", c.Path()).Error("Unhandled error")
		}

		return response.Error(c, code, response.CodeServiceError, message, nil)
	}
}
