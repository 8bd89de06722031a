package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/adforge/api/internal/client"
	"github.com/adforge/api/internal/composer"
	"github.com/adforge/api/internal/config"
	"github.com/adforge/api/internal/handler"
	"github.com/adforge/api/internal/middleware"
	"github.com/adforge/api/internal/orchestrator"
	"github.com/adforge/api/internal/service"
	"github.com/adforge/api/internal/store"
	"github.com/adforge/api/internal/worker"
	ws "github.com/adforge/api/internal/websocket"
)

// @title          AdForge API
// @version        1.0
// @description    Backend API for AdForge — AI-powered video ad generation.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
// @description    Enter your bearer token in the format **Bearer &lt;token&gt;**
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Redis backs the job store, rate limits, and the task queue
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	validate := validator.New()

	hub := ws.NewHub()
	go hub.Run()

	// External generation clients
	openaiClient := client.NewOpenAIClient(&cfg.OpenAI)
	videoClient := client.NewReplicateClient(&cfg.Replicate)
	speechClient := client.NewSpeechClient(&cfg.Speech)
	musicClient := client.NewMusicClient(&cfg.Music)

	var r2Client *client.R2Client
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err = client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Fatalf("Failed to initialize R2 client: %v", err)
		}
	} else {
		log.Fatal("R2 storage is required: set R2_ACCESS_KEY_ID and R2_SECRET_ACCESS_KEY")
	}

	jobStore := store.NewRedisStore(redisClient)
	videoComposer := composer.NewFFmpegComposer(&cfg.Composer, client.NewHTTPFetcher())

	orch := orchestrator.New(
		jobStore,
		orchestrator.Clients{
			Images:    openaiClient,
			Storyline: openaiClient,
			Video:     videoClient,
			Speech:    speechClient,
			Music:     musicClient,
		},
		videoComposer,
		r2Client,
		hub,
		cfg.Pipeline,
	)

	campaignService := service.NewCampaignService(jobStore, asynqClient)
	campaignHandler := handler.NewCampaignHandler(campaignService, validate)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024, // 10MB
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"openai":    openaiClient.IsConfigured(),
				"replicate": videoClient.IsConfigured(),
				"speech":    speechClient.IsConfigured(),
				"music":     musicClient.IsConfigured(),
				"r2":        r2Client.IsConfigured(),
				"redis":     redisClient.Ping(c.Context()).Err() == nil,
			},
		})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	campaigns := api.Group("/campaigns")
	campaigns.Post("/generate", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), campaignHandler.Generate)
	campaigns.Get("/status/:jobId", rateLimiter.StatusLimit(cfg.RateLimit.StatusPerMin), campaignHandler.Status)
	campaigns.Get("/result/:jobId", rateLimiter.StatusLimit(cfg.RateLimit.StatusPerMin), campaignHandler.Result)
	campaigns.Post("/cancel/:jobId", campaignHandler.Cancel)
	campaigns.Post("/:jobId/scenes/:sceneIndex/regenerate", rateLimiter.RegenerateLimit(cfg.RateLimit.RegeneratePerHour), campaignHandler.RegenerateScene)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, orch)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, orch *orchestrator.Orchestrator) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			// Pipelines are long-lived and mostly wait on remote services;
			// scene generation within a job is sequential regardless.
			Concurrency: 4,
			Queues: map[string]int{
				service.QueuePipeline: 10,
			},
			LogLevel: asynqLogLevel,
		},
	)

	pipelineWorker := worker.NewPipelineWorker(orch)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeGenerate, pipelineWorker.ProcessTask)
	mux.HandleFunc(service.TaskTypeRegenerate, pipelineWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
