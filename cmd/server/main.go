package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/cancel"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/config"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/consumer"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/database"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/dispatcher"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/handlers"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/jobs"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/logger"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/notify"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/rabbitmq"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/renewal"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/routes"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/track"
)

func main() {
	// Optional local .env; in deployed environments everything comes from
	// the real environment.
	_ = godotenv.Load()

	log, err := logger.Init(os.Getenv("LOG_LEVEL"))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync(log)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, log); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := database.RunMigrations(&cfg.Database, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	rmq := rabbitmq.NewConnection(&cfg.RabbitMQ, log)
	if err := rmq.Connect(); err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rmq.Close()

	if err := rmq.DeclareTopology(); err != nil {
		log.Fatal("Failed to declare queue topology", zap.Error(err))
	}

	// In-memory pipeline state. Instance-local on purpose; see the track
	// package docs.
	dedup := track.NewDedupSet(track.DefaultDedupTTL)
	tracker := track.NewExecutionTracker(track.DefaultExecutionTTL)
	marks := track.NewCancelMarks(track.DefaultCancelMarkTTL)

	platform := jobs.NewClient(cfg.Jobs.BaseURL, cfg.Jobs.Token, log)
	chat := notify.NewChatNotifier(&cfg.Chat, log)

	disp := dispatcher.NewDispatcher(&cfg.Jobs, platform, tracker, db, log)
	cancelSvc := cancel.NewService(&cfg.Jobs, platform, tracker, marks, chat, db, log)

	pipeline := consumer.NewPipeline(&cfg.RabbitMQ, rmq, dedup, disp, log)
	if err := pipeline.Start(); err != nil {
		log.Fatal("Failed to start pipeline consumer", zap.Error(err))
	}
	defer func() {
		if err := pipeline.Stop(); err != nil {
			log.Error("Error stopping pipeline", zap.Error(err))
		}
	}()

	renewer := renewal.NewRenewer(&cfg.Renewal, log)
	renewer.Start()
	defer renewer.Stop()

	app := fiber.New(fiber.Config{
		AppName:      "Transcript Orchestrator",
		ServerHeader: "Fiber",
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	routes.SetupRoutes(app,
		handlers.NewWebhookHandler(&cfg.Webhook, cfg.RabbitMQ.NotificationsQueue, rmq, log),
		handlers.NewCancelHandler(cancelSvc, log),
		handlers.NewRunsHandler(db, log),
		handlers.NewHealthHandler(db, rmq),
	)

	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		log.Info("Server starting", zap.String("address", addr))
		if err := app.Listen(addr); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		log.Error("Error during server shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}
