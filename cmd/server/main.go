package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/foxxcyber/dococr/internal/config"
	"github.com/foxxcyber/dococr/internal/database"
	"github.com/foxxcyber/dococr/internal/handlers"
	"github.com/foxxcyber/dococr/internal/middleware"
	"github.com/foxxcyber/dococr/internal/services"
)

const (
	sweepInterval   = time.Hour
	staleRunMaxAge  = 24 * time.Hour
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Load .env file if it exists
	godotenv.Load()

	// Load configuration
	cfg := config.Load()
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := services.NewPipeline(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize OCR pipeline")
	}
	defer pipeline.Close()

	// Run history is optional
	var (
		runs   handlers.RunStore
		purger services.RunPurger
	)
	if cfg.HistoryEnabled() {
		db, err := database.Connect(cfg.DatabaseURL, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()

		if err := database.RunMigrations(ctx, db); err != nil {
			log.WithError(err).Fatal("Failed to run migrations")
		}
		runs = db
		purger = db
	} else {
		log.Info("DATABASE_URL not set, run history disabled")
	}

	// Page archive is optional
	var storage *services.StorageService
	if cfg.S3Enabled {
		storage = initStorage(ctx, cfg, log)
	}

	janitor := services.NewJanitor(services.RunDirs(cfg), staleRunMaxAge, purger,
		time.Duration(cfg.RunRetentionDays)*24*time.Hour, log)
	go runJanitor(ctx, janitor)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler,
		BodyLimit:    cfg.UploadMaxBytes + 1024*1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(middleware.RequestLogger(log))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	h := handlers.New(cfg, pipeline.OCR, pipeline.Document, storage, runs, log)
	handlers.SetupRoutes(app, h)

	go func() {
		<-ctx.Done()
		log.Info("Shutting down server")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.WithError(err).Error("Server shutdown failed")
		}
	}()

	log.WithFields(logrus.Fields{
		"port":    cfg.Port,
		"backend": pipeline.Backend.Name(),
		"model":   cfg.ModelID,
		"device":  cfg.Device,
	}).Info("Server starting")

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.WithError(err).Error("Server stopped")
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func initStorage(ctx context.Context, cfg *config.Config, log *logrus.Logger) *services.StorageService {
	if cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
		log.Warn("S3 credentials not configured, page archive disabled")
		return nil
	}

	storage, err := services.NewStorageService(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey,
		cfg.S3Bucket, cfg.S3Region, cfg.S3UseSSL, log)
	if err != nil {
		log.WithError(err).Warn("Failed to initialize storage service")
		return nil
	}

	// Ensure bucket exists
	if err := storage.EnsureBucket(ctx); err != nil {
		log.WithError(err).Warn("Failed to ensure S3 bucket exists")
	}
	log.WithField("bucket", storage.GetBucketName()).Info("Page archive enabled")
	return storage
}

func runJanitor(ctx context.Context, janitor *services.Janitor) {
	janitor.Sweep(ctx)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			janitor.Sweep(ctx)
		}
	}
}
