package main

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/foxxcyber/receipt-reconcile/internal/config"
	"github.com/foxxcyber/receipt-reconcile/internal/database"
	"github.com/foxxcyber/receipt-reconcile/internal/handlers"
	"github.com/foxxcyber/receipt-reconcile/internal/services"
)

func main() {
	// Load .env file if it exists
	godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler,
		// Upload limit plus headroom for the multipart envelope
		BodyLimit: (cfg.MaxUploadMB + 2) * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	// External collaborators
	mapsService := services.NewGoogleMapsService(cfg.GoogleMapsAPIKey)
	extractionService := services.NewExtractionService(cfg.ExtractionServiceURL)
	backendService := services.NewBackendService(cfg.BackendServiceURL)

	// Optional S3 image archive
	var archiveService *services.ArchiveService
	if cfg.S3Enabled && cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		archiveService, err = services.NewArchiveService(
			cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey,
			cfg.S3Bucket, cfg.S3Region, cfg.S3UseSSL,
		)
		if err != nil {
			log.Printf("Warning: failed to initialize image archive: %v", err)
			archiveService = nil
		} else if err := archiveService.EnsureBucket(context.Background()); err != nil {
			log.Printf("Warning: failed to ensure archive bucket exists: %v", err)
		}
	} else {
		log.Println("Image archive disabled, failed ingestions cannot be retried from storage")
	}

	// Session manager with periodic stale-draft sweep; evicted drafts take
	// their archived image with them
	manager := services.NewSessionManager(cfg.DraftTTL, func(session *services.ReceiptSession) {
		if archiveService == nil {
			return
		}
		if key := session.ImageKey(); key != nil {
			if err := archiveService.Delete(context.Background(), *key); err != nil {
				log.Printf("Warning: failed to delete archived image %s: %v", *key, err)
			}
		}
	})
	if err := manager.StartSweeper(cfg.SweepInterval); err != nil {
		log.Fatalf("Failed to start draft sweeper: %v", err)
	}
	defer manager.Stop()

	draftHandler := handlers.NewDraftHandler(
		cfg, db, mapsService, extractionService, backendService, archiveService, manager,
	)

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "drafts": manager.Len()})
	})

	// API routes
	api := app.Group("/api")

	drafts := api.Group("/drafts")
	drafts.Post("/", draftHandler.CreateDraft)
	drafts.Get("/:id", draftHandler.GetDraft)
	drafts.Post("/:id/retry", draftHandler.RetryDraft)
	drafts.Put("/:id/items/:itemId", draftHandler.UpdateItem)
	drafts.Delete("/:id/items/:itemId", draftHandler.DeleteItem)
	drafts.Put("/:id/date", draftHandler.ConfirmDate)
	drafts.Get("/:id/stores/search", draftHandler.SearchStores)
	drafts.Post("/:id/stores", draftHandler.CreateStore)
	drafts.Put("/:id/store", draftHandler.SelectStore)
	drafts.Post("/:id/location", draftHandler.UseLocation)
	drafts.Post("/:id/submit", draftHandler.SubmitDraft)
	drafts.Delete("/:id", draftHandler.DeleteDraft)

	log.Printf("Server starting on port %s", cfg.Port)
	log.Fatal(app.Listen(":" + cfg.Port))
}
