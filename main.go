package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"geostats-pipeline/handlers"
	"geostats-pipeline/middleware"
	"geostats-pipeline/models"
	"geostats-pipeline/services"
	"geostats-pipeline/utils"
	"geostats-pipeline/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}
	playerID := os.Getenv("PLAYER_ID")
	if playerID == "" {
		log.Fatal("PLAYER_ID environment variable not set")
	}
	ncfaCookie := os.Getenv("NCFA_COOKIE")
	if ncfaCookie == "" {
		log.Fatal("NCFA_COOKIE environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.MultiplayerGame{},
		&models.Location{},
		&models.TeamDuelGame{},
		&models.TeamDuelRound{},
		&models.DuelRound{},
		&models.SinglePlayerRound{},
		&models.SyncCursor{},
		&models.SkippedGame{},
		&models.PipelineRun{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	// Raw payload archive is optional — off when the bucket is unconfigured
	if os.Getenv("R2_BUCKET_NAME") != "" {
		if err := utils.InitR2(); err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		log.Println("✅ Raw payload archive enabled")
	}

	geoClient := services.NewGeoClient(
		os.Getenv("GEO_API_BASE_URL"),
		os.Getenv("GAME_SERVER_BASE_URL"),
		ncfaCookie,
		playerID,
	)
	geocoder := services.NewGeocodeService(os.Getenv("NOMINATIM_BASE_URL"), envInt("GEOCODE_CACHE_MAX", 0))
	limiter := services.NewModeLimiter(services.DefaultModeIntervals())
	store := services.NewPersistenceService(db)
	statsService := services.NewStatsService(db)

	worker := workers.NewPipelineWorker(playerID, geoClient, geocoder, store, limiter, envInt("PIPELINE_WORKERS", 4))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initial sync (backfill on first run), then the scheduler takes over
	go func() {
		if _, err := worker.Run(ctx); err != nil {
			log.Printf("⚠️ Initial pipeline run failed: %v", err)
		}
	}()

	syncInterval := envDuration("SYNC_INTERVAL", 15*time.Minute)
	sched := workers.StartSyncScheduler(worker, geocoder, db, syncInterval)

	app := fiber.New(fiber.Config{
		AppName: "geostats-pipeline",
	})

	// 🔐 GLOBAL: only the dashboard may read — no exceptions, no write path
	app.Use(middleware.DashboardAuthMiddleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins: getEnvDefault("ALLOWED_ORIGINS", "http://localhost:3000"),
		AllowMethods: "GET,OPTIONS,HEAD",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	handlers.SetupStatsRoutes(app, statsService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Stats API running on http://localhost:5300 (read-only)")
	log.Printf("✅ Pipeline scheduled every %s for player %s", syncInterval, playerID)

	<-ctx.Done()
	log.Println("Shutting down...")
	_ = sched.Shutdown()
	_ = app.Shutdown()
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("⚠️ Invalid %s=%q, using default %d", key, v, fallback)
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("⚠️ Invalid %s=%q, using default %s", key, v, fallback)
	}
	return fallback
}
