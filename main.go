package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"dk-leaderboard-api/handlers"
	"dk-leaderboard-api/metrics"
	"dk-leaderboard-api/models"
	"dk-leaderboard-api/services"
	"dk-leaderboard-api/utils"
	"dk-leaderboard-api/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		AppName: "dk-leaderboard-api",
		// Every error that escapes a handler still answers with a structured
		// JSON body — nothing leaves this service bare.
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(metrics.RequestCounter())

	// Browser builds of the game call this API cross-origin, so the surface
	// stays fully permissive. Preflight OPTIONS short-circuits here.
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
		MaxAge:       86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Player{},
		&models.MatchHistory{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	cache := services.NewLeaderboardCache(utils.NewRedisClient())

	statsService := services.NewStatsService(db, cache)
	leaderboardService := services.NewLeaderboardService(db, cache)

	handlers.SetupStatsRoutes(app, statsService, leaderboardService)
	handlers.SetupHealthRoutes(app, db)
	app.Get("/metrics", metrics.Handler())

	snapshotScheduler := workers.StartSnapshotScheduler(leaderboardService)

	// Unknown routes answer 404 JSON, same shape as every other error.
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8787"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Leaderboard API running on http://localhost:%s", port)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if snapshotScheduler != nil {
		if err := snapshotScheduler.Shutdown(); err != nil {
			log.Printf("Snapshot scheduler shutdown error: %v", err)
		}
	}
	if err := app.Shutdown(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
