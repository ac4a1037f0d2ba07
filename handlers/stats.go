package handlers

import (
	"dk-leaderboard-api/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SetupStatsRoutes registers the public stats API. Every route is open: the
// game client talks to this service directly, with no gateway in front.
func SetupStatsRoutes(app *fiber.App, statsService *services.StatsService, leaderboardService *services.LeaderboardService) {
	app.Post("/api/stats", statsService.SubmitStats)
	app.Get("/api/leaderboard", leaderboardService.GetLeaderboard)

	// by-name must register before the :address routes
	app.Get("/api/player/by-name/:slug", leaderboardService.GetPlayerByName)
	app.Get("/api/player/:address/matches", leaderboardService.GetPlayerMatches)
	app.Get("/api/player/:address", leaderboardService.GetPlayer)
}

// SetupHealthRoutes registers the liveness probe, which also pings the store.
func SetupHealthRoutes(app *fiber.App, db *gorm.DB) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
				"error":  err.Error(),
			})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
}
