// handlers/stats.go
package handlers

import (
	"geostats-pipeline/services"

	"github.com/gofiber/fiber/v2"
)

// SetupStatsRoutes wires the read-only query surface for the dashboard.
// Every route sits behind the gateway auth applied globally in main.
func SetupStatsRoutes(app *fiber.App, stats *services.StatsService) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/stats")
	api.Get("/games", stats.GetGames)
	api.Get("/games/:id/rounds", stats.GetGameRounds)
	api.Get("/locations/:id", stats.GetLocation)
	api.Get("/runs", stats.GetRuns)
}
