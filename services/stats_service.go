// services/stats_service.go
package services

import (
	"errors"
	"strconv"

	"geostats-pipeline/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// StatsService serves the read-only query surface consumed by the dashboard.
// No write path is exposed here — all writes go through the pipeline.
type StatsService struct {
	DB *gorm.DB
}

func NewStatsService(db *gorm.DB) *StatsService {
	return &StatsService{DB: db}
}

// GetGames lists persisted games, newest first. Optional filters:
// ?player_id=...&mode=...&limit=N (default 100, max 500).
func (s *StatsService) GetGames(c *fiber.Ctx) error {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	query := s.DB.Model(&models.MultiplayerGame{}).Order("time DESC").Limit(limit)
	if playerID := c.Query("player_id"); playerID != "" {
		query = query.Where("player_id = ?", playerID)
	}
	if mode := c.Query("mode"); mode != "" {
		query = query.Where("game_mode = ?", mode)
	}

	var games []models.MultiplayerGame
	if err := query.Find(&games).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list games"})
	}
	return c.JSON(fiber.Map{"games": games})
}

// GetGameRounds returns one game's rounds in round_number order, from the
// rounds table matching the game's mode.
func (s *StatsService) GetGameRounds(c *fiber.Ctx) error {
	gameID := c.Params("id")

	var game models.MultiplayerGame
	if err := s.DB.Where("game_id = ?", gameID).First(&game).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "game not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load game"})
	}

	ordered := s.DB.Where("game_id = ?", gameID).Order("round_number")
	switch game.GameMode {
	case models.ModeTeamDuel:
		var rounds []models.TeamDuelRound
		if err := ordered.Find(&rounds).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load rounds"})
		}
		return c.JSON(fiber.Map{"game": game, "rounds": rounds})
	case models.ModeDuel:
		var rounds []models.DuelRound
		if err := ordered.Find(&rounds).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load rounds"})
		}
		return c.JSON(fiber.Map{"game": game, "rounds": rounds})
	default:
		var rounds []models.SinglePlayerRound
		if err := ordered.Find(&rounds).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load rounds"})
		}
		return c.JSON(fiber.Map{"game": game, "rounds": rounds})
	}
}

// GetLocation returns one resolved location row by id.
func (s *StatsService) GetLocation(c *fiber.Ctx) error {
	var loc models.Location
	if err := s.DB.Where("location_id = ?", c.Params("id")).First(&loc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "location not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load location"})
	}
	return c.JSON(loc)
}

// GetRuns lists recent pipeline run summaries for operability.
func (s *StatsService) GetRuns(c *fiber.Ctx) error {
	var runs []models.PipelineRun
	if err := s.DB.Order("started_at DESC").Limit(50).Find(&runs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list runs"})
	}
	return c.JSON(fiber.Map{"runs": runs})
}
