// services/persistence_service.go
package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"geostats-pipeline/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PersistenceService owns every write into the schema. A game and all of its
// rounds and locations commit in one transaction — a game is either fully
// visible to the dashboard or not at all.
type PersistenceService struct {
	DB *gorm.DB
}

func NewPersistenceService(db *gorm.DB) *PersistenceService {
	return &PersistenceService{DB: db}
}

// HasGame reports whether a game id is already persisted. Used by the
// filtering step as the defensive duplicate check behind timestamp ties.
func (s *PersistenceService) HasGame(gameID string) (bool, error) {
	var count int64
	err := s.DB.Model(&models.MultiplayerGame{}).Where("game_id = ?", gameID).Count(&count).Error
	return count > 0, err
}

// IsSkipped reports whether a game was recorded as permanently gone upstream.
func (s *PersistenceService) IsSkipped(gameID string) (bool, error) {
	var count int64
	err := s.DB.Model(&models.SkippedGame{}).Where("game_id = ?", gameID).Count(&count).Error
	return count > 0, err
}

// MarkSkipped records a game so it is never fetched again (retry-storm guard
// for games the upstream removed).
func (s *PersistenceService) MarkSkipped(gameID, playerID, reason string) error {
	skip := models.SkippedGame{GameID: gameID, PlayerID: playerID, Reason: reason}
	return s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "game_id"}},
		DoNothing: true,
	}).Create(&skip).Error
}

// LoadCursor returns the player's high-water mark, zero time when the player
// has never synced.
func (s *PersistenceService) LoadCursor(playerID string) (time.Time, error) {
	var cursor models.SyncCursor
	err := s.DB.Where("player_id = ?", playerID).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load sync cursor: %w", err)
	}
	return cursor.LastGameTime, nil
}

// CommitCursor advances the player's cursor. The cursor never regresses:
// commits below the stored value are no-ops.
func (s *PersistenceService) CommitCursor(playerID string, ts time.Time) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var cursor models.SyncCursor
		err := tx.Where("player_id = ?", playerID).First(&cursor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.SyncCursor{PlayerID: playerID, LastGameTime: ts}).Error
		}
		if err != nil {
			return err
		}
		if !ts.After(cursor.LastGameTime) {
			return nil
		}
		return tx.Model(&cursor).Update("last_game_time", ts).Error
	})
}

// SaveGame writes one enriched game atomically: the game row (idempotent —
// an existing id is a no-op success so reprocessing is always safe), the
// team-duel summary where applicable, location upserts by coordinate, and
// the rounds in round_number order. Any failure rolls the whole game back.
func (s *PersistenceService) SaveGame(g *models.EnrichedGame) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		game := g.Game
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "game_id"}},
			DoNothing: true,
		}).Create(&game)
		if res.Error != nil {
			return fmt.Errorf("failed to insert game %s: %w", game.GameID, res.Error)
		}
		if res.RowsAffected == 0 {
			// Already committed by an earlier run; atomicity means its
			// rounds are there too.
			log.Printf("[WRITER] Game %s already persisted — no-op", game.GameID)
			return nil
		}

		if g.TeamDuel != nil {
			teamDuel := *g.TeamDuel
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "game_id"}},
				DoNothing: true,
			}).Create(&teamDuel).Error; err != nil {
				return fmt.Errorf("failed to insert team duel summary %s: %w", game.GameID, err)
			}
		}

		for i := range g.Rounds {
			row, err := buildRoundRow(tx, &game, &g.Rounds[i])
			if err != nil {
				return err
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("failed to insert round %d of game %s: %w",
					g.Rounds[i].Number, game.GameID, err)
			}
		}
		return nil
	})
}

// upsertLocation inserts a location keyed by its rounded coordinate, or
// reuses the existing row, and returns the winning row's id. The input is
// copied — the geocoder's cache entries are shared across workers and must
// not be mutated.
func upsertLocation(tx *gorm.DB, loc *models.Location) (*string, error) {
	if loc == nil {
		return nil, nil
	}
	candidate := *loc
	if candidate.LocationID == "" {
		candidate.LocationID = uuid.NewString()
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "long_lat"}},
		DoNothing: true,
	}).Create(&candidate).Error; err != nil {
		return nil, fmt.Errorf("failed to upsert location %s: %w", candidate.LongLat, err)
	}

	var existing models.Location
	if err := tx.Where("long_lat = ?", candidate.LongLat).First(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to read back location %s: %w", candidate.LongLat, err)
	}
	return &existing.LocationID, nil
}

// buildRoundRow dispatches the mode-tagged round onto its table's row type.
// One writer, three tables — the only per-mode branching in persistence.
func buildRoundRow(tx *gorm.DB, game *models.MultiplayerGame, round *models.GameRound) (interface{}, error) {
	correctID, err := upsertLocation(tx, round.CorrectLocation)
	if err != nil {
		return nil, err
	}
	playerID, err := upsertLocation(tx, round.PlayerLocation)
	if err != nil {
		return nil, err
	}

	core := models.RoundCore{
		RoundID:           uuid.NewString(),
		GameID:            game.GameID,
		RoundNumber:       round.Number,
		Heading:           round.Heading,
		Pitch:             round.Pitch,
		Zoom:              round.Zoom,
		CountryCode:       round.CountryCode,
		CorrectLocationID: correctID,
	}

	switch game.GameMode {
	case models.ModeTeamDuel:
		partnerID, err := upsertLocation(tx, round.PartnerLocation)
		if err != nil {
			return nil, err
		}
		return &models.TeamDuelRound{
			RoundCore:         core,
			TeamScore:         round.OwnScore,
			OpponentScore:     round.OpponentScore,
			Player1LocationID: playerID,
			Player2LocationID: partnerID,
		}, nil

	case models.ModeDuel:
		opponentID, err := upsertLocation(tx, round.OpponentLocation)
		if err != nil {
			return nil, err
		}
		return &models.DuelRound{
			RoundCore:          core,
			PlayerScore:        round.OwnScore,
			OpponentScore:      round.OpponentScore,
			PlayerLocationID:   playerID,
			OpponentLocationID: opponentID,
		}, nil

	case models.ModeSinglePlayer:
		return &models.SinglePlayerRound{
			RoundCore:       core,
			Score:           round.OwnScore,
			GuessLocationID: playerID,
		}, nil
	}
	return nil, fmt.Errorf("unknown game mode %q for game %s", game.GameMode, game.GameID)
}

// RecordRun creates or updates a pipeline run summary row.
func (s *PersistenceService) RecordRun(run *models.PipelineRun) error {
	return s.DB.Save(run).Error
}
