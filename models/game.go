// models/game.go
package models

import (
	"time"
)

// GameMode mirrors the mode strings the upstream feed reports.
type GameMode string

const (
	ModeSinglePlayer GameMode = "Singleplayer"
	ModeDuel         GameMode = "Duels"
	ModeTeamDuel     GameMode = "TeamDuels"
)

// ParseGameMode maps an upstream mode string onto a known GameMode.
func ParseGameMode(s string) (GameMode, bool) {
	switch GameMode(s) {
	case ModeSinglePlayer, ModeDuel, ModeTeamDuel:
		return GameMode(s), true
	}
	return "", false
}

// MultiplayerGame is one discovered game, immutable once written.
// Table name: multiplayer_games
type MultiplayerGame struct {
	GameID              string    `json:"game_id" gorm:"column:game_id;primaryKey"`
	PlayerID            string    `json:"player_id" gorm:"not null;index"`
	Time                time.Time `json:"time" gorm:"not null;index"`
	GameMode            GameMode  `json:"game_mode" gorm:"type:varchar(32);not null"`
	CompetitiveGameMode string    `json:"competitive_game_mode" gorm:"type:varchar(64)"`
	CreatedAt           time.Time `json:"created_at"`
}

func (MultiplayerGame) TableName() string { return "multiplayer_games" }

// TeamDuelGame holds the team-duel summary row for a multiplayer game.
// Table name: team_duel_games
type TeamDuelGame struct {
	GameID    string    `json:"game_id" gorm:"column:game_id;primaryKey"`
	Status    string    `json:"status" gorm:"type:varchar(32);not null"`
	Rounds    int       `json:"rounds" gorm:"not null"`
	Player1ID string    `json:"player1_id" gorm:"not null"`
	Player2ID string    `json:"player2_id" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`

	Game MultiplayerGame `json:"-" gorm:"foreignKey:GameID;references:GameID"`
}

func (TeamDuelGame) TableName() string { return "team_duel_games" }

// EnrichedGame is a fully fetched, fully geocoded game ready for the writer.
// It is persisted atomically or not at all.
type EnrichedGame struct {
	Game     MultiplayerGame
	TeamDuel *TeamDuelGame // set only for ModeTeamDuel
	Rounds   []GameRound   // in round_number order, 1..K contiguous
}
