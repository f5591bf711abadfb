// models/round.go
package models

import (
	"time"
)

// Coordinate is a raw lat/lng pair as reported upstream.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GameRound is the mode-tagged in-memory round shared by all three game
// modes. The detail fetcher fills the coordinates and scores; the geocode
// step attaches the resolved Locations; the writer maps the result onto the
// mode's rounds table.
type GameRound struct {
	Number      int
	Heading     float64
	Pitch       float64
	Zoom        float64
	CountryCode string // upstream panorama country code, may be ""

	Correct       Coordinate
	PlayerGuess   *Coordinate // own guess; nil when the player timed out
	PartnerGuess  *Coordinate // teammate guess, team duels only
	OpponentGuess *Coordinate // best opponent guess, duels only

	OwnScore      int  // team score for team duels, player score otherwise
	OpponentScore *int // nil for singleplayer

	// Resolved by the geocode step, nil where the matching guess is nil.
	CorrectLocation  *Location
	PlayerLocation   *Location
	PartnerLocation  *Location
	OpponentLocation *Location
}

// RoundCore carries the columns every per-mode rounds table shares.
type RoundCore struct {
	RoundID           string    `json:"round_id" gorm:"column:round_id;primaryKey;type:uuid"`
	GameID            string    `json:"game_id" gorm:"not null;index"`
	RoundNumber       int       `json:"round_number" gorm:"not null"`
	Heading           float64   `json:"heading"`
	Pitch             float64   `json:"pitch"`
	Zoom              float64   `json:"zoom"`
	CountryCode       string    `json:"country_code" gorm:"type:varchar(8)"`
	CorrectLocationID *string   `json:"correct_location_id" gorm:"type:uuid"`
	CreatedAt         time.Time `json:"created_at"`
}

// TeamDuelRound — one row per team-duel round.
// Table name: team_duel_rounds
type TeamDuelRound struct {
	RoundCore
	TeamScore         int     `json:"team_score"`
	OpponentScore     *int    `json:"opponent_score"`
	Player1LocationID *string `json:"player1_location_id" gorm:"type:uuid"`
	Player2LocationID *string `json:"player2_location_id" gorm:"type:uuid"`
}

func (TeamDuelRound) TableName() string { return "team_duel_rounds" }

// DuelRound — one row per standard-duel round.
// Table name: duel_rounds
type DuelRound struct {
	RoundCore
	PlayerScore        int     `json:"player_score"`
	OpponentScore      *int    `json:"opponent_score"`
	PlayerLocationID   *string `json:"player_location_id" gorm:"type:uuid"`
	OpponentLocationID *string `json:"opponent_location_id" gorm:"type:uuid"`
}

func (DuelRound) TableName() string { return "duel_rounds" }

// SinglePlayerRound — one row per singleplayer round.
// Table name: single_player_rounds
type SinglePlayerRound struct {
	RoundCore
	Score           int     `json:"score"`
	GuessLocationID *string `json:"guess_location_id" gorm:"type:uuid"`
}

func (SinglePlayerRound) TableName() string { return "single_player_rounds" }
