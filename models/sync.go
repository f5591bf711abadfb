// models/sync.go
package models

import (
	"time"
)

// SyncCursor is the per-player high-water mark: the timestamp of the newest
// game that was fully persisted. It only ever moves forward, and only after
// a game's transaction committed — a crash mid-pipeline re-processes that
// one game on the next run.
// Table name: sync_cursors
type SyncCursor struct {
	PlayerID     string    `json:"player_id" gorm:"primaryKey"`
	LastGameTime time.Time `json:"last_game_time" gorm:"not null"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (SyncCursor) TableName() string { return "sync_cursors" }

// SkippedGame records games the upstream reported gone (404) so they are
// never fetched again.
// Table name: skipped_games
type SkippedGame struct {
	GameID    string    `json:"game_id" gorm:"primaryKey"`
	PlayerID  string    `json:"player_id" gorm:"not null;index"`
	Reason    string    `json:"reason" gorm:"type:varchar(64);not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (SkippedGame) TableName() string { return "skipped_games" }

// PipelineRun is the operational summary of one sync run.
// Table name: pipeline_runs
type PipelineRun struct {
	RunID      string     `json:"run_id" gorm:"column:run_id;primaryKey;type:uuid"`
	PlayerID   string     `json:"player_id" gorm:"not null;index"`
	StartedAt  time.Time  `json:"started_at" gorm:"not null"`
	FinishedAt *time.Time `json:"finished_at"`
	Discovered int        `json:"discovered"`
	Filtered   int        `json:"filtered"`
	Persisted  int        `json:"persisted"`
	Deferred   int        `json:"deferred"`
	Skipped    int        `json:"skipped"`
	CursorTime time.Time  `json:"cursor_time"`
}

func (PipelineRun) TableName() string { return "pipeline_runs" }
