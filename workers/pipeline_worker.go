// workers/pipeline_worker.go
package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"geostats-pipeline/models"
	"geostats-pipeline/services"
	"geostats-pipeline/utils"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// GameSource is the upstream gaming API surface the pipeline consumes.
type GameSource interface {
	ListGames(ctx context.Context, since time.Time) ([]services.FeedEntry, error)
	FetchGame(ctx context.Context, entry services.FeedEntry) (*services.GameDetail, error)
}

// Geocoder resolves a coordinate into a place.
type Geocoder interface {
	Resolve(ctx context.Context, lat, lng float64) (*models.Location, error)
}

// GameStore is the persistence surface the pipeline writes through.
type GameStore interface {
	HasGame(gameID string) (bool, error)
	IsSkipped(gameID string) (bool, error)
	MarkSkipped(gameID, playerID, reason string) error
	LoadCursor(playerID string) (time.Time, error)
	CommitCursor(playerID string, ts time.Time) error
	SaveGame(g *models.EnrichedGame) error
	RecordRun(run *models.PipelineRun) error
}

// Limiter gates external-call budgets per game mode.
type Limiter interface {
	Wait(ctx context.Context, mode models.GameMode) error
}

// PipelineWorker runs the extraction pipeline for one player:
// Idle → Discovering → Filtering → Fetching → Done. Games are processed by a
// bounded pool; per-game failures are isolated, only auth expiry and storage
// loss abort a run. The cursor commits only from games that were fully
// persisted, so a crash mid-run safely re-processes the unfinished game.
type PipelineWorker struct {
	PlayerID string
	Source   GameSource
	Geocoder Geocoder
	Store    GameStore
	Limiter  Limiter
	Workers  int // bounded pool size, default 4
}

func NewPipelineWorker(playerID string, source GameSource, geocoder Geocoder, store GameStore, limiter Limiter, workers int) *PipelineWorker {
	if workers <= 0 {
		workers = 4
	}
	return &PipelineWorker{
		PlayerID: playerID,
		Source:   source,
		Geocoder: geocoder,
		Store:    store,
		Limiter:  limiter,
		Workers:  workers,
	}
}

// Run executes one full sync and returns its summary. The returned error is
// non-nil only for run-fatal conditions (auth expiry, storage loss,
// cancellation); everything else surfaces as counts in the summary.
func (w *PipelineWorker) Run(ctx context.Context) (*models.PipelineRun, error) {
	run := &models.PipelineRun{
		RunID:     uuid.NewString(),
		PlayerID:  w.PlayerID,
		StartedAt: time.Now().UTC(),
	}

	cursor, err := w.Store.LoadCursor(w.PlayerID)
	if err != nil {
		return run, fmt.Errorf("failed to load cursor: %w", err)
	}
	run.CursorTime = cursor

	// Discovering
	log.Printf("[PIPELINE] 📡 Discovering games for player %s since %s", w.PlayerID, cursor.UTC().Format(time.RFC3339))
	entries, err := w.Source.ListGames(ctx, cursor)
	if err != nil {
		if errors.Is(err, services.ErrAuthExpired) {
			log.Printf("[PIPELINE] ❌ Credential rejected — aborting run for re-auth")
		}
		return run, fmt.Errorf("discovery failed: %w", err)
	}
	run.Discovered = len(entries)

	// Filtering: a timestamp strictly below the cursor is already processed;
	// at or above it, storage presence decides — timestamps alone are not a
	// perfect high-water mark when games complete at the same instant.
	candidates := make([]services.FeedEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Time.Before(cursor) {
			run.Filtered++
			continue
		}
		if present, err := w.Store.HasGame(entry.GameID); err != nil {
			return run, fmt.Errorf("storage check failed: %w", err)
		} else if present {
			run.Filtered++
			continue
		}
		if skipped, err := w.Store.IsSkipped(entry.GameID); err != nil {
			return run, fmt.Errorf("skip-list check failed: %w", err)
		} else if skipped {
			run.Filtered++
			continue
		}
		candidates = append(candidates, entry)
	}

	log.Printf("[PIPELINE] 🔎 %d discovered, %d filtered, %d to fetch",
		run.Discovered, run.Filtered, len(candidates))

	// Fetching: bounded pool; the cursor candidate is a serialized monotonic
	// max-reduction over games that fully persisted.
	var mu sync.Mutex
	var maxPersisted time.Time

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.Workers)
	for _, entry := range candidates {
		entry := entry
		group.Go(func() error {
			outcome, err := w.processGame(groupCtx, entry)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomePersisted:
				run.Persisted++
				if entry.Time.After(maxPersisted) {
					maxPersisted = entry.Time
				}
			case outcomeDeferred:
				run.Deferred++
			case outcomeSkipped:
				run.Skipped++
			}
			return err // non-nil only for run-fatal failures
		})
	}
	err = group.Wait()

	// Done: commit the new cursor from fully persisted games only, even when
	// the run is aborted part-way — completed games stay completed.
	if maxPersisted.After(cursor) {
		if commitErr := w.Store.CommitCursor(w.PlayerID, maxPersisted); commitErr != nil {
			if err == nil {
				err = fmt.Errorf("failed to commit cursor: %w", commitErr)
			}
		} else {
			run.CursorTime = maxPersisted
		}
	}

	now := time.Now().UTC()
	run.FinishedAt = &now
	if recordErr := w.Store.RecordRun(run); recordErr != nil {
		log.Printf("[PIPELINE] ⚠️ Failed to record run summary: %v", recordErr)
	}

	log.Printf("[PIPELINE] ✅ Run %s done: %d persisted, %d deferred, %d skipped (cursor=%s)",
		run.RunID, run.Persisted, run.Deferred, run.Skipped, run.CursorTime.UTC().Format(time.RFC3339))
	return run, err
}

type gameOutcome int

const (
	outcomeDeferred gameOutcome = iota
	outcomePersisted
	outcomeSkipped
)

// processGame runs Detail Fetcher → Geocode Resolver → Persistence Writer for
// one game. The returned error is non-nil only when the whole run must stop.
func (w *PipelineWorker) processGame(ctx context.Context, entry services.FeedEntry) (gameOutcome, error) {
	if err := w.Limiter.Wait(ctx, entry.Mode); err != nil {
		return outcomeDeferred, err
	}

	detail, err := w.Source.FetchGame(ctx, entry)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAuthExpired):
			return outcomeDeferred, err
		case errors.Is(err, services.ErrGameNotFound):
			log.Printf("[PIPELINE] 🗑️ Game %s gone upstream — recording as skipped", entry.GameID)
			if markErr := w.Store.MarkSkipped(entry.GameID, w.PlayerID, "game_not_found"); markErr != nil {
				return outcomeSkipped, fmt.Errorf("failed to record skipped game: %w", markErr)
			}
			return outcomeSkipped, nil
		case errors.Is(err, services.ErrMalformedResponse):
			log.Printf("[PIPELINE] ⚠️ Malformed payload for game %s — skipping this run: %v", entry.GameID, err)
			return outcomeSkipped, nil
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return outcomeDeferred, err
		default:
			log.Printf("[PIPELINE] ⚠️ Fetch failed for game %s — deferred to next run: %v", entry.GameID, err)
			return outcomeDeferred, nil
		}
	}

	w.archiveRaw(ctx, entry, detail.Raw)

	enriched := &models.EnrichedGame{
		Game: models.MultiplayerGame{
			GameID:              entry.GameID,
			PlayerID:            w.PlayerID,
			Time:                entry.Time,
			GameMode:            entry.Mode,
			CompetitiveGameMode: entry.CompetitiveGameMode,
		},
		TeamDuel: detail.TeamDuel,
		Rounds:   detail.Rounds,
	}

	for i := range enriched.Rounds {
		// One budget slot per round; the team-duel interval covers its three
		// coordinate resolutions.
		if err := w.Limiter.Wait(ctx, entry.Mode); err != nil {
			return outcomeDeferred, err
		}
		if err := w.enrichRound(ctx, &enriched.Rounds[i]); err != nil {
			return outcomeDeferred, err
		}
	}

	if err := w.Store.SaveGame(enriched); err != nil {
		// The transaction rolled back — nothing of this game is visible.
		log.Printf("[PIPELINE] ❌ Persist failed for game %s (rolled back): %v", entry.GameID, err)
		return outcomeDeferred, nil
	}
	return outcomePersisted, nil
}

// enrichRound resolves the round's coordinates. Geocoder exhaustion degrades
// to a coordinate-only location — partial enrichment beats data loss. Only
// cancellation propagates.
func (w *PipelineWorker) enrichRound(ctx context.Context, round *models.GameRound) error {
	var err error
	round.CorrectLocation, err = w.resolveCoord(ctx, &round.Correct, round.CountryCode)
	if err != nil {
		return err
	}
	round.PlayerLocation, err = w.resolveCoord(ctx, round.PlayerGuess, "")
	if err != nil {
		return err
	}
	round.PartnerLocation, err = w.resolveCoord(ctx, round.PartnerGuess, "")
	if err != nil {
		return err
	}
	round.OpponentLocation, err = w.resolveCoord(ctx, round.OpponentGuess, "")
	if err != nil {
		return err
	}
	return nil
}

func (w *PipelineWorker) resolveCoord(ctx context.Context, coord *models.Coordinate, countryCode string) (*models.Location, error) {
	if coord == nil {
		return nil, nil
	}
	loc, err := w.Geocoder.Resolve(ctx, coord.Lat, coord.Lng)
	if err == nil {
		return loc, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	// Degraded location: raw coordinate intact, admin fields absent unless
	// the panorama carried a country code we can name.
	log.Printf("[GEOCODE] ⚠️ Unresolved coordinate (%f, %f) — persisting partial location: %v", coord.Lat, coord.Lng, err)
	degraded := &models.Location{
		LocationID: uuid.NewString(),
		LongLat:    utils.CoordKey(coord.Lat, coord.Lng),
	}
	if name := services.CountryNameFromCode(countryCode); name != "" {
		degraded.Country = &name
		degraded.PlaceKey = services.PlaceKey(degraded)
	}
	return degraded, nil
}

// archiveRaw stores the untouched upstream payload when the archive bucket
// is configured. Failures are logged and never block the pipeline.
func (w *PipelineWorker) archiveRaw(ctx context.Context, entry services.FeedEntry, raw []byte) {
	if !utils.R2Enabled() || len(raw) == 0 {
		return
	}
	key := fmt.Sprintf("raw/%s/%s.json", entry.Mode, entry.GameID)
	if err := utils.UploadBytesToR2(ctx, key, raw, "application/json"); err != nil {
		log.Printf("[ARCHIVE] ⚠️ Failed to archive payload for game %s: %v", entry.GameID, err)
	}
}
