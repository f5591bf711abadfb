// services/geoguessr_client.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"geostats-pipeline/models"
	"geostats-pipeline/utils"
)

const (
	DefaultAPIBaseURL        = "https://www.geoguessr.com/api"
	DefaultGameServerBaseURL = "https://game-server.geoguessr.com/api"

	feedPageSize = 50
	maxBodyBytes = 8 << 20
)

// FeedEntry is one discovered game from the activity feed, newest first.
type FeedEntry struct {
	GameID              string
	Mode                models.GameMode
	CompetitiveGameMode string
	Time                time.Time
}

// GameDetail is one game's processed rounds plus the raw payload for the
// archive. TeamDuel is set only for team-duel games.
type GameDetail struct {
	Rounds   []models.GameRound
	TeamDuel *models.TeamDuelGame
	Raw      []byte
}

// GeoClient talks to the two upstream hosts: the main API (feed, singleplayer
// games) and the game server (duels). Authentication is the opaque _ncfa
// cookie supplied externally — refresh/expiry is not handled here.
type GeoClient struct {
	apiBaseURL        string
	gameServerBaseURL string
	cookie            string
	playerID          string
	httpClient        *http.Client
}

func NewGeoClient(apiBaseURL, gameServerBaseURL, cookie, playerID string) *GeoClient {
	if apiBaseURL == "" {
		apiBaseURL = DefaultAPIBaseURL
	}
	if gameServerBaseURL == "" {
		gameServerBaseURL = DefaultGameServerBaseURL
	}
	return &GeoClient{
		apiBaseURL:        apiBaseURL,
		gameServerBaseURL: gameServerBaseURL,
		cookie:            cookie,
		playerID:          playerID,
		httpClient:        utils.HTTPClient,
	}
}

type feedPage struct {
	Entries         []feedEntryPayload `json:"entries"`
	PaginationToken string             `json:"paginationToken"`
}

type feedEntryPayload struct {
	GameID              string    `json:"gameId"`
	GameMode            string    `json:"gameMode"`
	CompetitiveGameMode string    `json:"competitiveGameMode"`
	Time                time.Time `json:"time"`
}

// ListGames walks the private feed newest-first and returns every entry with
// timestamp ≥ since. Pagination stops at the first entry strictly older than
// since — entries exactly at the cursor are still returned so the filtering
// step can resolve timestamp ties against storage. Entries that do not
// decode into a known shape are logged and dropped without failing the run.
func (c *GeoClient) ListGames(ctx context.Context, since time.Time) ([]FeedEntry, error) {
	var out []FeedEntry
	token := ""

	for {
		page, err := c.fetchFeedPage(ctx, token)
		if err != nil {
			return nil, err
		}

		done := false
		for _, e := range page.Entries {
			if e.Time.Before(since) {
				done = true
				break
			}
			mode, ok := models.ParseGameMode(e.GameMode)
			if !ok || e.GameID == "" || e.Time.IsZero() {
				log.Printf("[FEED] ⚠️ Skipping malformed feed entry (id=%q mode=%q): %v",
					e.GameID, e.GameMode, ErrMalformedResponse)
				continue
			}
			out = append(out, FeedEntry{
				GameID:              e.GameID,
				Mode:                mode,
				CompetitiveGameMode: e.CompetitiveGameMode,
				Time:                e.Time,
			})
		}

		if done || page.PaginationToken == "" {
			return out, nil
		}
		token = page.PaginationToken
	}
}

func (c *GeoClient) fetchFeedPage(ctx context.Context, token string) (*feedPage, error) {
	u, err := url.Parse(c.apiBaseURL + "/v4/feed/private")
	if err != nil {
		return nil, fmt.Errorf("invalid feed URL: %w", err)
	}
	q := u.Query()
	q.Set("count", strconv.Itoa(feedPageSize))
	if token != "" {
		q.Set("paginationToken", token)
	}
	u.RawQuery = q.Encode()

	var page feedPage
	if _, err := c.getJSON(ctx, u.String(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// FetchGame retrieves and processes the full round set for one feed entry.
func (c *GeoClient) FetchGame(ctx context.Context, entry FeedEntry) (*GameDetail, error) {
	switch entry.Mode {
	case models.ModeSinglePlayer:
		return c.fetchSinglePlayerGame(ctx, entry)
	case models.ModeDuel, models.ModeTeamDuel:
		return c.fetchDuelGame(ctx, entry)
	default:
		return nil, fmt.Errorf("%w: unknown game mode %q", ErrMalformedResponse, entry.Mode)
	}
}

// --- duels / team duels -----------------------------------------------------

type duelPayload struct {
	GameID string             `json:"gameId"`
	Status string             `json:"status"`
	Teams  []duelTeam         `json:"teams"`
	Rounds []duelRoundPayload `json:"rounds"`
}

type duelTeam struct {
	ID           string            `json:"id"`
	Players      []duelPlayer      `json:"players"`
	RoundResults []duelRoundResult `json:"roundResults"`
}

type duelPlayer struct {
	PlayerID string      `json:"playerId"`
	Guesses  []duelGuess `json:"guesses"`
}

type duelGuess struct {
	RoundNumber int     `json:"roundNumber"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Score       int     `json:"score"`
}

type duelRoundResult struct {
	RoundNumber int        `json:"roundNumber"`
	Score       int        `json:"score"`
	BestGuess   *duelGuess `json:"bestGuess"`
}

type duelRoundPayload struct {
	RoundNumber int      `json:"roundNumber"`
	Panorama    panorama `json:"panorama"`
}

type panorama struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Heading     float64 `json:"heading"`
	Pitch       float64 `json:"pitch"`
	Zoom        float64 `json:"zoom"`
	CountryCode string  `json:"countryCode"`
}

func (c *GeoClient) fetchDuelGame(ctx context.Context, entry FeedEntry) (*GameDetail, error) {
	var data duelPayload
	raw, err := c.getJSON(ctx, c.gameServerBaseURL+"/duels/"+url.PathEscape(entry.GameID), &data)
	if err != nil {
		return nil, err
	}

	ownTeam, opponentTeam := splitTeams(data.Teams, c.playerID)
	if ownTeam == nil {
		return nil, fmt.Errorf("%w: player %s not found in any team of game %s",
			ErrMalformedResponse, c.playerID, entry.GameID)
	}
	if entry.Mode == models.ModeTeamDuel && len(ownTeam.Players) < 2 {
		return nil, fmt.Errorf("%w: team duel %s has %d players on own team",
			ErrMalformedResponse, entry.GameID, len(ownTeam.Players))
	}

	rounds := make([]models.GameRound, 0, len(data.Rounds))
	for _, rd := range data.Rounds {
		round := models.GameRound{
			Number:      rd.RoundNumber,
			Heading:     rd.Panorama.Heading,
			Pitch:       rd.Panorama.Pitch,
			Zoom:        rd.Panorama.Zoom,
			CountryCode: rd.Panorama.CountryCode,
			Correct:     models.Coordinate{Lat: rd.Panorama.Lat, Lng: rd.Panorama.Lng},
		}

		for _, p := range ownTeam.Players {
			guess := guessForRound(p.Guesses, rd.RoundNumber)
			if guess == nil {
				continue
			}
			coord := &models.Coordinate{Lat: guess.Lat, Lng: guess.Lng}
			if p.PlayerID == c.playerID {
				round.PlayerGuess = coord
			} else {
				// Record the teammate's guess regardless of which player it is.
				round.PartnerGuess = coord
			}
		}

		if result := resultForRound(ownTeam.RoundResults, rd.RoundNumber); result != nil {
			round.OwnScore = result.Score
		}
		if opponentTeam != nil {
			if result := resultForRound(opponentTeam.RoundResults, rd.RoundNumber); result != nil && result.BestGuess != nil {
				round.OpponentGuess = &models.Coordinate{Lat: result.BestGuess.Lat, Lng: result.BestGuess.Lng}
				score := result.BestGuess.Score
				round.OpponentScore = &score
			}
		}

		rounds = append(rounds, round)
	}

	if err := validateRounds(entry, data.Status, rounds); err != nil {
		return nil, err
	}

	detail := &GameDetail{Rounds: rounds, Raw: raw}
	if entry.Mode == models.ModeTeamDuel {
		detail.TeamDuel = &models.TeamDuelGame{
			GameID:    entry.GameID,
			Status:    data.Status,
			Rounds:    len(rounds),
			Player1ID: ownTeam.Players[0].PlayerID,
			Player2ID: ownTeam.Players[1].PlayerID,
		}
	}
	return detail, nil
}

func splitTeams(teams []duelTeam, playerID string) (own, opponent *duelTeam) {
	for i := range teams {
		for _, p := range teams[i].Players {
			if p.PlayerID == playerID {
				own = &teams[i]
				break
			}
		}
	}
	if own == nil {
		return nil, nil
	}
	for i := range teams {
		if &teams[i] != own {
			opponent = &teams[i]
			break
		}
	}
	return own, opponent
}

func guessForRound(guesses []duelGuess, roundNumber int) *duelGuess {
	for i := range guesses {
		if guesses[i].RoundNumber == roundNumber {
			return &guesses[i]
		}
	}
	return nil
}

func resultForRound(results []duelRoundResult, roundNumber int) *duelRoundResult {
	for i := range results {
		if results[i].RoundNumber == roundNumber {
			return &results[i]
		}
	}
	return nil
}

// --- singleplayer -----------------------------------------------------------

type singlePlayerPayload struct {
	Token      string    `json:"token"`
	RoundCount int       `json:"roundCount"`
	Rounds     []spRound `json:"rounds"`
	Player     spPlayer  `json:"player"`
}

type spRound struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Heading     float64 `json:"heading"`
	Pitch       float64 `json:"pitch"`
	Zoom        float64 `json:"zoom"`
	CountryCode string  `json:"streakLocationCode"`
}

type spPlayer struct {
	ID      string    `json:"id"`
	Guesses []spGuess `json:"guesses"`
}

type spGuess struct {
	Lat                float64 `json:"lat"`
	Lng                float64 `json:"lng"`
	RoundScoreInPoints int     `json:"roundScoreInPoints"`
}

func (c *GeoClient) fetchSinglePlayerGame(ctx context.Context, entry FeedEntry) (*GameDetail, error) {
	var data singlePlayerPayload
	raw, err := c.getJSON(ctx, c.apiBaseURL+"/v3/games/"+url.PathEscape(entry.GameID), &data)
	if err != nil {
		return nil, err
	}

	// v3 games declare their own cardinality; guesses and rounds are
	// parallel arrays.
	if data.RoundCount != len(data.Rounds) {
		return nil, fmt.Errorf("%w: game %s declares %d rounds but carries %d",
			ErrMalformedResponse, entry.GameID, data.RoundCount, len(data.Rounds))
	}
	if len(data.Player.Guesses) > len(data.Rounds) {
		return nil, fmt.Errorf("%w: game %s has %d guesses for %d rounds",
			ErrMalformedResponse, entry.GameID, len(data.Player.Guesses), len(data.Rounds))
	}

	rounds := make([]models.GameRound, 0, len(data.Rounds))
	for i, rd := range data.Rounds {
		round := models.GameRound{
			Number:      i + 1,
			Heading:     rd.Heading,
			Pitch:       rd.Pitch,
			Zoom:        rd.Zoom,
			CountryCode: rd.CountryCode,
			Correct:     models.Coordinate{Lat: rd.Lat, Lng: rd.Lng},
		}
		if i < len(data.Player.Guesses) {
			g := data.Player.Guesses[i]
			round.PlayerGuess = &models.Coordinate{Lat: g.Lat, Lng: g.Lng}
			round.OwnScore = g.RoundScoreInPoints
		}
		rounds = append(rounds, round)
	}

	if err := validateRounds(entry, "", rounds); err != nil {
		return nil, err
	}
	return &GameDetail{Rounds: rounds, Raw: raw}, nil
}

// validateRounds enforces the per-game schema invariants: at least one round,
// round numbers contiguous from 1, and — for finished standard duels — the
// competitive minimum of 5 rounds. A violation means the payload cannot be
// trusted, so the game is rejected rather than silently truncated.
func validateRounds(entry FeedEntry, status string, rounds []models.GameRound) error {
	if len(rounds) == 0 {
		return fmt.Errorf("%w: game %s has no rounds", ErrMalformedResponse, entry.GameID)
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].Number < rounds[j].Number })
	for i, r := range rounds {
		if r.Number != i+1 {
			return fmt.Errorf("%w: game %s round numbering broken at position %d (got %d)",
				ErrMalformedResponse, entry.GameID, i+1, r.Number)
		}
	}
	if entry.CompetitiveGameMode == "StandardDuels" && status == "Finished" && len(rounds) < 5 {
		return fmt.Errorf("%w: finished standard duel %s has only %d rounds",
			ErrMalformedResponse, entry.GameID, len(rounds))
	}
	return nil
}

// --- transport --------------------------------------------------------------

// getJSON issues an authenticated GET, maps the status code onto the error
// taxonomy, and returns the raw body alongside the decoded result so callers
// can archive the untouched payload.
func (c *GeoClient) getJSON(ctx context.Context, rawURL string, out interface{}) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request to %s: %w", rawURL, err)
	}
	req.Header.Set("Cookie", c.cookie)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer func() {
		// Always drain & close to prevent connection leaks
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrUpstreamUnavailable, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return body, nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthExpired, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrGameNotFound, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: status %d: %s", ErrUpstreamUnavailable, resp.StatusCode, string(body))
	}
}
