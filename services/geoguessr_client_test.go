package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"geostats-pipeline/models"
)

const testPlayerID = "player-1"

func feedTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

func TestGeoClient_ListGamesPagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("paginationToken") {
		case "":
			fmt.Fprintf(w, `{"entries":[
				{"gameId":"a","gameMode":"Duels","competitiveGameMode":"StandardDuels","time":"%s"},
				{"gameId":"b","gameMode":"TeamDuels","time":"%s"}
			],"paginationToken":"page2"}`, feedTime(300), feedTime(200))
		case "page2":
			fmt.Fprintf(w, `{"entries":[
				{"gameId":"c","gameMode":"Singleplayer","time":"%s"},
				{"gameId":"old","gameMode":"Duels","time":"%s"}
			],"paginationToken":"page3"}`, feedTime(100), feedTime(10))
		default:
			t.Errorf("pagination continued past the since cutoff: token=%q", r.URL.Query().Get("paginationToken"))
			fmt.Fprint(w, `{"entries":[]}`)
		}
	}))
	defer server.Close()

	client := NewGeoClient(server.URL, server.URL, "cookie", testPlayerID)
	entries, err := client.ListGames(context.Background(), time.Unix(50, 0).UTC())
	if err != nil {
		t.Fatalf("ListGames failed: %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].GameID != "a" || entries[1].GameID != "b" || entries[2].GameID != "c" {
		t.Errorf("unexpected entry order: %+v", entries)
	}
	if entries[1].Mode != models.ModeTeamDuel {
		t.Errorf("unexpected mode for b: %s", entries[1].Mode)
	}
}

func TestGeoClient_ListGamesKeepsCursorTies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"entries":[{"gameId":"tie","gameMode":"Duels","time":"%s"}]}`, feedTime(60))
	}))
	defer server.Close()

	client := NewGeoClient(server.URL, server.URL, "cookie", testPlayerID)
	entries, err := client.ListGames(context.Background(), time.Unix(60, 0).UTC())
	if err != nil {
		t.Fatalf("ListGames failed: %v", err)
	}
	// Entries exactly at the cursor stay in — the filtering step resolves
	// ties against storage, not timestamps.
	if len(entries) != 1 || entries[0].GameID != "tie" {
		t.Fatalf("expected the tied entry to be returned, got %+v", entries)
	}
}

func TestGeoClient_ListGamesSkipsMalformedEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"entries":[
			{"gameId":"","gameMode":"Duels","time":"%s"},
			{"gameId":"x","gameMode":"BattleRoyale","time":"%s"},
			{"gameId":"good","gameMode":"Duels","time":"%s"}
		]}`, feedTime(300), feedTime(250), feedTime(200))
	}))
	defer server.Close()

	client := NewGeoClient(server.URL, server.URL, "cookie", testPlayerID)
	entries, err := client.ListGames(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("malformed entries must not abort discovery: %v", err)
	}
	if len(entries) != 1 || entries[0].GameID != "good" {
		t.Fatalf("expected only the well-formed entry, got %+v", entries)
	}
}

func TestGeoClient_AuthExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewGeoClient(server.URL, server.URL, "stale-cookie", testPlayerID)
	_, err := client.ListGames(context.Background(), time.Time{})
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
}

func TestGeoClient_FetchGameNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewGeoClient(server.URL, server.URL, "cookie", testPlayerID)
	_, err := client.FetchGame(context.Background(), testEntry("gone", models.ModeDuel))
	if !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
}

func TestGeoClient_FetchGameUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewGeoClient(server.URL, server.URL, "cookie", testPlayerID)
	_, err := client.FetchGame(context.Background(), testEntry("g", models.ModeTeamDuel))
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func testEntry(id string, mode models.GameMode) FeedEntry {
	return FeedEntry{GameID: id, Mode: mode, Time: time.Unix(100, 0).UTC()}
}

const teamDuelPayload = `{
	"gameId": "td-1",
	"status": "Finished",
	"teams": [
		{
			"id": "team-own",
			"players": [
				{"playerId": "player-1", "guesses": [
					{"roundNumber": 1, "lat": 48.85, "lng": 2.35, "score": 4800},
					{"roundNumber": 2, "lat": 52.52, "lng": 13.40, "score": 4500}
				]},
				{"playerId": "partner", "guesses": [
					{"roundNumber": 1, "lat": 48.80, "lng": 2.30, "score": 4700}
				]}
			],
			"roundResults": [
				{"roundNumber": 1, "score": 4800},
				{"roundNumber": 2, "score": 4500}
			]
		},
		{
			"id": "team-opp",
			"players": [{"playerId": "opp-1", "guesses": []}],
			"roundResults": [
				{"roundNumber": 1, "score": 4000, "bestGuess": {"roundNumber": 1, "lat": 40.0, "lng": -3.7, "score": 4000}},
				{"roundNumber": 2, "score": 3000, "bestGuess": {"roundNumber": 2, "lat": 41.9, "lng": 12.5, "score": 3000}}
			]
		}
	],
	"rounds": [
		{"roundNumber": 2, "panorama": {"lat": 52.5200, "lng": 13.4050, "heading": 10, "pitch": 0, "zoom": 1, "countryCode": "de"}},
		{"roundNumber": 1, "panorama": {"lat": 48.8566, "lng": 2.3522, "heading": 90, "pitch": 5, "zoom": 0, "countryCode": "fr"}}
	]
}`

func TestGeoClient_FetchTeamDuel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/duels/td-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, teamDuelPayload)
	}))
	defer server.Close()

	client := NewGeoClient(server.URL, server.URL, "cookie", testPlayerID)
	detail, err := client.FetchGame(context.Background(), testEntry("td-1", models.ModeTeamDuel))
	if err != nil {
		t.Fatalf("FetchGame failed: %v", err)
	}

	if detail.TeamDuel == nil {
		t.Fatal("expected team duel summary")
	}
	if detail.TeamDuel.Player1ID != "player-1" || detail.TeamDuel.Player2ID != "partner" {
		t.Errorf("unexpected team players: %+v", detail.TeamDuel)
	}
	if detail.TeamDuel.Rounds != 2 || detail.TeamDuel.Status != "Finished" {
		t.Errorf("unexpected summary: %+v", detail.TeamDuel)
	}
	if len(detail.Raw) == 0 {
		t.Error("expected raw payload for the archive")
	}

	if len(detail.Rounds) != 2 {
		t.Fatalf("expected 2 rounds, got %d", len(detail.Rounds))
	}
	// Rounds come back sorted even when the payload is out of order.
	r1 := detail.Rounds[0]
	if r1.Number != 1 || r1.CountryCode != "fr" {
		t.Errorf("unexpected first round: %+v", r1)
	}
	if r1.Correct.Lat != 48.8566 || r1.Correct.Lng != 2.3522 {
		t.Errorf("unexpected correct coordinate: %+v", r1.Correct)
	}
	if r1.PlayerGuess == nil || r1.PlayerGuess.Lat != 48.85 {
		t.Errorf("unexpected player guess: %+v", r1.PlayerGuess)
	}
	if r1.PartnerGuess == nil || r1.PartnerGuess.Lat != 48.80 {
		t.Errorf("unexpected partner guess: %+v", r1.PartnerGuess)
	}
	if r1.OwnScore != 4800 {
		t.Errorf("unexpected team score: %d", r1.OwnScore)
	}
	if r1.OpponentScore == nil || *r1.OpponentScore != 4000 {
		t.Errorf("unexpected opponent score: %v", r1.OpponentScore)
	}

	r2 := detail.Rounds[1]
	if r2.PartnerGuess != nil {
		t.Errorf("round 2 has no partner guess, got %+v", r2.PartnerGuess)
	}
	if r2.PlayerGuess == nil || r2.PlayerGuess.Lat != 52.52 {
		t.Errorf("unexpected round 2 player guess: %+v", r2.PlayerGuess)
	}
}

func TestGeoClient_FetchDuelPlayerNotInTeams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"gameId":"d","status":"Finished","teams":[
			{"id":"t1","players":[{"playerId":"someone-else","guesses":[]}],"roundResults":[]}
		],"rounds":[{"roundNumber":1,"panorama":{"lat":1,"lng":2}}]}`)
	}))
	defer server.Close()

	client := NewGeoClient(server.URL, server.URL, "cookie", testPlayerID)
	_, err := client.FetchGame(context.Background(), testEntry("d", models.ModeDuel))
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestGeoClient_FetchDuelBrokenRoundNumbering(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"gameId":"d","status":"InProgress","teams":[
			{"id":"t1","players":[{"playerId":"%s","guesses":[]}],"roundResults":[]},
			{"id":"t2","players":[{"playerId":"opp","guesses":[]}],"roundResults":[]}
		],"rounds":[
			{"roundNumber":1,"panorama":{"lat":1,"lng":2}},
			{"roundNumber":3,"panorama":{"lat":3,"lng":4}}
		]}`, testPlayerID)
	}))
	defer server.Close()

	client := NewGeoClient(server.URL, server.URL, "cookie", testPlayerID)
	_, err := client.FetchGame(context.Background(), testEntry("d", models.ModeDuel))
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse for gap in round numbers, got %v", err)
	}
}

func TestGeoClient_FetchSinglePlayer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/games/sp-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{
			"token": "sp-1",
			"roundCount": 2,
			"rounds": [
				{"lat": -33.86, "lng": 151.20, "heading": 0, "pitch": 0, "zoom": 0, "streakLocationCode": "au"},
				{"lat": 35.68, "lng": 139.69, "heading": 180, "pitch": 0, "zoom": 0, "streakLocationCode": "jp"}
			],
			"player": {"id": "player-1", "guesses": [
				{"lat": -33.9, "lng": 151.1, "roundScoreInPoints": 4900},
				{"lat": 35.0, "lng": 139.0, "roundScoreInPoints": 4200}
			]}
		}`)
	}))
	defer server.Close()

	client := NewGeoClient(server.URL, server.URL, "cookie", testPlayerID)
	detail, err := client.FetchGame(context.Background(), testEntry("sp-1", models.ModeSinglePlayer))
	if err != nil {
		t.Fatalf("FetchGame failed: %v", err)
	}

	if detail.TeamDuel != nil {
		t.Error("singleplayer game must not carry a team duel summary")
	}
	if len(detail.Rounds) != 2 {
		t.Fatalf("expected 2 rounds, got %d", len(detail.Rounds))
	}
	if detail.Rounds[0].OwnScore != 4900 || detail.Rounds[1].OwnScore != 4200 {
		t.Errorf("unexpected scores: %+v", detail.Rounds)
	}
	if detail.Rounds[0].OpponentScore != nil {
		t.Error("singleplayer rounds have no opponent score")
	}
	if detail.Rounds[1].CountryCode != "jp" {
		t.Errorf("unexpected country code: %q", detail.Rounds[1].CountryCode)
	}
}

func TestGeoClient_FetchSinglePlayerCardinalityMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token":"sp-2","roundCount":5,"rounds":[{"lat":1,"lng":2}],"player":{"id":"player-1","guesses":[]}}`)
	}))
	defer server.Close()

	client := NewGeoClient(server.URL, server.URL, "cookie", testPlayerID)
	_, err := client.FetchGame(context.Background(), testEntry("sp-2", models.ModeSinglePlayer))
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}
