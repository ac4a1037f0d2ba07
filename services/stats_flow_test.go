package services

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"dk-leaderboard-api/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newTestDB opens the database named by TEST_DATABASE_URL and resets both
// tables. Tests that need real storage skip when the variable is unset.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("skipping DB test; TEST_DATABASE_URL not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Skipf("skipping test; database unavailable: %v", err)
	}
	if err := db.AutoMigrate(&models.Player{}, &models.MatchHistory{}); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if err := db.Exec("TRUNCATE match_history, players").Error; err != nil {
		t.Fatalf("truncate failed: %v", err)
	}
	return db
}

func mustCommit(t *testing.T, svc *StatsService, sub MatchSubmission) *MatchOutcome {
	t.Helper()
	outcome, err := DeriveOutcome(&sub, time.Now())
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	if err := svc.Commit(outcome); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	return outcome
}

func loadPlayer(t *testing.T, db *gorm.DB, address string) models.Player {
	t.Helper()
	var p models.Player
	if err := db.Where("kaspa_address = ?", address).Take(&p).Error; err != nil {
		t.Fatalf("player %s not found: %v", address, err)
	}
	return p
}

func TestCommitAggregatesBothPlayers(t *testing.T) {
	db := newTestDB(t)
	svc := NewStatsService(db, nil)

	outcome := mustCommit(t, svc, MatchSubmission{
		Player1Address: "A",
		Player2Address: "B",
		Player1Score:   int64p(10),
		Player2Score:   int64p(3),
		SessionSeed:    "s1",
	})

	a := loadPlayer(t, db, "A")
	if a.TotalKills != 10 || a.TotalDeaths != 3 || a.Wins != 1 || a.Losses != 0 || a.GamesPlayed != 1 {
		t.Fatalf("unexpected stats for A: %+v", a)
	}
	b := loadPlayer(t, db, "B")
	if b.TotalKills != 3 || b.TotalDeaths != 10 || b.Wins != 0 || b.Losses != 1 || b.GamesPlayed != 1 {
		t.Fatalf("unexpected stats for B: %+v", b)
	}

	var match models.MatchHistory
	if err := db.Where("match_id = ?", outcome.MatchID).Take(&match).Error; err != nil {
		t.Fatalf("match row missing: %v", err)
	}
	if match.WinnerAddress != "A" {
		t.Fatalf("expected winner A, got %q", match.WinnerAddress)
	}
}

func TestCommitAccumulatesAcrossMatches(t *testing.T) {
	db := newTestDB(t)
	svc := NewStatsService(db, nil)

	mustCommit(t, svc, MatchSubmission{
		Player1Address: "A", Player2Address: "B",
		Player1Score: int64p(10), Player2Score: int64p(3), SessionSeed: "s1",
	})
	mustCommit(t, svc, MatchSubmission{
		Player1Address: "B", Player2Address: "A",
		Player1Score: int64p(7), Player2Score: int64p(2), SessionSeed: "s2",
	})

	a := loadPlayer(t, db, "A")
	if a.TotalKills != 12 || a.TotalDeaths != 10 || a.GamesPlayed != 2 {
		t.Fatalf("unexpected cumulative stats for A: %+v", a)
	}
	if a.Wins+a.Losses != a.GamesPlayed {
		t.Fatalf("wins+losses=%d should equal games_played=%d", a.Wins+a.Losses, a.GamesPlayed)
	}
	b := loadPlayer(t, db, "B")
	if b.TotalKills != 10 || b.TotalDeaths != 12 || b.Wins != 1 || b.Losses != 1 {
		t.Fatalf("unexpected cumulative stats for B: %+v", b)
	}
}

func TestCommitAtomicityOnMatchInsertFailure(t *testing.T) {
	db := newTestDB(t)
	svc := NewStatsService(db, nil)

	first := mustCommit(t, svc, MatchSubmission{
		Player1Address: "A", Player2Address: "B",
		Player1Score: int64p(10), Player2Score: int64p(3), SessionSeed: "s1",
	})

	// Reuse the committed match id so the final insert violates the unique
	// constraint; the player upserts in the same batch must roll back.
	dup := &MatchOutcome{
		MatchID:        first.MatchID,
		SessionSeed:    "s1",
		Player1Address: "A",
		Player2Address: "B",
		Player1Score:   5,
		Player2Score:   1,
		WinnerAddress:  "A",
	}
	if err := svc.Commit(dup); err == nil {
		t.Fatal("expected duplicate match id to fail the batch")
	}

	a := loadPlayer(t, db, "A")
	if a.TotalKills != 10 || a.GamesPlayed != 1 || a.Wins != 1 {
		t.Fatalf("failed batch leaked player mutations: %+v", a)
	}
}

func TestConcurrentCommitsMergeWithoutLostUpdates(t *testing.T) {
	db := newTestDB(t)
	svc := NewStatsService(db, nil)

	// Every batch touches the same hot address; the merge upsert must apply
	// all of them, not let read-modify-write races overwrite each other.
	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.Commit(&MatchOutcome{
				MatchID:        fmt.Sprintf("race-%d", i),
				SessionSeed:    fmt.Sprintf("race-%d", i),
				Player1Address: "hot",
				Player2Address: fmt.Sprintf("opp-%d", i),
				Player1Score:   2,
				Player2Score:   1,
				WinnerAddress:  "hot",
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent commit failed: %v", err)
		}
	}

	hot := loadPlayer(t, db, "hot")
	if hot.GamesPlayed != n || hot.Wins != n {
		t.Fatalf("expected %d games and wins for hot, got %+v", n, hot)
	}
	if hot.TotalKills != 2*n || hot.TotalDeaths != n {
		t.Fatalf("expected %d kills and %d deaths for hot, got %+v", 2*n, n, hot)
	}

	var matches int64
	if err := db.Model(&models.MatchHistory{}).
		Where("player1_address = ?", "hot").
		Count(&matches).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if matches != n {
		t.Fatalf("expected %d match rows, got %d", n, matches)
	}
}

func TestDisplayNameFirstWriteWins(t *testing.T) {
	db := newTestDB(t)
	svc := NewStatsService(db, nil)

	mustCommit(t, svc, MatchSubmission{
		Player1Address: "A", Player2Address: "B",
		Player1Score: int64p(1), Player2Score: int64p(0), SessionSeed: "s1",
	})
	a := loadPlayer(t, db, "A")
	if a.DisplayName != nil {
		t.Fatalf("expected no display name yet, got %q", *a.DisplayName)
	}

	mustCommit(t, svc, MatchSubmission{
		Player1Address: "A", Player2Address: "B",
		Player1Score: int64p(1), Player2Score: int64p(0), SessionSeed: "s2",
		Player1DisplayName: strp("Sir Knight"),
	})
	a = loadPlayer(t, db, "A")
	if a.DisplayName == nil || *a.DisplayName != "Sir Knight" {
		t.Fatalf("expected first non-null name to be adopted, got %v", a.DisplayName)
	}

	mustCommit(t, svc, MatchSubmission{
		Player1Address: "A", Player2Address: "B",
		Player1Score: int64p(1), Player2Score: int64p(0), SessionSeed: "s3",
		Player1DisplayName: strp("Impostor"),
	})
	a = loadPlayer(t, db, "A")
	if a.DisplayName == nil || *a.DisplayName != "Sir Knight" {
		t.Fatalf("display name must never be overwritten once set, got %v", a.DisplayName)
	}
	if a.NameSlug == nil || *a.NameSlug != "sir-knight" {
		t.Fatalf("expected slug sir-knight, got %v", a.NameSlug)
	}
}

func TestLeaderboardOrderingAndFilters(t *testing.T) {
	db := newTestDB(t)
	svc := NewLeaderboardService(db, nil)

	players := []models.Player{
		{KaspaAddress: "high-kd", TotalKills: 30, TotalDeaths: 3, GamesPlayed: 5, Wins: 3, Losses: 2},
		{KaspaAddress: "mid-kd", TotalKills: 20, TotalDeaths: 10, GamesPlayed: 5, Wins: 4, Losses: 1},
		{KaspaAddress: "never-died", TotalKills: 9, TotalDeaths: 0, GamesPlayed: 4, Wins: 4, Losses: 0},
	}
	if err := db.Create(&players).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	kd, err := svc.fetchLeaderboard("kd", 50)
	if err != nil {
		t.Fatalf("kd query failed: %v", err)
	}
	if len(kd) != 2 {
		t.Fatalf("kd sort must exclude zero-death players, got %d rows", len(kd))
	}
	if kd[0].KaspaAddress != "high-kd" || kd[1].KaspaAddress != "mid-kd" {
		t.Fatalf("unexpected kd order: %q, %q", kd[0].KaspaAddress, kd[1].KaspaAddress)
	}
	if kd[0].KDRatio == nil || *kd[0].KDRatio != 10 {
		t.Fatalf("expected kd_ratio 10, got %v", kd[0].KDRatio)
	}

	wins, err := svc.fetchLeaderboard("wins", 50)
	if err != nil {
		t.Fatalf("wins query failed: %v", err)
	}
	if len(wins) != 3 {
		t.Fatalf("wins sort must include everyone who played, got %d rows", len(wins))
	}
	// mid-kd and never-died both have 4 wins; the undefined ratio sorts last.
	if wins[0].KaspaAddress != "mid-kd" || wins[1].KaspaAddress != "never-died" {
		t.Fatalf("unexpected wins order: %q, %q", wins[0].KaspaAddress, wins[1].KaspaAddress)
	}
	if wins[1].KDRatio != nil {
		t.Fatalf("expected undefined ratio for never-died, got %v", *wins[1].KDRatio)
	}

	capped, err := svc.fetchLeaderboard("kd", 1)
	if err != nil {
		t.Fatalf("limited query failed: %v", err)
	}
	if len(capped) != 1 {
		t.Fatalf("expected 1 row, got %d", len(capped))
	}
}

func newStatsApp(db *gorm.DB) *fiber.App {
	app := fiber.New()
	stats := NewStatsService(db, nil)
	leaderboard := NewLeaderboardService(db, nil)
	app.Post("/api/stats", stats.SubmitStats)
	app.Get("/api/leaderboard", leaderboard.GetLeaderboard)
	app.Get("/api/player/by-name/:slug", leaderboard.GetPlayerByName)
	app.Get("/api/player/:address/matches", leaderboard.GetPlayerMatches)
	app.Get("/api/player/:address", leaderboard.GetPlayer)
	return app
}

func TestQueryEndpoints(t *testing.T) {
	db := newTestDB(t)
	svc := NewStatsService(db, nil)
	app := newStatsApp(db)

	// Nothing submitted yet: still 200, with an empty array rather than null.
	resp, err := app.Test(httptest.NewRequest("GET", "/api/leaderboard", nil))
	if err != nil {
		t.Fatalf("leaderboard request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 on empty leaderboard, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"leaderboard":[]`) {
		t.Fatalf("expected empty array body, got %s", body)
	}

	mustCommit(t, svc, MatchSubmission{
		Player1Address: "A", Player2Address: "B",
		Player1Score: int64p(10), Player2Score: int64p(3), SessionSeed: "s1",
		Player1DisplayName: strp("Sir Knight"),
	})

	resp, err = app.Test(httptest.NewRequest("GET", "/api/leaderboard?sort=wins&limit=1", nil))
	if err != nil {
		t.Fatalf("leaderboard request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var page struct {
		Leaderboard []PlayerStats `json:"leaderboard"`
	}
	body, _ = io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("bad leaderboard body %s: %v", body, err)
	}
	if len(page.Leaderboard) != 1 || page.Leaderboard[0].KaspaAddress != "A" {
		t.Fatalf("expected single entry for A, got %+v", page.Leaderboard)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/api/player/Z", nil))
	if err != nil {
		t.Fatalf("player request failed: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 for unknown player, got %d", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/api/player/A", nil))
	if err != nil {
		t.Fatalf("player request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 for A, got %d", resp.StatusCode)
	}
	var wrapped struct {
		Player PlayerStats `json:"player"`
	}
	body, _ = io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &wrapped); err != nil {
		t.Fatalf("bad player body %s: %v", body, err)
	}
	if wrapped.Player.TotalKills != 10 || wrapped.Player.KDRatio == nil {
		t.Fatalf("unexpected player stats: %+v", wrapped.Player)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/api/player/by-name/sir-knight", nil))
	if err != nil {
		t.Fatalf("by-name request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 for by-name lookup, got %d", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/api/player/A/matches", nil))
	if err != nil {
		t.Fatalf("matches request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 for matches, got %d", resp.StatusCode)
	}
	var history struct {
		Matches []models.MatchHistory `json:"matches"`
	}
	body, _ = io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &history); err != nil {
		t.Fatalf("bad matches body %s: %v", body, err)
	}
	if len(history.Matches) != 1 || history.Matches[0].WinnerAddress != "A" {
		t.Fatalf("unexpected match history: %+v", history.Matches)
	}
}
