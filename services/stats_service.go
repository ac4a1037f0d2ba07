package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"dk-leaderboard-api/metrics"
	"dk-leaderboard-api/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidPayload marks a submission that failed structural validation.
// Storage is never touched when this is returned.
var ErrInvalidPayload = errors.New("invalid payload")

type StatsService struct {
	DB    *gorm.DB
	Cache *LeaderboardCache // nil when Redis is not configured
}

func NewStatsService(db *gorm.DB, cache *LeaderboardCache) *StatsService {
	return &StatsService{DB: db, Cache: cache}
}

// MatchSubmission is the wire payload for POST /api/stats.
// Score fields are pointers so a missing field is distinguishable from 0.
type MatchSubmission struct {
	Player1Address     string  `json:"player1_address"`
	Player2Address     string  `json:"player2_address"`
	Player1Score       *int64  `json:"player1_score"`
	Player2Score       *int64  `json:"player2_score"`
	SessionSeed        string  `json:"session_seed"`
	Player1DisplayName *string `json:"player1_display_name"`
	Player2DisplayName *string `json:"player2_display_name"`
}

// MatchOutcome is a validated submission plus the derived facts the
// aggregator commits: winner and match id.
type MatchOutcome struct {
	MatchID            string
	SessionSeed        string
	Player1Address     string
	Player2Address     string
	Player1Score       int64
	Player2Score       int64
	WinnerAddress      string
	Player1DisplayName *string
	Player2DisplayName *string
}

// DeriveOutcome validates a submission and computes winner and match id.
// Pure transform, no side effects.
//
// Ties go to player1. The match id is session_seed + "-" + unix millis and is
// only as unique as timestamp granularity makes it; an empty seed is replaced
// with a fresh UUID so ids stay non-empty.
func DeriveOutcome(sub *MatchSubmission, now time.Time) (*MatchOutcome, error) {
	if sub.Player1Address == "" || sub.Player2Address == "" {
		return nil, ErrInvalidPayload
	}
	if sub.Player1Score == nil || sub.Player2Score == nil {
		return nil, ErrInvalidPayload
	}
	if *sub.Player1Score < 0 || *sub.Player2Score < 0 {
		return nil, ErrInvalidPayload
	}

	seed := sub.SessionSeed
	if seed == "" {
		seed = uuid.NewString()
	}

	winner := sub.Player1Address
	if *sub.Player2Score > *sub.Player1Score {
		winner = sub.Player2Address
	}

	return &MatchOutcome{
		MatchID:            fmt.Sprintf("%s-%d", seed, now.UnixMilli()),
		SessionSeed:        seed,
		Player1Address:     sub.Player1Address,
		Player2Address:     sub.Player2Address,
		Player1Score:       *sub.Player1Score,
		Player2Score:       *sub.Player2Score,
		WinnerAddress:      winner,
		Player1DisplayName: normalizeName(sub.Player1DisplayName),
		Player2DisplayName: normalizeName(sub.Player2DisplayName),
	}, nil
}

func normalizeName(name *string) *string {
	if name == nil || *name == "" {
		return nil
	}
	return name
}

func slugFor(name *string) *string {
	if name == nil {
		return nil
	}
	s := slug.Make(*name)
	if s == "" {
		return nil
	}
	return &s
}

// Commit applies the outcome as one all-or-nothing batch. Both player rows
// are upserted before the match row so the match's foreign references always
// resolve; any failure rolls the whole batch back.
func (s *StatsService) Commit(outcome *MatchOutcome) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := upsertPlayer(tx, outcome.Player1Address, outcome.Player1DisplayName,
			outcome.Player1Score, outcome.Player2Score, outcome.WinnerAddress); err != nil {
			return err
		}
		if err := upsertPlayer(tx, outcome.Player2Address, outcome.Player2DisplayName,
			outcome.Player2Score, outcome.Player1Score, outcome.WinnerAddress); err != nil {
			return err
		}

		record := &models.MatchHistory{
			MatchID:        outcome.MatchID,
			Player1Address: outcome.Player1Address,
			Player2Address: outcome.Player2Address,
			Player1Score:   outcome.Player1Score,
			Player2Score:   outcome.Player2Score,
			WinnerAddress:  outcome.WinnerAddress,
			SessionSeed:    outcome.SessionSeed,
		}
		return tx.Create(record).Error
	})
}

// upsertPlayer inserts a fresh stat row for the address or merges this match
// into the existing cumulative counters in one statement. kills and deaths
// are this player's score and the opponent's score for the match at hand,
// so concurrent submissions merge instead of overwriting each other.
func upsertPlayer(tx *gorm.DB, address string, displayName *string, kills, deaths int64, winner string) error {
	var wins, losses int64
	if winner == address {
		wins = 1
	} else {
		losses = 1
	}

	row := models.Player{
		KaspaAddress: address,
		DisplayName:  displayName,
		NameSlug:     slugFor(displayName),
		TotalKills:   kills,
		TotalDeaths:  deaths,
		GamesPlayed:  1,
		Wins:         wins,
		Losses:       losses,
	}

	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "kaspa_address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			// First write wins: an already-set name is never overwritten.
			"display_name": gorm.Expr("COALESCE(players.display_name, excluded.display_name)"),
			"name_slug":    gorm.Expr("COALESCE(players.name_slug, excluded.name_slug)"),
			"total_kills":  gorm.Expr("players.total_kills + excluded.total_kills"),
			"total_deaths": gorm.Expr("players.total_deaths + excluded.total_deaths"),
			"games_played": gorm.Expr("players.games_played + 1"),
			"wins":         gorm.Expr("players.wins + excluded.wins"),
			"losses":       gorm.Expr("players.losses + excluded.losses"),
			"updated_at":   time.Now(),
		}),
	}).Create(&row).Error
}

// SubmitStats handles POST /api/stats.
func (s *StatsService) SubmitStats(c *fiber.Ctx) error {
	var sub MatchSubmission
	if err := c.BodyParser(&sub); err != nil {
		metrics.SubmissionsInvalid.Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid payload"})
	}

	outcome, err := DeriveOutcome(&sub, time.Now())
	if err != nil {
		metrics.SubmissionsInvalid.Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid payload"})
	}

	if err := s.Commit(outcome); err != nil {
		metrics.SubmissionsFailed.Inc()
		log.Printf("❌ Failed to commit match %s: %v", outcome.MatchID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	metrics.SubmissionsAccepted.Inc()
	if s.Cache != nil {
		s.Cache.Invalidate(c.UserContext())
	}

	return c.JSON(fiber.Map{"success": true, "match_id": outcome.MatchID})
}
