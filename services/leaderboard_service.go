package services

import (
	"encoding/json"
	"errors"
	"strconv"

	"dk-leaderboard-api/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

const (
	defaultLeaderboardLimit = 50
	maxLeaderboardLimit     = 100
)

type LeaderboardService struct {
	DB    *gorm.DB
	Cache *LeaderboardCache // nil when Redis is not configured
}

func NewLeaderboardService(db *gorm.DB, cache *LeaderboardCache) *LeaderboardService {
	return &LeaderboardService{DB: db, Cache: cache}
}

// PlayerStats is the read model served by every query endpoint. KDRatio is
// nil when the player has never died; the division happens in SQL against
// NULLIF so a zero-death row can never fail the query.
type PlayerStats struct {
	KaspaAddress string   `json:"kaspa_address"`
	DisplayName  *string  `json:"display_name"`
	TotalKills   int64    `json:"total_kills"`
	TotalDeaths  int64    `json:"total_deaths"`
	Wins         int64    `json:"wins"`
	Losses       int64    `json:"losses"`
	GamesPlayed  int64    `json:"games_played"`
	KDRatio      *float64 `gorm:"column:kd_ratio" json:"kd_ratio"`
}

const playerStatsColumns = `kaspa_address, display_name, total_kills, total_deaths, wins, losses, games_played,
	CAST(total_kills AS DOUBLE PRECISION) / NULLIF(total_deaths, 0) AS kd_ratio`

// clampLimit parses a raw limit query value. Absent or unparseable values
// fall back to the default; anything above the cap is clamped to it.
func clampLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultLeaderboardLimit
	}
	if n > maxLeaderboardLimit {
		return maxLeaderboardLimit
	}
	return n
}

// normalizeSort maps anything that isn't "wins" to the default "kd" sort.
func normalizeSort(raw string) string {
	if raw == "wins" {
		return "wins"
	}
	return "kd"
}

// fetchLeaderboard reads one ranked page. The kd sort only considers players
// who have died at least once (their ratio is defined); the wins sort takes
// everyone who has played, with undefined ratios breaking ties last.
// Postgres sorts NULL first under DESC, hence the explicit NULLS LAST.
func (s *LeaderboardService) fetchLeaderboard(sortKey string, limit int) ([]PlayerStats, error) {
	q := s.DB.Model(&models.Player{}).Select(playerStatsColumns).Limit(limit)
	if sortKey == "wins" {
		q = q.Where("games_played > 0").Order("wins DESC, kd_ratio DESC NULLS LAST")
	} else {
		q = q.Where("total_deaths > 0").Order("kd_ratio DESC, wins DESC")
	}

	stats := make([]PlayerStats, 0, limit)
	if err := q.Scan(&stats).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// Snapshot returns the top-N k/d leaderboard for the snapshot exporter.
func (s *LeaderboardService) Snapshot(limit int) ([]PlayerStats, error) {
	if limit <= 0 || limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}
	return s.fetchLeaderboard("kd", limit)
}

// GetLeaderboard handles GET /api/leaderboard?sort={kd|wins}&limit=N.
func (s *LeaderboardService) GetLeaderboard(c *fiber.Ctx) error {
	sortKey := normalizeSort(c.Query("sort", "kd"))
	limit := clampLimit(c.Query("limit"))

	if s.Cache != nil {
		if payload, ok := s.Cache.Get(c.UserContext(), sortKey, limit); ok {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(payload)
		}
	}

	stats, err := s.fetchLeaderboard(sortKey, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	if s.Cache != nil {
		if payload, err := json.Marshal(fiber.Map{"leaderboard": stats}); err == nil {
			s.Cache.Put(c.UserContext(), sortKey, limit, payload)
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(payload)
		}
	}

	return c.JSON(fiber.Map{"leaderboard": stats})
}

// GetPlayer handles GET /api/player/:address.
func (s *LeaderboardService) GetPlayer(c *fiber.Ctx) error {
	address := c.Params("address")

	var stats PlayerStats
	err := s.DB.Model(&models.Player{}).
		Select(playerStatsColumns).
		Where("kaspa_address = ?", address).
		Take(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Expected outcome for an address that never played, not a fault.
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Player not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"player": stats})
}

// GetPlayerByName handles GET /api/player/by-name/:slug. Display names are
// not unique, so a slug collision resolves to the most active player.
func (s *LeaderboardService) GetPlayerByName(c *fiber.Ctx) error {
	nameSlug := slug.Make(c.Params("slug"))

	var stats PlayerStats
	err := s.DB.Model(&models.Player{}).
		Select(playerStatsColumns).
		Where("name_slug = ?", nameSlug).
		Order("games_played DESC").
		Take(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Player not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"player": stats})
}

// GetPlayerMatches handles GET /api/player/:address/matches?limit=N,
// most recent first.
func (s *LeaderboardService) GetPlayerMatches(c *fiber.Ctx) error {
	address := c.Params("address")
	limit := clampLimit(c.Query("limit"))

	var exists int64
	if err := s.DB.Model(&models.Player{}).
		Where("kaspa_address = ?", address).
		Count(&exists).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if exists == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Player not found"})
	}

	matches := make([]models.MatchHistory, 0, limit)
	if err := s.DB.
		Where("player1_address = ? OR player2_address = ?", address, address).
		Order("created_at DESC").
		Limit(limit).
		Find(&matches).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"matches": matches})
}
