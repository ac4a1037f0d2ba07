package models

import "time"

// Player holds the cumulative stat row for one kaspa address.
// Created on the player's first submitted match, merged additively on every
// match after that, never deleted.
type Player struct {
	KaspaAddress string  `gorm:"primaryKey;column:kaspa_address" json:"kaspa_address"`
	DisplayName  *string `json:"display_name"`
	NameSlug     *string `gorm:"index" json:"name_slug,omitempty"` // slugified display name, for vanity lookups

	// Counters only ever grow. wins + losses <= games_played.
	TotalKills  int64 `gorm:"not null;default:0" json:"total_kills"`
	TotalDeaths int64 `gorm:"not null;default:0" json:"total_deaths"`
	GamesPlayed int64 `gorm:"not null;default:0" json:"games_played"`
	Wins        int64 `gorm:"not null;default:0" json:"wins"`
	Losses      int64 `gorm:"not null;default:0" json:"losses"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
