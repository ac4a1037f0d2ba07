package models

import "time"

// MatchHistory records a single completed 1v1 match. Rows are append-only:
// written once inside the submission transaction, never updated or deleted.
// Both player rows must exist before this row is inserted (FK constraints).
type MatchHistory struct {
	ID      string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	MatchID string `gorm:"uniqueIndex;not null" json:"match_id"` // session_seed + "-" + unix millis

	Player1Address string `gorm:"index;not null" json:"player1_address"`
	Player2Address string `gorm:"index;not null" json:"player2_address"`
	Player1Score   int64  `json:"player1_score"`
	Player2Score   int64  `json:"player2_score"`
	WinnerAddress  string `gorm:"index;not null" json:"winner_address"`
	SessionSeed    string `json:"session_seed"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`

	Player1 *Player `gorm:"foreignKey:Player1Address;references:KaspaAddress" json:"-"`
	Player2 *Player `gorm:"foreignKey:Player2Address;references:KaspaAddress" json:"-"`
}

func (MatchHistory) TableName() string { return "match_history" }
