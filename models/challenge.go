package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ChallengeStatus string

const (
	ChallengeDraft     ChallengeStatus = "draft"
	ChallengeActive    ChallengeStatus = "active"
	ChallengeCompleted ChallengeStatus = "completed"
	ChallengeCancelled ChallengeStatus = "cancelled"
)

type ChallengeType string

const (
	ChallengeFixedAmount        ChallengeType = "fixed_amount"
	ChallengePercentageIncrease ChallengeType = "percentage_increase"
	ChallengeStreak             ChallengeType = "streak"
	ChallengeGroup              ChallengeType = "group"
)

// ChallengeTarget is the goal a challenge sets for its participants.
// Which fields apply depends on the challenge type.
type ChallengeTarget struct {
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
	Days       *int             `json:"days,omitempty"`
	Frequency  string           `json:"frequency,omitempty"` // daily, weekly, monthly
}

// Challenge is a time-boxed savings competition inside one organization.
// StartDate and EndDate are calendar dates stored at midnight UTC.
type Challenge struct {
	ID             string          `gorm:"primaryKey;type:uuid" json:"id"`
	OrganizationID string          `gorm:"<-:create;type:uuid;index;not null" json:"organization_id"`
	CreatedBy      *string         `gorm:"type:uuid" json:"created_by,omitempty"`
	Name           string          `gorm:"not null" json:"name"`
	Description    string          `gorm:"type:text" json:"description"`
	Type           ChallengeType   `gorm:"type:varchar(32);not null;default:'fixed_amount'" json:"type"`
	Status         ChallengeStatus `gorm:"type:varchar(16);not null;default:'draft';index" json:"status"`

	Target    datatypes.JSONType[ChallengeTarget] `gorm:"type:jsonb" json:"target"`
	StartDate time.Time                           `gorm:"type:date;not null" json:"start_date"`
	EndDate   time.Time                           `gorm:"type:date;not null;index" json:"end_date"`

	// Rewards
	PointsPerKes     decimal.Decimal `gorm:"type:numeric(5,2);not null;default:1" json:"points_per_kes"`
	StreakMultiplier decimal.Decimal `gorm:"type:numeric(3,2);not null;default:1.5" json:"streak_multiplier"`
	CompletionBonus  int64           `gorm:"not null;default:1000" json:"completion_bonus"`

	// Aggregates
	ParticipantsCount int64           `gorm:"not null;default:0" json:"participants_count"`
	TotalSaved        decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"total_saved"`

	PublishedAt *time.Time `json:"published_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Timestamps
}

func (c *Challenge) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// LeaderboardEntry is a materialized rank snapshot, rebuilt wholesale on every recalculation.
type LeaderboardEntry struct {
	ID           string          `gorm:"primaryKey;type:uuid" json:"id"`
	ChallengeID  string          `gorm:"type:uuid;not null;uniqueIndex:idx_leaderboard_challenge_user,priority:1" json:"challenge_id"`
	UserID       string          `gorm:"type:uuid;not null;uniqueIndex:idx_leaderboard_challenge_user,priority:2" json:"user_id"`
	Rank         int             `gorm:"not null" json:"rank"`
	PreviousRank *int            `json:"previous_rank,omitempty"`
	TotalSaved   decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"total_saved"`
	TotalPoints  int64           `gorm:"not null;default:0" json:"total_points"`
	CalculatedAt time.Time       `gorm:"not null" json:"calculated_at"`
}

func (e *LeaderboardEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
