package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ParticipantStatus string

const (
	ParticipantActive    ParticipantStatus = "active"
	ParticipantCompleted ParticipantStatus = "completed"
	ParticipantFailed    ParticipantStatus = "failed"
	ParticipantWithdrawn ParticipantStatus = "withdrawn"
)

// ParticipantProgress is stored inline on the participant row (progress_* columns).
type ParticipantProgress struct {
	CurrentAmount       decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"current_amount"`
	CurrentStreak       int             `gorm:"not null;default:0" json:"current_streak"`
	WeeksCompleted      int             `gorm:"not null;default:0" json:"weeks_completed"`
	TransactionsCount   int64           `gorm:"not null;default:0" json:"transactions_count"`
	LastTransactionDate *time.Time      `json:"last_transaction_date,omitempty"`
}

// ChallengeParticipant links a user to a challenge (at most once per pair).
type ChallengeParticipant struct {
	ID          string            `gorm:"primaryKey;type:uuid" json:"id"`
	ChallengeID string            `gorm:"type:uuid;not null;uniqueIndex:idx_participant_challenge_user,priority:1" json:"challenge_id"`
	UserID      string            `gorm:"type:uuid;not null;index;uniqueIndex:idx_participant_challenge_user,priority:2" json:"user_id"`
	Status      ParticipantStatus `gorm:"type:varchar(16);not null;default:'active'" json:"status"`

	Progress         ParticipantProgress `gorm:"embedded;embeddedPrefix:progress_" json:"progress"`
	TotalContributed decimal.Decimal     `gorm:"type:numeric(15,2);not null;default:0" json:"total_contributed"`
	TotalPoints      int64               `gorm:"not null;default:0" json:"total_points"`
	Rank             *int                `json:"rank,omitempty"`

	JoinedAt    time.Time  `gorm:"autoCreateTime" json:"joined_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	WithdrawnAt *time.Time `json:"withdrawn_at,omitempty"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *ChallengeParticipant) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
