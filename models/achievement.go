package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AchievementRarity string

const (
	RarityCommon    AchievementRarity = "common"
	RarityRare      AchievementRarity = "rare"
	RarityEpic      AchievementRarity = "epic"
	RarityLegendary AchievementRarity = "legendary"
)

// Achievement is an unlockable badge. A nil OrganizationID makes it global.
type Achievement struct {
	ID             string            `gorm:"primaryKey;type:uuid" json:"id"`
	OrganizationID *string           `gorm:"type:uuid;index" json:"organization_id,omitempty"`
	Name           string            `gorm:"not null" json:"name"`
	Description    string            `json:"description"`
	Icon           string            `gorm:"type:text" json:"icon"`
	Rarity         AchievementRarity `gorm:"type:varchar(16);not null;default:'common'" json:"rarity"`
	Criteria       datatypes.JSON    `gorm:"type:jsonb;not null" json:"criteria"` // e.g. {"type":"total_saved","amount":"1000"}
	SortOrder      int               `gorm:"not null;default:0" json:"sort_order"`
	TimesAwarded   int64             `gorm:"not null;default:0" json:"times_awarded"`

	Timestamps
}

func (a *Achievement) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// BeforeSave rejects criteria documents the evaluator would not understand.
func (a *Achievement) BeforeSave(tx *gorm.DB) error {
	_, err := ParseCriteria(a.Criteria)
	return err
}

// ParsedCriteria decodes the stored criteria document.
func (a *Achievement) ParsedCriteria() (Criteria, error) {
	return ParseCriteria(a.Criteria)
}

// UserAchievement is an awarded instance; a user holds each achievement at most once.
type UserAchievement struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string    `gorm:"type:uuid;not null;uniqueIndex:idx_user_achievement,priority:1" json:"user_id"`
	AchievementID string    `gorm:"type:uuid;not null;uniqueIndex:idx_user_achievement,priority:2" json:"achievement_id"`
	ChallengeID   *string   `gorm:"type:uuid" json:"challenge_id,omitempty"`
	EarnedAt      time.Time `gorm:"autoCreateTime" json:"earned_at"`

	Achievement Achievement `gorm:"foreignKey:AchievementID" json:"achievement,omitempty"`
}

func (ua *UserAchievement) BeforeCreate(tx *gorm.DB) error {
	if ua.ID == "" {
		ua.ID = uuid.NewString()
	}
	return nil
}
