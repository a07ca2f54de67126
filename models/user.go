package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type UserRole string

const (
	RoleSuperAdmin UserRole = "super_admin"
	RoleOrgAdmin   UserRole = "org_admin"
	RoleMember     UserRole = "member"
)

// User is an organization member. Savings stats are denormalized here and
// only ever move through the transaction pipeline.
type User struct {
	ID             string   `gorm:"primaryKey;type:uuid" json:"id"`
	OrganizationID string   `gorm:"<-:create;type:uuid;index;not null" json:"organization_id"`
	PhoneNumber    string   `gorm:"type:varchar(20);index;not null" json:"phone_number"` // E.164, e.g. +254712345678
	FirstName      string   `json:"first_name"`
	LastName       string   `json:"last_name"`
	Role           UserRole `gorm:"type:varchar(16);not null;default:'member'" json:"role"`

	// Savings stats
	TotalSaved          decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"total_saved"`
	TotalPoints         int64           `gorm:"not null;default:0" json:"total_points"`
	CurrentStreak       int             `gorm:"not null;default:0" json:"current_streak"`
	LongestStreak       int             `gorm:"not null;default:0" json:"longest_streak"`
	ChallengesCompleted int64           `gorm:"not null;default:0" json:"challenges_completed"`
	LastActiveAt        *time.Time      `json:"last_active_at,omitempty"`

	Timestamps
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
