package models

import (
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OrganizationType string

const (
	OrgTypeChama OrganizationType = "chama"
	OrgTypeSacco OrganizationType = "sacco"
	OrgTypeMFI   OrganizationType = "mfi"
	OrgTypeBank  OrganizationType = "bank"
	OrgTypeNGO   OrganizationType = "ngo"
)

// Organization is the tenant boundary: every user, challenge and transaction belongs to one.
type Organization struct {
	ID       string           `gorm:"primaryKey;type:uuid" json:"id"`
	Name     string           `gorm:"not null" json:"name"`
	Slug     string           `gorm:"uniqueIndex;not null" json:"slug"`
	Type     OrganizationType `gorm:"type:varchar(16);not null;default:'chama'" json:"type"`
	Timezone string           `gorm:"type:varchar(64);not null;default:'Africa/Nairobi'" json:"timezone"`
	Currency string           `gorm:"type:varchar(3);not null;default:'KES'" json:"currency"`

	TotalMembers    int64           `gorm:"not null;default:0" json:"total_members"`
	TotalChallenges int64           `gorm:"not null;default:0" json:"total_challenges"`
	TotalSavings    decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"total_savings"`

	Timestamps
}

func (o *Organization) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Slug == "" {
		o.Slug = slug.Make(o.Name)
	}
	return nil
}

// Location resolves the organization's calendar timezone, falling back to UTC
// when the name is empty or unknown to the tz database.
func (o *Organization) Location() *time.Location {
	if o == nil || o.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
