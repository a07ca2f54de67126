package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TransactionStatus string

const (
	TransactionPending  TransactionStatus = "pending"
	TransactionVerified TransactionStatus = "verified"
	TransactionFailed   TransactionStatus = "failed"
	TransactionRefunded TransactionStatus = "refunded"
)

type TransactionSource string

const (
	SourceMpesa      TransactionSource = "mpesa"
	SourceManual     TransactionSource = "manual"
	SourceBulkUpload TransactionSource = "bulk_upload"
)

// Transaction is a single savings deposit.
//
// ProcessedAt marks that gamification side effects were applied. It is set in
// the same database transaction as those effects, so a verified row with a nil
// ProcessedAt has had no effects applied and is safe to (re)process.
type Transaction struct {
	ID             string  `gorm:"primaryKey;type:uuid" json:"id"`
	OrganizationID string  `gorm:"<-:create;type:uuid;index;not null" json:"organization_id"`
	UserID         string  `gorm:"type:uuid;index;not null" json:"user_id"`
	ChallengeID    *string `gorm:"type:uuid;index" json:"challenge_id,omitempty"`

	Amount             decimal.Decimal   `gorm:"type:numeric(15,2);not null" json:"amount"`
	Currency           string            `gorm:"type:varchar(3);not null;default:'KES'" json:"currency"`
	MpesaReceiptNumber *string           `gorm:"type:varchar(50);uniqueIndex" json:"mpesa_receipt_number,omitempty"`
	PhoneNumber        string            `gorm:"type:varchar(20)" json:"phone_number,omitempty"`
	Status             TransactionStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	Source             TransactionSource `gorm:"type:varchar(16);not null;default:'mpesa'" json:"source"`

	VerifiedBy    *string    `gorm:"type:uuid" json:"verified_by,omitempty"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	PointsAwarded *int64     `json:"points_awarded,omitempty"`
	ProcessedAt   *time.Time `gorm:"index" json:"processed_at,omitempty"`

	Metadata        datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"` // raw provider callback
	Notes           string         `gorm:"type:text" json:"notes,omitempty"`
	TransactionDate time.Time      `gorm:"not null;index" json:"transaction_date"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
