// models/payment_request.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentRequestStatus string

const (
	PaymentRequestPending   PaymentRequestStatus = "pending"
	PaymentRequestCompleted PaymentRequestStatus = "completed"
	PaymentRequestFailed    PaymentRequestStatus = "failed"
)

// PaymentRequest records an STK push we initiated, so the asynchronous
// callback can be tied back to the member and challenge it was meant for.
// Table name: payment_requests
type PaymentRequest struct {
	ID                string               `gorm:"primaryKey;type:uuid" json:"id"`
	OrganizationID    string               `gorm:"type:uuid;not null;index" json:"organization_id"`
	UserID            string               `gorm:"type:uuid;not null;index" json:"user_id"`
	ChallengeID       *string              `gorm:"type:uuid" json:"challenge_id,omitempty"`
	PhoneNumber       string               `gorm:"type:varchar(20);not null" json:"phone_number"`
	Amount            decimal.Decimal      `gorm:"type:numeric(15,2);not null" json:"amount"`
	CheckoutRequestID string               `gorm:"type:varchar(64);not null;uniqueIndex" json:"checkout_request_id"` // primary callback lookup key
	MerchantRequestID string               `gorm:"type:varchar(64)" json:"merchant_request_id"`
	Status            PaymentRequestStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ResultCode        *int                 `json:"result_code,omitempty"`
	ResultDesc        string               `json:"result_desc,omitempty"`
	TransactionID     *string              `gorm:"type:uuid" json:"transaction_id,omitempty"`
	CreatedAt         time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *PaymentRequest) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
