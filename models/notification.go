package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type NotificationKind string

const (
	NotifyWelcome              NotificationKind = "welcome"
	NotifyChallengeJoined      NotificationKind = "challenge_joined"
	NotifyTransactionConfirmed NotificationKind = "transaction_confirmed"
	NotifyChallengeCompleted   NotificationKind = "challenge_completed"
	NotifyAchievementUnlocked  NotificationKind = "achievement_unlocked"
	NotifyRankChanged          NotificationKind = "rank_changed"
)

type NotificationChannel string

const (
	ChannelSMS      NotificationChannel = "sms"
	ChannelWhatsApp NotificationChannel = "whatsapp"
	ChannelPush     NotificationChannel = "push"
	ChannelEmail    NotificationChannel = "email"
)

type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationSent      NotificationStatus = "sent"
	NotificationFailed    NotificationStatus = "failed"
	NotificationDelivered NotificationStatus = "delivered"
)

// Notification is the durable outbox record for a user-facing message.
type Notification struct {
	ID               string              `gorm:"primaryKey;type:uuid" json:"id"`
	OrganizationID   string              `gorm:"type:uuid;not null;index" json:"organization_id"`
	UserID           string              `gorm:"type:uuid;not null;index" json:"user_id"`
	Kind             NotificationKind    `gorm:"type:varchar(32);not null" json:"kind"`
	Channel          NotificationChannel `gorm:"type:varchar(16);not null;default:'sms'" json:"channel"`
	Title            string              `json:"title"`
	Message          string              `gorm:"type:text;not null" json:"message"`
	PhoneNumber      string              `gorm:"type:varchar(20)" json:"phone_number"`
	Params           datatypes.JSONMap   `gorm:"type:jsonb" json:"params,omitempty"`
	Status           NotificationStatus  `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	Attempts         int                 `gorm:"not null;default:0" json:"attempts"`
	ProviderID       string              `gorm:"type:varchar(128);index" json:"provider_id,omitempty"`
	ProviderResponse string              `gorm:"type:text" json:"provider_response,omitempty"`
	SentAt           *time.Time          `json:"sent_at,omitempty"`
	DeliveredAt      *time.Time          `json:"delivered_at,omitempty"`
	CreatedAt        time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
