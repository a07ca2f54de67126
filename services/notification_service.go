package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"savegame-system/models"
	"savegame-system/utils"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SMSSender delivers one text message and returns the provider's message id.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) (string, error)
}

// NotificationService renders templates, records every message in the
// notifications table and hands it to the SMS provider.
type NotificationService struct {
	DB  *gorm.DB
	SMS SMSSender

	// PendingGrace keeps the retry worker off rows that Send may still be delivering.
	PendingGrace time.Duration
	Now          func() time.Time
}

func NewNotificationService(db *gorm.DB, sms SMSSender) *NotificationService {
	return &NotificationService{DB: db, SMS: sms, PendingGrace: 2 * time.Minute, Now: time.Now}
}

// Send never returns an error: failures are logged and recorded on the
// notification row for the retry worker.
func (s *NotificationService) Send(ctx context.Context, userID string, kind models.NotificationKind, params map[string]any) bool {
	var user models.User
	if err := s.DB.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		slog.Warn("notification skipped, user not found", "user_id", userID, "kind", kind, "error", err)
		return false
	}
	if params == nil {
		params = map[string]any{}
	}
	if _, ok := params["first_name"]; !ok {
		params["first_name"] = user.FirstName
	}

	title, message, err := renderNotification(kind, params)
	if err != nil {
		slog.Warn("notification skipped", "user_id", userID, "kind", kind, "error", err)
		return false
	}

	n := models.Notification{
		OrganizationID: user.OrganizationID,
		UserID:         user.ID,
		Kind:           kind,
		Channel:        models.ChannelSMS,
		Title:          title,
		Message:        message,
		PhoneNumber:    user.PhoneNumber,
		Params:         storedParams(params),
		Status:         models.NotificationPending,
	}
	if err := s.DB.WithContext(ctx).Create(&n).Error; err != nil {
		slog.Error("failed to record notification", "user_id", userID, "kind", kind, "error", err)
		return false
	}
	return s.deliver(ctx, &n)
}

func (s *NotificationService) deliver(ctx context.Context, n *models.Notification) bool {
	updates := map[string]any{"attempts": gorm.Expr("attempts + 1")}

	var providerID string
	var err error
	if s.SMS == nil {
		err = fmt.Errorf("%w: no SMS provider configured", models.ErrExternalService)
	} else {
		providerID, err = s.SMS.SendSMS(ctx, n.PhoneNumber, n.Message)
	}

	ok := err == nil
	if ok {
		now := time.Now().UTC()
		updates["status"] = models.NotificationSent
		updates["provider_id"] = providerID
		updates["sent_at"] = now
		updates["provider_response"] = ""
	} else {
		updates["status"] = models.NotificationFailed
		updates["provider_response"] = err.Error()
		slog.Warn("📵 notification delivery failed", "notification_id", n.ID, "kind", n.Kind, "error", err)
	}

	if uerr := s.DB.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", n.ID).Updates(updates).Error; uerr != nil {
		slog.Error("failed to update notification status", "notification_id", n.ID, "error", uerr)
	}
	return ok
}

// RetryFailed re-attempts notifications created in the last 24 hours that
// have fewer than maxAttempts attempts: failed ones, and pending ones older
// than PendingGrace (Send was interrupted before recording an outcome).
func (s *NotificationService) RetryFailed(ctx context.Context, maxAttempts, limit int) (int, error) {
	now := s.Now().UTC()
	var pending []models.Notification
	err := s.DB.WithContext(ctx).
		Where("attempts < ? AND created_at > ?", maxAttempts, now.Add(-24*time.Hour)).
		Where("status = ? OR (status = ? AND created_at < ?)",
			models.NotificationFailed, models.NotificationPending, now.Add(-s.PendingGrace)).
		Order("created_at ASC").
		Limit(limit).
		Find(&pending).Error
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range pending {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if s.deliver(ctx, &pending[i]) {
			sent++
		}
	}
	return sent, nil
}

// MarkDelivered applies a provider delivery report.
func (s *NotificationService) MarkDelivered(ctx context.Context, providerID, providerStatus string) error {
	if providerID == "" {
		return fmt.Errorf("%w: provider id is required", models.ErrInvalidArgument)
	}
	updates := map[string]any{"provider_response": providerStatus}
	switch providerStatus {
	case "Success":
		updates["status"] = models.NotificationDelivered
		updates["delivered_at"] = time.Now().UTC()
	case "Failed", "Rejected":
		updates["status"] = models.NotificationFailed
	}
	res := s.DB.WithContext(ctx).Model(&models.Notification{}).Where("provider_id = ?", providerID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: notification with provider id %s", models.ErrNotFound, providerID)
	}
	return nil
}

var errUnknownKind = errors.New("unknown notification kind")

// renderNotification produces the title and SMS body for a kind.
func renderNotification(kind models.NotificationKind, p map[string]any) (string, string, error) {
	switch kind {
	case models.NotifyWelcome:
		return "Welcome",
			fmt.Sprintf("Welcome to %s, %s! Start saving today and join a challenge to earn points.",
				stringParam(p, "organization_name", "your savings group"), stringParam(p, "first_name", "member")), nil
	case models.NotifyChallengeJoined:
		return "Challenge joined",
			fmt.Sprintf("You've joined \"%s\"! Save consistently to climb the leaderboard.",
				stringParam(p, "challenge_name", "the challenge")), nil
	case models.NotifyTransactionConfirmed:
		msg := fmt.Sprintf("Transaction confirmed! You saved %s. Your total savings: %s.",
			utils.FormatKES(decimalParam(p, "amount")), utils.FormatKES(decimalParam(p, "total_saved")))
		if pts := intParam(p, "points"); pts > 0 {
			msg += fmt.Sprintf(" +%s points.", utils.FormatCount(pts))
		}
		return "Transaction confirmed", msg + " Keep it up!", nil
	case models.NotifyChallengeCompleted:
		return "Challenge completed",
			fmt.Sprintf("🎉 \"%s\" has ended. Thank you for saving with us! Check the final leaderboard.",
				stringParam(p, "challenge_name", "Your challenge")), nil
	case models.NotifyAchievementUnlocked:
		name := stringParam(p, "achievement_name", "New achievement")
		msg := fmt.Sprintf("🏆 Achievement Unlocked: %s!", name)
		if d := stringParam(p, "description", ""); d != "" {
			msg += " " + d
		}
		return "Achievement unlocked", msg, nil
	case models.NotifyRankChanged:
		return "Rank changed",
			fmt.Sprintf("📈 You moved up to rank #%d in \"%s\"! Keep saving to stay ahead.",
				intParam(p, "new_rank"), stringParam(p, "challenge_name", "your challenge")), nil
	default:
		return "", "", fmt.Errorf("%w: %q", errUnknownKind, kind)
	}
}

// storedParams makes params JSON-friendly for the params column.
func storedParams(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		if d, ok := v.(decimal.Decimal); ok {
			out[k] = d.String()
			continue
		}
		out[k] = v
	}
	return out
}

func stringParam(p map[string]any, key, fallback string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func decimalParam(p map[string]any, key string) decimal.Decimal {
	switch v := p[key].(type) {
	case decimal.Decimal:
		return v
	case string:
		d, err := decimal.NewFromString(v)
		if err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(v)
	case int64:
		return decimal.NewFromInt(v)
	case int:
		return decimal.NewFromInt(int64(v))
	}
	return decimal.Zero
}

func intParam(p map[string]any, key string) int64 {
	switch v := p[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}
