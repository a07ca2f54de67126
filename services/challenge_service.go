package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"savegame-system/models"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// challengeTransitions lists the admin-driven moves. active -> completed is
// reserved for the completion sweeper.
var challengeTransitions = map[models.ChallengeStatus][]models.ChallengeStatus{
	models.ChallengeDraft:  {models.ChallengeActive, models.ChallengeCancelled},
	models.ChallengeActive: {models.ChallengeCancelled},
}

// CanTransition reports whether an admin may move a challenge from one status to another.
func CanTransition(from, to models.ChallengeStatus) bool {
	for _, s := range challengeTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type ChallengeService struct {
	DB       *gorm.DB
	Notifier Notifier
}

func NewChallengeService(db *gorm.DB, notifier Notifier) *ChallengeService {
	return &ChallengeService{DB: db, Notifier: notifier}
}

// ChallengeInput describes a new draft challenge.
type ChallengeInput struct {
	OrganizationID   string
	CreatedBy        *string
	Name             string
	Description      string
	Type             models.ChallengeType
	Target           models.ChallengeTarget
	StartDate        time.Time
	EndDate          time.Time
	PointsPerKes     *decimal.Decimal
	StreakMultiplier *decimal.Decimal
	CompletionBonus  *int64
}

// CreateChallenge stores a challenge in draft status.
func (s *ChallengeService) CreateChallenge(ctx context.Context, in ChallengeInput) (*models.Challenge, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrInvalidArgument)
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() || in.EndDate.Before(in.StartDate) {
		return nil, fmt.Errorf("%w: end date must not precede start date", models.ErrInvalidArgument)
	}

	ch := &models.Challenge{
		OrganizationID:   in.OrganizationID,
		CreatedBy:        in.CreatedBy,
		Name:             in.Name,
		Description:      in.Description,
		Type:             in.Type,
		Status:           models.ChallengeDraft,
		Target:           datatypes.NewJSONType(in.Target),
		StartDate:        dateOnly(in.StartDate),
		EndDate:          dateOnly(in.EndDate),
		PointsPerKes:     DefaultPointsPerKes,
		StreakMultiplier: DefaultStreakMultiplier,
		CompletionBonus:  DefaultCompletionBonus,
	}
	if ch.Type == "" {
		ch.Type = models.ChallengeFixedAmount
	}
	if in.PointsPerKes != nil {
		ch.PointsPerKes = *in.PointsPerKes
	}
	if in.StreakMultiplier != nil {
		ch.StreakMultiplier = *in.StreakMultiplier
	}
	if in.CompletionBonus != nil {
		ch.CompletionBonus = *in.CompletionBonus
	}
	if ch.PointsPerKes.IsNegative() || ch.StreakMultiplier.IsNegative() {
		return nil, fmt.Errorf("%w: reward rates must not be negative", models.ErrInvalidArgument)
	}

	if err := s.DB.WithContext(ctx).Create(ch).Error; err != nil {
		return nil, err
	}
	return ch, nil
}

// Activate publishes a draft challenge.
func (s *ChallengeService) Activate(ctx context.Context, organizationID, challengeID string) (*models.Challenge, error) {
	return s.transition(ctx, organizationID, challengeID, models.ChallengeActive)
}

// Cancel stops a draft or active challenge.
func (s *ChallengeService) Cancel(ctx context.Context, organizationID, challengeID string) (*models.Challenge, error) {
	return s.transition(ctx, organizationID, challengeID, models.ChallengeCancelled)
}

func (s *ChallengeService) transition(ctx context.Context, organizationID, challengeID string, to models.ChallengeStatus) (*models.Challenge, error) {
	var ch models.Challenge
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(lockForUpdate).
			Where("id = ? AND organization_id = ?", challengeID, organizationID).
			First(&ch).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: challenge %s", models.ErrNotFound, challengeID)
			}
			return err
		}
		if !CanTransition(ch.Status, to) {
			return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, ch.Status, to)
		}

		updates := map[string]any{"status": to}
		if to == models.ChallengeActive {
			now := time.Now().UTC()
			updates["published_at"] = now
			ch.PublishedAt = &now
		}
		if err := tx.Model(&models.Challenge{}).Where("id = ?", ch.ID).Updates(updates).Error; err != nil {
			return err
		}
		if to == models.ChallengeActive {
			// total_challenges counts published challenges
			if err := tx.Model(&models.Organization{}).Where("id = ?", organizationID).
				Update("total_challenges", gorm.Expr("total_challenges + 1")).Error; err != nil {
				return err
			}
		}
		ch.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("challenge status changed", "challenge_id", ch.ID, "status", to)
	return &ch, nil
}

// Join enrolls a member in an active challenge of their organization.
func (s *ChallengeService) Join(ctx context.Context, organizationID, challengeID, userID string) (*models.ChallengeParticipant, error) {
	var part models.ChallengeParticipant
	var challengeName string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ch models.Challenge
		if err := tx.Clauses(lockForUpdate).
			Where("id = ? AND organization_id = ?", challengeID, organizationID).
			First(&ch).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: challenge %s", models.ErrNotFound, challengeID)
			}
			return err
		}
		if ch.Status != models.ChallengeActive {
			return fmt.Errorf("%w: challenge is %s", models.ErrInvalidTransition, ch.Status)
		}
		challengeName = ch.Name

		var count int64
		if err := tx.Model(&models.User{}).Where("id = ? AND organization_id = ?", userID, organizationID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
		}

		part = models.ChallengeParticipant{
			ChallengeID: ch.ID,
			UserID:      userID,
			Status:      models.ParticipantActive,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "challenge_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).Create(&part)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: already joined", models.ErrDuplicateEntry)
		}
		return tx.Model(&models.Challenge{}).Where("id = ?", ch.ID).
			Update("participants_count", gorm.Expr("participants_count + 1")).Error
	})
	if err != nil {
		return nil, err
	}

	if s.Notifier != nil {
		s.Notifier.Send(ctx, userID, models.NotifyChallengeJoined, map[string]any{"challenge_name": challengeName})
	}
	return &part, nil
}

// Leave withdraws an active participant.
func (s *ChallengeService) Leave(ctx context.Context, organizationID, challengeID, userID string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ch models.Challenge
		if err := tx.Clauses(lockForUpdate).Select("id").
			Where("id = ? AND organization_id = ?", challengeID, organizationID).
			First(&ch).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: challenge %s", models.ErrNotFound, challengeID)
			}
			return err
		}

		res := tx.Model(&models.ChallengeParticipant{}).
			Where("challenge_id = ? AND user_id = ? AND status = ?", challengeID, userID, models.ParticipantActive).
			Updates(map[string]any{
				"status":       models.ParticipantWithdrawn,
				"withdrawn_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: active participant", models.ErrNotFound)
		}
		return tx.Model(&models.Challenge{}).Where("id = ?", challengeID).
			Update("participants_count", gorm.Expr("participants_count - 1")).Error
	})
}

// Get loads a challenge scoped to an organization.
func (s *ChallengeService) Get(ctx context.Context, organizationID, challengeID string) (*models.Challenge, error) {
	var ch models.Challenge
	if err := s.DB.WithContext(ctx).Where("id = ? AND organization_id = ?", challengeID, organizationID).First(&ch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: challenge %s", models.ErrNotFound, challengeID)
		}
		return nil, err
	}
	return &ch, nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
