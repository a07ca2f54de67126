package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"savegame-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AchievementService struct {
	DB       *gorm.DB
	Notifier Notifier
}

func NewAchievementService(db *gorm.DB, notifier Notifier) *AchievementService {
	return &AchievementService{DB: db, Notifier: notifier}
}

// Evaluate checks every achievement visible to the user (their organization's
// plus global ones) and awards those newly met. It returns the ids awarded by
// this call. An achievement is never awarded twice, even under concurrent
// evaluations, because the award insert is keyed on (user, achievement).
func (s *AchievementService) Evaluate(ctx context.Context, userID string, ec EvalContext) ([]string, error) {
	db := s.DB.WithContext(ctx)

	var user models.User
	if err := db.Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var achievements []models.Achievement
	if err := db.Where("organization_id = ? OR organization_id IS NULL", user.OrganizationID).
		Order("sort_order ASC").
		Order("created_at ASC").
		Find(&achievements).Error; err != nil {
		return nil, err
	}

	var ownedIDs []string
	if err := db.Model(&models.UserAchievement{}).Where("user_id = ?", userID).Pluck("achievement_id", &ownedIDs).Error; err != nil {
		return nil, err
	}
	owned := make(map[string]bool, len(ownedIDs))
	for _, id := range ownedIDs {
		owned[id] = true
	}

	rank := s.rankLookup(ctx, userID, ec.ChallengeID)

	var awarded []string
	for _, a := range achievements {
		if owned[a.ID] {
			continue
		}
		criteria, err := a.ParsedCriteria()
		if err != nil {
			slog.Warn("skipping achievement with unreadable criteria", "achievement_id", a.ID, "error", err)
			continue
		}
		if !meetsCriteria(criteria, &user, ec, rank) {
			continue
		}

		ok, err := s.award(ctx, user.ID, a.ID, ec.ChallengeID)
		if err != nil {
			return awarded, fmt.Errorf("award achievement %s: %w", a.ID, err)
		}
		if !ok {
			continue
		}
		awarded = append(awarded, a.ID)
		slog.Info("🎖️ achievement unlocked", "achievement", a.Name, "user_id", user.ID)

		if s.Notifier != nil {
			s.Notifier.Send(ctx, user.ID, models.NotifyAchievementUnlocked, map[string]any{
				"achievement_name": a.Name,
				"description":      a.Description,
			})
		}
	}
	return awarded, nil
}

// award inserts the user-achievement row and bumps the counter in one transaction.
// It reports false when a concurrent evaluation already awarded it.
func (s *AchievementService) award(ctx context.Context, userID, achievementID string, challengeID *string) (bool, error) {
	created := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ua := models.UserAchievement{
			UserID:        userID,
			AchievementID: achievementID,
			ChallengeID:   challengeID,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "achievement_id"}},
			DoNothing: true,
		}).Omit("Achievement").Create(&ua)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true
		return tx.Model(&models.Achievement{}).Where("id = ?", achievementID).
			UpdateColumn("times_awarded", gorm.Expr("times_awarded + 1")).Error
	})
	return created, err
}

// rankLookup lazily loads the user's current rank in the triggering challenge.
func (s *AchievementService) rankLookup(ctx context.Context, userID string, challengeID *string) func() *int {
	var (
		loaded bool
		rank   *int
	)
	return func() *int {
		if loaded || challengeID == nil {
			return rank
		}
		loaded = true
		var part models.ChallengeParticipant
		err := s.DB.WithContext(ctx).Select("rank").
			Where("challenge_id = ? AND user_id = ?", *challengeID, userID).
			First(&part).Error
		if err == nil {
			rank = part.Rank
		}
		return rank
	}
}

func meetsCriteria(c models.Criteria, user *models.User, ec EvalContext, rank func() *int) bool {
	switch c := c.(type) {
	case models.FirstSaveCriteria:
		return ec.TransactionAmount != nil && ec.TransactionAmount.GreaterThanOrEqual(c.MinAmount)
	case models.StreakCriteria:
		return user.CurrentStreak >= c.Days
	case models.TotalSavedCriteria:
		return user.TotalSaved.GreaterThanOrEqual(c.Amount)
	case models.ChallengesCompletedCriteria:
		return user.ChallengesCompleted >= c.Count
	case models.RankCriteria:
		if ec.ChallengeID == nil {
			return false
		}
		if c.ChallengeID != nil && *c.ChallengeID != *ec.ChallengeID {
			return false
		}
		r := rank()
		return r != nil && *r == c.Position
	default:
		return false
	}
}

// AchievementInput describes a new achievement definition.
type AchievementInput struct {
	OrganizationID *string
	Name           string
	Description    string
	Icon           string
	Rarity         models.AchievementRarity
	Criteria       models.Criteria
	SortOrder      int
}

// CreateAchievement validates and stores an achievement definition.
func (s *AchievementService) CreateAchievement(ctx context.Context, in AchievementInput) (*models.Achievement, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrInvalidArgument)
	}
	if in.Criteria == nil {
		return nil, fmt.Errorf("%w: criteria is required", models.ErrInvalidArgument)
	}
	raw, err := models.EncodeCriteria(in.Criteria)
	if err != nil {
		return nil, err
	}
	rarity := in.Rarity
	if rarity == "" {
		rarity = models.RarityCommon
	}
	a := &models.Achievement{
		OrganizationID: in.OrganizationID,
		Name:           in.Name,
		Description:    in.Description,
		Icon:           in.Icon,
		Rarity:         rarity,
		Criteria:       raw,
		SortOrder:      in.SortOrder,
	}
	if err := s.DB.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

// ListForUser returns the achievements a user has earned, newest first.
func (s *AchievementService) ListForUser(ctx context.Context, userID string) ([]models.UserAchievement, error) {
	var out []models.UserAchievement
	err := s.DB.WithContext(ctx).Preload("Achievement").
		Where("user_id = ?", userID).
		Order("earned_at DESC").
		Find(&out).Error
	return out, err
}
