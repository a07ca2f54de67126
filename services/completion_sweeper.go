package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"savegame-system/models"

	"gorm.io/gorm"
)

// CompletionSweeper closes active challenges whose end date has passed.
type CompletionSweeper struct {
	DB           *gorm.DB
	Leaderboard  LeaderboardRecalculator
	Achievements AchievementEvaluator
	Notifier     Notifier
}

func NewCompletionSweeper(db *gorm.DB, leaderboard LeaderboardRecalculator, achievements AchievementEvaluator, notifier Notifier) *CompletionSweeper {
	return &CompletionSweeper{
		DB:           db,
		Leaderboard:  leaderboard,
		Achievements: achievements,
		Notifier:     notifier,
	}
}

type SweepResult struct {
	ChallengesCompleted   int `json:"challenges_completed"`
	ParticipantsCompleted int `json:"participants_completed"`
}

// SweepExpired completes every active challenge whose end date is before
// today in its organization's timezone. Safe to run repeatedly: a challenge
// that is no longer active when its row lock is taken is skipped.
func (s *CompletionSweeper) SweepExpired(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult

	var candidates []models.Challenge
	if err := s.DB.WithContext(ctx).
		Where("status = ? AND end_date < ?", models.ChallengeActive, now.UTC()).
		Find(&candidates).Error; err != nil {
		return result, fmt.Errorf("list expired challenges: %w", err)
	}

	locations := make(map[string]*time.Location)
	for _, ch := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		loc, ok := locations[ch.OrganizationID]
		if !ok {
			var org models.Organization
			if err := s.DB.WithContext(ctx).Select("id", "timezone").Where("id = ?", ch.OrganizationID).First(&org).Error; err != nil {
				slog.Warn("organization not found for challenge, using UTC", "challenge_id", ch.ID, "error", err)
			}
			loc = org.Location()
			locations[ch.OrganizationID] = loc
		}
		if !endDatePassed(ch.EndDate, now, loc) {
			continue
		}

		completedUsers, done, err := s.complete(ctx, ch.ID, now)
		if err != nil {
			slog.Error("failed to complete challenge", "challenge_id", ch.ID, "error", err)
			continue
		}
		if !done {
			continue
		}
		result.ChallengesCompleted++
		result.ParticipantsCompleted += len(completedUsers)
		slog.Info("🏁 challenge completed", "challenge_id", ch.ID, "name", ch.Name, "participants", len(completedUsers))

		s.afterComplete(ctx, ch, completedUsers)
	}
	return result, nil
}

// complete flips the challenge and its active participants in one transaction
// and returns the users whose participation completed.
func (s *CompletionSweeper) complete(ctx context.Context, challengeID string, now time.Time) ([]string, bool, error) {
	var userIDs []string
	done := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ch models.Challenge
		if err := tx.Clauses(lockForUpdate).Where("id = ?", challengeID).First(&ch).Error; err != nil {
			return err
		}
		if ch.Status != models.ChallengeActive {
			return nil
		}

		completedAt := now.UTC()
		if err := tx.Model(&models.Challenge{}).Where("id = ?", ch.ID).Updates(map[string]any{
			"status":       models.ChallengeCompleted,
			"completed_at": completedAt,
		}).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.ChallengeParticipant{}).
			Where("challenge_id = ? AND status = ?", ch.ID, models.ParticipantActive).
			Order("joined_at ASC").
			Pluck("user_id", &userIDs).Error; err != nil {
			return err
		}
		if len(userIDs) > 0 {
			if err := tx.Model(&models.ChallengeParticipant{}).
				Where("challenge_id = ? AND status = ?", ch.ID, models.ParticipantActive).
				Updates(map[string]any{
					"status":       models.ParticipantCompleted,
					"completed_at": completedAt,
				}).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.User{}).Where("id IN ?", userIDs).
				Update("challenges_completed", gorm.Expr("challenges_completed + 1")).Error; err != nil {
				return err
			}
		}
		done = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return userIDs, done, nil
}

func (s *CompletionSweeper) afterComplete(ctx context.Context, ch models.Challenge, userIDs []string) {
	if s.Leaderboard != nil {
		if _, err := s.Leaderboard.Recalculate(ctx, ch.ID); err != nil {
			slog.Warn("final leaderboard recalculation failed", "challenge_id", ch.ID, "error", err)
		}
	}
	challengeID := ch.ID
	for _, userID := range userIDs {
		if s.Achievements != nil {
			if _, err := s.Achievements.Evaluate(ctx, userID, EvalContext{ChallengeID: &challengeID}); err != nil {
				slog.Warn("achievement evaluation failed", "user_id", userID, "challenge_id", ch.ID, "error", err)
			}
		}
		if s.Notifier != nil {
			s.Notifier.Send(ctx, userID, models.NotifyChallengeCompleted, map[string]any{"challenge_name": ch.Name})
		}
	}
}

// endDatePassed reports whether today, in loc, is after the challenge's end date.
func endDatePassed(endDate, now time.Time, loc *time.Location) bool {
	ey, em, ed := endDate.UTC().Date()
	ny, nm, nd := now.In(loc).Date()
	end := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return today.After(end)
}
