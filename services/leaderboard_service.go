package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"savegame-system/models"

	"gorm.io/gorm"
)

// LeaderboardService materializes challenge rankings.
type LeaderboardService struct {
	DB       *gorm.DB
	Notifier Notifier

	locks keyedMutex
}

func NewLeaderboardService(db *gorm.DB, notifier Notifier) *LeaderboardService {
	return &LeaderboardService{DB: db, Notifier: notifier}
}

type rankChange struct {
	userID  string
	oldRank int
	newRank int
	name    string
}

// Recalculate rebuilds the challenge leaderboard from participant totals.
//
// Ordering is total points desc, then total contributed desc, then join time
// and id asc, which makes ranks a strict permutation of 1..N. Each entry keeps
// the rank it replaced as PreviousRank. Recalculations for one challenge are
// serialized in-process and, across replicas, by the challenge row lock.
func (s *LeaderboardService) Recalculate(ctx context.Context, challengeID string) ([]models.LeaderboardEntry, error) {
	unlock := s.locks.Lock(challengeID)
	defer unlock()

	var entries []models.LeaderboardEntry
	var improved []rankChange

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var challenge models.Challenge
		if err := tx.Clauses(lockForUpdate).Select("id", "name").Where("id = ?", challengeID).First(&challenge).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: challenge %s", models.ErrNotFound, challengeID)
			}
			return err
		}

		var previous []models.LeaderboardEntry
		if err := tx.Where("challenge_id = ?", challengeID).Find(&previous).Error; err != nil {
			return err
		}
		oldRanks := make(map[string]int, len(previous))
		for _, e := range previous {
			oldRanks[e.UserID] = e.Rank
		}

		var participants []models.ChallengeParticipant
		if err := tx.Where("challenge_id = ?", challengeID).
			Order("total_points DESC").
			Order("total_contributed DESC").
			Order("joined_at ASC").
			Order("id ASC").
			Find(&participants).Error; err != nil {
			return err
		}

		if err := tx.Where("challenge_id = ?", challengeID).Delete(&models.LeaderboardEntry{}).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		entries = make([]models.LeaderboardEntry, 0, len(participants))
		for i, part := range participants {
			rank := i + 1
			entry := models.LeaderboardEntry{
				ChallengeID:  challengeID,
				UserID:       part.UserID,
				Rank:         rank,
				TotalSaved:   part.TotalContributed,
				TotalPoints:  part.TotalPoints,
				CalculatedAt: now,
			}
			if old, ok := oldRanks[part.UserID]; ok {
				prev := old
				entry.PreviousRank = &prev
				if rank < old {
					improved = append(improved, rankChange{userID: part.UserID, oldRank: old, newRank: rank, name: challenge.Name})
				}
			}
			entries = append(entries, entry)

			if err := tx.Model(&models.ChallengeParticipant{}).Where("id = ?", part.ID).Update("rank", rank).Error; err != nil {
				return err
			}
		}
		if len(entries) > 0 {
			if err := tx.Create(&entries).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recalculate leaderboard %s: %w", challengeID, err)
	}

	if s.Notifier != nil {
		for _, c := range improved {
			s.Notifier.Send(ctx, c.userID, models.NotifyRankChanged, map[string]any{
				"challenge_name": c.name,
				"old_rank":       c.oldRank,
				"new_rank":       c.newRank,
			})
		}
	}
	slog.Debug("leaderboard recalculated", "challenge_id", challengeID, "entries", len(entries))
	return entries, nil
}

// Entries returns the stored leaderboard for a challenge in rank order.
func (s *LeaderboardService) Entries(ctx context.Context, organizationID, challengeID string, limit int) ([]models.LeaderboardEntry, error) {
	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.Challenge{}).
		Where("id = ? AND organization_id = ?", challengeID, organizationID).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: challenge %s", models.ErrNotFound, challengeID)
	}

	q := s.DB.WithContext(ctx).Where("challenge_id = ?", challengeID).Order("rank ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []models.LeaderboardEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
