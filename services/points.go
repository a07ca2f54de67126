package services

import (
	"fmt"

	"savegame-system/models"

	"github.com/shopspring/decimal"
)

// Reward defaults applied when a challenge is created without explicit rates.
var (
	DefaultPointsPerKes     = decimal.NewFromInt(1)
	DefaultStreakMultiplier = decimal.RequireFromString("1.5")
)

const (
	DefaultCompletionBonus int64 = 1000

	// StreakBonusDays is the participant streak length at which the multiplier kicks in.
	StreakBonusDays = 7
)

// CalculatePoints converts a deposit into challenge points:
//
//	base  = floor(amount * pointsPerKes)
//	total = floor(base * streakMultiplier)  when currentStreak >= 7
//	total = base                            otherwise
func CalculatePoints(amount, pointsPerKes, streakMultiplier decimal.Decimal, currentStreak int) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("%w: amount must be positive, got %s", models.ErrInvalidArgument, amount)
	}
	if pointsPerKes.IsNegative() {
		return 0, fmt.Errorf("%w: points per KES must not be negative, got %s", models.ErrInvalidArgument, pointsPerKes)
	}
	if streakMultiplier.IsNegative() {
		return 0, fmt.Errorf("%w: streak multiplier must not be negative, got %s", models.ErrInvalidArgument, streakMultiplier)
	}

	base := amount.Mul(pointsPerKes).Floor()
	if currentStreak < StreakBonusDays {
		return base.IntPart(), nil
	}
	return base.Mul(streakMultiplier).Floor().IntPart(), nil
}
