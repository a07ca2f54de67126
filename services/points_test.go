package services

import (
	"testing"

	"savegame-system/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculatePoints(t *testing.T) {
	one := decimal.NewFromInt(1)
	oneHalf := decimal.RequireFromString("1.5")

	tests := []struct {
		name       string
		amount     string
		rate       decimal.Decimal
		multiplier decimal.Decimal
		streak     int
		want       int64
	}{
		{"no streak bonus below seven days", "1500", one, oneHalf, 6, 1500},
		{"streak bonus at seven days", "1500", one, oneHalf, 7, 2250},
		{"fractional amount floors", "250.75", one, oneHalf, 0, 250},
		{"bonus floors after multiplying", "101", one, oneHalf, 10, 151},
		{"custom rate", "100", decimal.RequireFromString("2.5"), oneHalf, 0, 250},
		{"zero rate", "100", decimal.Zero, oneHalf, 9, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculatePoints(decimal.RequireFromString(tt.amount), tt.rate, tt.multiplier, tt.streak)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculatePointsRejectsBadInput(t *testing.T) {
	one := decimal.NewFromInt(1)

	_, err := CalculatePoints(decimal.Zero, one, one, 0)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = CalculatePoints(decimal.NewFromInt(-5), one, one, 0)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = CalculatePoints(one, decimal.NewFromInt(-1), one, 0)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = CalculatePoints(one, one, decimal.NewFromInt(-1), 0)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}
