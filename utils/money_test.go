package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatKES(t *testing.T) {
	assert.Equal(t, "KSh 1,500", FormatKES(decimal.NewFromInt(1500)))
	assert.Equal(t, "KSh 100", FormatKES(decimal.RequireFromString("100.00")))
	assert.Equal(t, "KSh 250.50", FormatKES(decimal.RequireFromString("250.5")))
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "12,345", FormatCount(12345))
}
