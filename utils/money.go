package utils

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatKES renders an amount the way members see it in SMS, e.g. "KSh 1,500"
// or "KSh 1,500.50".
func FormatKES(amount decimal.Decimal) string {
	if amount.Equal(amount.Truncate(0)) {
		return printer.Sprintf("KSh %d", amount.IntPart())
	}
	return printer.Sprintf("KSh %.2f", amount.InexactFloat64())
}

// FormatCount renders an integer with thousands separators.
func FormatCount(n int64) string {
	return printer.Sprintf("%d", n)
}
