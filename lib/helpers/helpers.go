package helpers

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func EscapeMarkdownV2(text string) string {
	charactersToEscape := []string{"\\", ".", "-", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "=", "|", "{", "}", "!"}

	for _, char := range charactersToEscape {
		text = strings.ReplaceAll(text, char, "\\"+char)
	}
	return text
}

// FormatPrice renders a fund price with thousand separators. Fund prices
// are quoted to three decimals below 10.
func FormatPrice(price decimal.Decimal, escapeMarkdown bool) string {
	decimals := 3
	if price.Abs().GreaterThanOrEqual(decimal.NewFromInt(10)) {
		decimals = 2
	}

	p := message.NewPrinter(language.English)
	formatted := p.Sprintf("%.*f", decimals, price.InexactFloat64())

	if escapeMarkdown {
		return EscapeMarkdownV2(formatted)
	}
	return formatted
}

// FormatPercent renders a rate with two decimals, prefixed with + when signed
// is set and the value is positive.
func FormatPercent(rate decimal.Decimal, signed bool) string {
	s := rate.StringFixed(2) + "%"
	if signed && rate.IsPositive() {
		s = "+" + s
	}
	return s
}

// FormatAmount renders a traded amount, e.g. 1234567.891 as 1,234,567.89
func FormatAmount(amount decimal.Decimal) string {
	return humanize.CommafWithDigits(amount.InexactFloat64(), 2)
}

// FormatShares renders a share count, large counts in SI units (12.3 M)
func FormatShares(shares decimal.Decimal) string {
	f := shares.InexactFloat64()
	if shares.Abs().LessThan(decimal.NewFromInt(1_000_000)) {
		return humanize.Comma(shares.IntPart())
	}
	return humanize.SIWithDigits(f, 1, "")
}

func FormatDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02 15:04")
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 1 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-1]) + "…"
}
