package alert

import (
	"fmt"
	"strings"
	"time"

	"fund-arbitrage-bot/internal/types"
	"fund-arbitrage-bot/lib/helpers"
	"fund-arbitrage-bot/lib/translation"
)

// FormatTitle is the subject line of an alert batch
func FormatTitle(events []types.AlertEvent) string {
	if len(events) == 1 {
		if events[0].Type == types.AlertPositive {
			return translation.Translate("Fund premium alert")
		}
		return translation.Translate("Fund discount alert")
	}
	return translation.Translate("Fund premium/discount alert (%d funds)", len(events))
}

// FormatBody renders the plain text alert message
func FormatBody(events []types.AlertEvent, at time.Time, loc *time.Location) string {
	var sb strings.Builder

	sb.WriteString(translation.Translate("%d funds outside the alert range:", len(events)))
	sb.WriteString("\n\n")

	for i, e := range events {
		r := e.Record
		sb.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, r.Name, r.Code))
		sb.WriteString("   " + translation.Translate("Premium/discount: %s", RateLabel(r)) + "\n")
		sb.WriteString("   " + translation.Translate("Market price: ¥%s", helpers.FormatPrice(r.MarketPrice, false)) + "\n")
		sb.WriteString("   " + translation.Translate("Valuation: ¥%s", helpers.FormatPrice(r.Valuation, false)) + "\n")
		sb.WriteString("   " + translation.Translate("Change: %s", helpers.FormatPercent(r.PriceChangePct, true)) + "\n")
		sb.WriteString("   " + translation.Translate("Threshold: %s", helpers.FormatPercent(e.Threshold, true)) + "\n\n")
	}

	sb.WriteString(translation.Translate("Data updated: %s", helpers.FormatDate(at, loc)))
	return sb.String()
}

// RateLabel words the discount rate as a premium or a discount
func RateLabel(r types.FundRecord) string {
	if r.DiscountRate.IsPositive() {
		return translation.Translate("premium %s", helpers.FormatPercent(r.DiscountRate, false))
	}
	return translation.Translate("discount %s", helpers.FormatPercent(r.DiscountRate.Abs(), false))
}

// FormatSystemTitle is the subject line of an operational notice
func FormatSystemTitle(status string) string {
	return translation.Translate("System %s alert", status)
}
