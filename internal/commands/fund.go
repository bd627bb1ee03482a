package commands

import (
	"context"
	"fmt"
	"strings"

	"fund-arbitrage-bot/internal/alert"
	"fund-arbitrage-bot/internal/types"
	"fund-arbitrage-bot/lib/helpers"
	"fund-arbitrage-bot/lib/translation"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// CommandFund describes the newest observation of one fund
func (h *Handler) CommandFund(ctx context.Context, argument string) (string, error) {
	log.Debugf("processing command /f with argument :%s", argument)

	fund, err := h.latestFund(ctx, argument)
	if err != nil {
		return "", errors.Wrap(err, "command /f")
	}
	return h.fundDetails(fund), nil
}

func (h *Handler) fundDetails(r types.FundRecord) string {
	esc := helpers.EscapeMarkdownV2
	lines := []string{
		fmt.Sprintf("*%s* \\(%s\\) %s", esc(r.Name), esc(r.Code), esc(r.Category.String())),
		"",
		"▫️" + esc(translation.Translate("Premium/discount: %s", "")) + "*" + esc(alert.RateLabel(r)) + "*",
		"▫️" + esc(translation.Translate("Market price: ¥%s", helpers.FormatPrice(r.MarketPrice, false))),
		"▫️" + esc(translation.Translate("Valuation: ¥%s", helpers.FormatPrice(r.Valuation, false))),
		"▫️" + esc(translation.Translate("Change: %s", helpers.FormatPercent(r.PriceChangePct, true))),
	}
	if r.TradeAmount.IsPositive() {
		lines = append(lines, "▫️"+esc(translation.Translate("Turnover: ¥%s", helpers.FormatAmount(r.TradeAmount))))
	}
	if r.TotalShares.IsPositive() {
		lines = append(lines, "▫️"+esc(translation.Translate("Shares: %s", helpers.FormatShares(r.TotalShares))))
	}
	if r.Note != "" {
		lines = append(lines, "▫️"+esc(helpers.Truncate(r.Note, 120)))
	}
	lines = append(lines, "", "_"+esc(translation.Translate("Data updated: %s", helpers.FormatDate(r.SourceUpdatedAt, h.location)))+"_")
	return strings.Join(lines, "\n")
}
