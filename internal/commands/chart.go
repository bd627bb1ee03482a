package commands

import (
	"context"
	"fmt"

	"fund-arbitrage-bot/internal/alert"
	"fund-arbitrage-bot/internal/chart"
	"fund-arbitrage-bot/lib/helpers"
	"fund-arbitrage-bot/lib/translation"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// CommandChart renders the premium/discount history of a fund. When there is
// not enough history to draw, it returns no chart and the fund details as caption.
func (h *Handler) CommandChart(ctx context.Context, argument string) ([]byte, string, error) {
	log.Debugf("processing command /c with argument :%s", argument)

	fund, err := h.latestFund(ctx, argument)
	if err != nil {
		return nil, "", errors.Wrap(err, "command /c")
	}

	if cachedItem, found := h.cache.get(fund.Code); found {
		log.Debugf("returning cached result for %s", fund.Code)
		return cachedItem.ChartData, cachedItem.Caption, nil
	}

	history, err := h.historyOf(ctx, fund.Code)
	if err != nil {
		return nil, "", errors.Wrap(err, "command /c")
	}

	caption := fmt.Sprintf("*%s* \\(%s\\)\n%s *%s*\n_%s_",
		helpers.EscapeMarkdownV2(fund.Name),
		helpers.EscapeMarkdownV2(fund.Code),
		helpers.EscapeMarkdownV2(translation.Translate("Latest:")),
		helpers.EscapeMarkdownV2(alert.RateLabel(fund)),
		helpers.EscapeMarkdownV2(translation.Translate("Last %d days", h.historyDays)),
	)

	chartData, err := chart.RenderHistory(history, chart.Options{Font: h.font}, h.location)
	if errors.Is(err, chart.ErrNotEnoughPoints) {
		return nil, h.fundDetails(fund), nil
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "command /c")
	}

	h.cache.set(fund.Code, chartData, caption, chartCacheDuration)
	return chartData, caption, nil
}
