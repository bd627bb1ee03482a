package commands

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"fund-arbitrage-bot/internal/alert"
	"fund-arbitrage-bot/internal/types"
	"fund-arbitrage-bot/lib/helpers"
	"fund-arbitrage-bot/lib/translation"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// CommandAbnormal lists the funds whose latest rate reaches the threshold,
// the configured sweep threshold unless the argument names one.
func (h *Handler) CommandAbnormal(ctx context.Context, argument string) (string, error) {
	log.Debugf("processing command /a with argument :%s", argument)

	threshold := h.threshold
	if argument = strings.TrimSuffix(strings.TrimSpace(argument), "%"); argument != "" {
		t, err := decimal.NewFromString(argument)
		if err != nil {
			return "", errors.Wrapf(ErrInvalidArgument, "command /a threshold %q", argument)
		}
		threshold = t.Abs()
	}

	funds, err := h.funds.Abnormal(ctx, threshold)
	if err != nil {
		return "", errors.Wrap(err, "command /a")
	}

	title := translation.Translate("Funds at or beyond ±%s", helpers.FormatPercent(threshold, false))
	if len(funds) == 0 {
		return "*" + helpers.EscapeMarkdownV2(title) + "*\n\n" +
			helpers.EscapeMarkdownV2(translation.Translate("No fund is outside the range")), nil
	}
	return h.fundList(title, funds, maxListLimit), nil
}

// CommandRanking lists the highest premiums, or the deepest discounts when
// premium is false. The argument is an optional count.
func (h *Handler) CommandRanking(ctx context.Context, argument string, premium bool) (string, error) {
	log.Debugf("processing ranking command with argument :%s", argument)

	limit := defaultListLimit
	if argument = strings.TrimSpace(argument); argument != "" {
		n, err := strconv.Atoi(argument)
		if err != nil || n <= 0 {
			return "", errors.Wrapf(ErrInvalidArgument, "ranking count %q", argument)
		}
		limit = min(n, maxListLimit)
	}

	funds, err := h.funds.LatestPerInstrument(ctx, types.FundFilter{})
	if err != nil {
		return "", errors.Wrap(err, "ranking")
	}

	sort.SliceStable(funds, func(i, j int) bool {
		if premium {
			return funds[i].DiscountRate.GreaterThan(funds[j].DiscountRate)
		}
		return funds[i].DiscountRate.LessThan(funds[j].DiscountRate)
	})

	title := translation.Translate("Deepest discounts")
	if premium {
		title = translation.Translate("Highest premiums")
	}
	return h.fundList(title, funds, limit), nil
}

func (h *Handler) fundList(title string, funds []types.FundRecord, limit int) string {
	esc := helpers.EscapeMarkdownV2

	var sb strings.Builder
	sb.WriteString("*" + esc(title) + "*\n\n")
	for i, r := range funds {
		if i == limit {
			sb.WriteString(esc(translation.Translate("and %d more", len(funds)-limit)) + "\n")
			break
		}
		sb.WriteString(fmt.Sprintf("%s `%s` %s *%s*\n",
			esc(fmt.Sprintf("%d.", i+1)), r.Code, esc(helpers.Truncate(r.Name, 16)), esc(alert.RateLabel(r))))
	}
	return strings.TrimRight(sb.String(), "\n")
}
