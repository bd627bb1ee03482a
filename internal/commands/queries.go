package commands

import (
	"context"
	"regexp"
	"strings"

	"fund-arbitrage-bot/internal/types"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var fundCodePattern = regexp.MustCompile(`^[0-9A-Za-z]{1,20}$`)

// ErrFundNotFound is returned when no stored record matches a code
var ErrFundNotFound = errors.New("fund not found")

var (
	// ErrInvalidCode is returned for arguments that cannot be a fund code
	ErrInvalidCode = errors.New("invalid fund code")
	// ErrInvalidArgument is returned for a malformed count or threshold
	ErrInvalidArgument = errors.New("invalid argument")
)

// normalizeCode trims the argument down to a fund code, accepting
// exchange prefixed forms such as sh510300 or 510300.SH.
func normalizeCode(argument string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(argument))
	code = strings.TrimPrefix(strings.TrimPrefix(code, "SH"), "SZ")
	code = strings.TrimSuffix(strings.TrimSuffix(code, ".SH"), ".SZ")
	if !fundCodePattern.MatchString(code) {
		return "", errors.Wrapf(ErrInvalidCode, "%q", argument)
	}
	return code, nil
}

// latestFund returns the newest stored record of the fund named by argument
func (h *Handler) latestFund(ctx context.Context, argument string) (types.FundRecord, error) {
	code, err := normalizeCode(argument)
	if err != nil {
		return types.FundRecord{}, err
	}

	funds, err := h.funds.LatestPerInstrument(ctx, types.FundFilter{Code: code, Limit: 1})
	if err != nil {
		return types.FundRecord{}, errors.Wrapf(err, "unable to look up fund %s", code)
	}
	if len(funds) == 0 {
		return types.FundRecord{}, errors.Wrapf(ErrFundNotFound, "code %s", code)
	}

	log.Debugf("Best match for query '%s' is: %s", argument, funds[0].Code)
	return funds[0], nil
}

// historyOf returns the stored observations of code within the chart window
func (h *Handler) historyOf(ctx context.Context, code string) ([]types.FundRecord, error) {
	history, err := h.funds.History(ctx, code, h.historyDays)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load history of %s", code)
	}
	return history, nil
}
