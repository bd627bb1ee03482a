package commands

import (
	"context"
	"strings"
	"time"

	"fund-arbitrage-bot/internal/types"
	"fund-arbitrage-bot/lib/helpers"
	"fund-arbitrage-bot/lib/translation"

	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	defaultHistoryDays = 30
	defaultListLimit   = 10
	maxListLimit       = 30
	chartCacheDuration = 5 * time.Minute
)

// FundReader is the part of the store the commands query
type FundReader interface {
	LatestPerInstrument(ctx context.Context, filter types.FundFilter) ([]types.FundRecord, error)
	History(ctx context.Context, code string, days int) ([]types.FundRecord, error)
	Abnormal(ctx context.Context, threshold decimal.Decimal) ([]types.FundRecord, error)
}

// Reply is the answer to one command: a MarkdownV2 text or a chart with a caption
type Reply struct {
	Text    string
	Photo   []byte
	Caption string
}

// Handler answers read-only fund queries from chat
type Handler struct {
	funds       FundReader
	threshold   decimal.Decimal
	location    *time.Location
	font        *truetype.Font
	historyDays int
	cache       *chartCache
}

type Option func(*Handler)

// WithChartFont sets the face used for chart labels
func WithChartFont(font *truetype.Font) Option {
	return func(h *Handler) {
		h.font = font
	}
}

func WithLocation(loc *time.Location) Option {
	return func(h *Handler) {
		if loc != nil {
			h.location = loc
		}
	}
}

// WithClock replaces time.Now for the chart cache
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.cache.now = now
	}
}

// NewHandler answers queries against funds; threshold is the default of /a
func NewHandler(funds FundReader, threshold decimal.Decimal, opts ...Option) *Handler {
	h := &Handler{
		funds:       funds,
		threshold:   threshold.Abs(),
		location:    time.UTC,
		historyDays: defaultHistoryDays,
		cache:       newChartCache(time.Now),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ParseCommand splits a chat message into a command and its argument.
// "/f@bot 501096" and "$501096" both yield a command; other text does not.
func ParseCommand(text string) (command, argument string, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", false
	}

	if text[0] == '$' {
		return "c", strings.TrimSpace(text[1:]), true
	}
	if text[0] != '/' {
		return "", "", false
	}

	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// Handle answers one command. Lookup failures are turned into a user facing
// text; the returned error is only for logging and metrics.
func (h *Handler) Handle(ctx context.Context, command, argument string) (Reply, error) {
	log.Debugf("received command: %s", command)

	var (
		reply Reply
		err   error
	)

	switch command {
	case "f", "fund":
		reply.Text, err = h.CommandFund(ctx, argument)
	case "a", "abnormal":
		reply.Text, err = h.CommandAbnormal(ctx, argument)
	case "top":
		reply.Text, err = h.CommandRanking(ctx, argument, true)
	case "bottom":
		reply.Text, err = h.CommandRanking(ctx, argument, false)
	case "c", "chart":
		reply.Photo, reply.Caption, err = h.CommandChart(ctx, argument)
		if reply.Photo == nil {
			reply.Text, reply.Caption = reply.Caption, ""
		}
	default:
		return Reply{Text: helpMessage()}, nil
	}

	if err != nil {
		log.Error(err)
		return Reply{Text: errorMessage(err)}, err
	}
	return reply, nil
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCode):
		return helpers.EscapeMarkdownV2(translation.Translate("Please give a fund code, e.g. /f 501096"))
	case errors.Is(err, ErrFundNotFound):
		return helpers.EscapeMarkdownV2(translation.Translate("Fund not found"))
	case errors.Is(err, ErrInvalidArgument):
		return helpMessage()
	}
	return helpers.EscapeMarkdownV2(translation.Translate("The fund data is unavailable right now, please try again later"))
}

func helpMessage() string {
	lines := []string{
		"*" + helpers.EscapeMarkdownV2(translation.Translate("Fund arbitrage bot")) + "*",
		"",
		helpers.EscapeMarkdownV2("/f <code> - " + translation.Translate("latest premium/discount of a fund")),
		helpers.EscapeMarkdownV2("/c <code> - " + translation.Translate("premium/discount history chart")),
		helpers.EscapeMarkdownV2("/a [threshold] - " + translation.Translate("funds outside the alert range")),
		helpers.EscapeMarkdownV2("/top [n] - " + translation.Translate("highest premiums")),
		helpers.EscapeMarkdownV2("/bottom [n] - " + translation.Translate("deepest discounts")),
		helpers.EscapeMarkdownV2("$<code> - " + translation.Translate("same as /c")),
	}
	return strings.Join(lines, "\n")
}
