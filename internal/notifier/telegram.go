package notifier

import (
	"context"
	"fmt"

	"fund-arbitrage-bot/internal/chart"
	"fund-arbitrage-bot/internal/telegram"
	"fund-arbitrage-bot/internal/types"
	"fund-arbitrage-bot/lib/helpers"

	"github.com/golang/freetype/truetype"
	log "github.com/sirupsen/logrus"
)

// Telegram posts alerts to a single chat
type Telegram struct {
	bot    *telegram.Bot
	chatID int64
	chart  bool
	font   *truetype.Font
}

func NewTelegram(bot *telegram.Bot, chatID int64, withChart bool, font *truetype.Font) *Telegram {
	return &Telegram{bot: bot, chatID: chatID, chart: withChart, font: font}
}

func (t *Telegram) Name() string {
	return "telegram"
}

// Send posts the escaped title and body, split into chunks when needed, and
// follows up with a chart of the records. A chart failure does not fail the send.
func (t *Telegram) Send(ctx context.Context, title, body string, records []types.FundRecord) error {
	text := fmt.Sprintf("*%s*\n\n%s", helpers.EscapeMarkdownV2(title), helpers.EscapeMarkdownV2(body))
	if err := t.bot.SendLongMessage(ctx, t.chatID, text); err != nil {
		return err
	}

	if !t.chart || len(records) == 0 {
		return nil
	}

	png, err := chart.RenderDiscounts(records, chart.Options{Font: t.font})
	if err != nil {
		log.WithError(err).Warn("could not render discount chart")
		return nil
	}
	err = t.bot.SendPhoto(ctx, telegram.Photo{
		ChatID:  t.chatID,
		Name:    "discounts.png",
		Bytes:   png,
		Caption: helpers.EscapeMarkdownV2(title),
	})
	if err != nil {
		log.WithError(err).Warn("could not send discount chart")
	}
	return nil
}
