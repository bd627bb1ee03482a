package notifier

import (
	"io"
	"time"

	"fund-arbitrage-bot/config"
	"fund-arbitrage-bot/internal/alert"
	"fund-arbitrage-bot/internal/chart"
	"fund-arbitrage-bot/internal/telegram"

	"github.com/golang/freetype/truetype"
	log "github.com/sirupsen/logrus"
)

// Deps lets callers and tests replace the network facing constructors
type Deps struct {
	Stdout            io.Writer
	Location          *time.Location
	MailSender        MailSender
	NewBot            func(telegram.BotConfig) (*telegram.Bot, error)
	Debug             bool
	MessagesPerSecond float64
}

// Build returns the channels whose configuration is present: the console
// always, email when an SMTP host and user are set, telegram when a bot token
// and a chat id are set. A channel that fails to construct is logged and left out.
func Build(cfg config.Notify, deps Deps) []alert.Channel {
	channels := []alert.Channel{NewConsole(deps.Stdout)}

	if cfg.SMTP.Host != "" && cfg.SMTP.User != "" {
		opts := []EmailOption{WithChartAttachment()}
		if deps.Location != nil {
			opts = append(opts, WithEmailLocation(deps.Location))
		}
		if deps.MailSender != nil {
			opts = append(opts, WithMailSender(deps.MailSender))
		}
		email, err := NewEmail(EmailConfig{
			Host: cfg.SMTP.Host,
			Port: cfg.SMTP.Port,
			User: cfg.SMTP.User,
			Pass: cfg.SMTP.Pass,
			To:   cfg.SMTP.To,
		}, opts...)
		if err != nil {
			log.WithError(err).Error("email channel disabled")
		} else {
			channels = append(channels, email)
			log.Info("📧 email channel enabled")
		}
	}

	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		newBot := deps.NewBot
		if newBot == nil {
			newBot = telegram.NewBot
		}
		bot, err := newBot(telegram.BotConfig{
			Token:             cfg.Telegram.Token,
			Debug:             deps.Debug,
			MessagesPerSecond: deps.MessagesPerSecond,
		})
		if err != nil {
			log.WithError(err).Error("telegram channel disabled")
		} else {
			channels = append(channels, NewTelegram(bot, cfg.Telegram.ChatID, cfg.Telegram.Chart, chartFont(cfg.Telegram.ChartFont)))
			log.Info("💬 telegram channel enabled")
		}
	}

	return channels
}

func chartFont(path string) *truetype.Font {
	if path == "" {
		return nil
	}
	font, err := chart.LoadFont(path)
	if err != nil {
		log.WithError(err).Warn("falling back to the default chart font")
		return nil
	}
	return font
}
