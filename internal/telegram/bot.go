package telegram

import (
	"context"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Bot telegram delivery client. Sends are paced by a shared limiter.
type Bot struct {
	Bot     Sender
	Config  BotConfig
	poller  Poller
	limiter *rate.Limiter
}

// NewBot creates new telegram bot
func NewBot(c BotConfig) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(c.Token)
	if err != nil {
		return nil, errors.Wrap(err, "could not create telegram bot")
	}

	bot.Debug = c.Debug
	log.Debugf("authorized on telegram account %s", bot.Self.UserName)

	return NewBotWithSender(bot, c), nil
}

// NewBotWithSender wraps an existing sender, used by tests
func NewBotWithSender(s Sender, c BotConfig) *Bot {
	perSecond := c.MessagesPerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	b := &Bot{
		Bot:     s,
		Config:  c,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
	if p, ok := s.(Poller); ok {
		b.poller = p
	}
	return b
}

// GetUpdatesChannel starts long polling for incoming updates
func (b *Bot) GetUpdatesChannel() (tgbotapi.UpdatesChannel, error) {
	if b.poller == nil {
		return nil, errors.New("telegram client does not support polling")
	}
	updatesConfig := tgbotapi.NewUpdate(0)
	if b.Config.UpdatesTimeout > 0 {
		updatesConfig.Timeout = b.Config.UpdatesTimeout
	}
	return b.poller.GetUpdatesChan(updatesConfig), nil
}

// StopUpdates ends long polling and closes the updates channel
func (b *Bot) StopUpdates() {
	if b.poller != nil {
		b.poller.StopReceivingUpdates()
	}
}

// SendMessage sends a telegram message
func (b *Bot) SendMessage(ctx context.Context, m Message) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "message pacing interrupted")
	}

	msg := tgbotapi.NewMessage(m.ChatID, m.Text)
	msg.ReplyToMessageID = m.MessageID
	msg.DisableWebPagePreview = true
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	_, err := b.Bot.Send(msg)
	return errors.Wrapf(err, "could not send message to chat %d", m.ChatID)
}

// SendLongMessage splits text into chunks under the Telegram limit and sends
// them in order. It stops at the first failed chunk.
func (b *Bot) SendLongMessage(ctx context.Context, chatID int64, text string) error {
	chunks := SplitMessage(text, MaxMessageLength)
	for i, chunk := range chunks {
		if err := b.SendMessage(ctx, Message{ChatID: chatID, Text: chunk}); err != nil {
			return errors.Wrapf(err, "chunk %d of %d", i+1, len(chunks))
		}
	}
	return nil
}

// SendPhoto uploads a PNG image
func (b *Bot) SendPhoto(ctx context.Context, p Photo) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "message pacing interrupted")
	}

	name := p.Name
	if name == "" {
		name = "chart.png"
	}
	photo := tgbotapi.NewPhoto(p.ChatID, tgbotapi.FileBytes{
		Name:  name,
		Bytes: p.Bytes,
	})
	photo.Caption = p.Caption
	photo.ReplyToMessageID = p.MessageID
	photo.ParseMode = tgbotapi.ModeMarkdownV2
	_, err := b.Bot.Send(photo)
	return errors.Wrapf(err, "could not send photo to chat %d", p.ChatID)
}

// SplitMessage cuts text into pieces of at most limit runes, preferring line
// boundaries. An escaping backslash is never separated from its character.
func SplitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			chunks = append(chunks, strings.TrimRight(current.String(), "\n"))
			current.Reset()
			currentLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if currentLen+n > limit {
			flush()
		}
		for n > limit {
			head, tail := cutRunes(line, limit)
			chunks = append(chunks, head)
			line = tail
			n = utf8.RuneCountInString(line)
		}
		current.WriteString(line)
		currentLen += n
	}
	flush()

	return chunks
}

func cutRunes(s string, n int) (string, string) {
	runes := []rune(s)
	cut := n
	if runes[cut-1] == '\\' && cut > 1 {
		cut--
	}
	return string(runes[:cut]), string(runes[cut:])
}
