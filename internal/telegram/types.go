package telegram

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

// MaxMessageLength is the Telegram limit for one text message
const MaxMessageLength = 4096

// BotConfig configuration of the bot
type BotConfig struct {
	Token string
	Debug bool
	// MessagesPerSecond paces consecutive sends; zero means one per second
	MessagesPerSecond float64
	UpdatesTimeout    int
}

// Sender is the part of the Bot API used to push messages
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Poller is the long polling part of the Bot API
type Poller interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Message a telegram message struct
type Message struct {
	ChatID    int64
	MessageID int
	Text      string
}

// Photo a PNG image with an optional MarkdownV2 caption
type Photo struct {
	ChatID    int64
	MessageID int
	Name      string
	Bytes     []byte
	Caption   string
}
