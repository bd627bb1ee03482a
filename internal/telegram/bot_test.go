package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeSender struct {
	sent   []tgbotapi.Chattable
	failAt int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	if f.failAt > 0 && len(f.sent) == f.failAt {
		return tgbotapi.Message{}, errors.New("telegram unavailable")
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func newFastBot(s Sender) *Bot {
	return NewBotWithSender(s, BotConfig{MessagesPerSecond: 1000})
}

func TestSendMessage(t *testing.T) {
	sender := &fakeSender{}
	bot := newFastBot(sender)

	if err := bot.SendMessage(context.Background(), Message{ChatID: -100, Text: "*hello*"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent %T, want MessageConfig", sender.sent[0])
	}
	if msg.ChatID != -100 || msg.Text != "*hello*" {
		t.Errorf("message = %+v", msg)
	}
	if msg.ParseMode != tgbotapi.ModeMarkdownV2 || !msg.DisableWebPagePreview {
		t.Errorf("ParseMode/preview = %q/%v", msg.ParseMode, msg.DisableWebPagePreview)
	}
}

func TestSendLongMessage_Chunks(t *testing.T) {
	sender := &fakeSender{}
	bot := newFastBot(sender)

	line := strings.Repeat("x", 99) + "\n"
	text := strings.Repeat(line, 100)

	if err := bot.SendLongMessage(context.Background(), 1, text); err != nil {
		t.Fatalf("SendLongMessage: %v", err)
	}
	if len(sender.sent) != 3 {
		t.Fatalf("sent %d chunks, want 3", len(sender.sent))
	}

	var joined strings.Builder
	for _, c := range sender.sent {
		msg := c.(tgbotapi.MessageConfig)
		if utf8.RuneCountInString(msg.Text) > MaxMessageLength {
			t.Errorf("chunk length %d exceeds the limit", utf8.RuneCountInString(msg.Text))
		}
		joined.WriteString(msg.Text + "\n")
	}
	if joined.String() != text {
		t.Error("chunks should reassemble to the original text")
	}
}

func TestSendLongMessage_StopsOnFailure(t *testing.T) {
	sender := &fakeSender{failAt: 1}
	bot := newFastBot(sender)

	err := bot.SendLongMessage(context.Background(), 1, strings.Repeat("y\n", 5000))
	if err == nil || !strings.Contains(err.Error(), "chunk 1 of") {
		t.Errorf("error = %v, want the failing chunk", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent %d chunks, want to stop after the first", len(sender.sent))
	}
}

func TestSendPhoto(t *testing.T) {
	sender := &fakeSender{}
	bot := newFastBot(sender)

	err := bot.SendPhoto(context.Background(), Photo{ChatID: 7, Bytes: []byte("png"), Caption: "chart"})
	if err != nil {
		t.Fatalf("SendPhoto: %v", err)
	}
	photo, ok := sender.sent[0].(tgbotapi.PhotoConfig)
	if !ok {
		t.Fatalf("sent %T, want PhotoConfig", sender.sent[0])
	}
	if photo.Caption != "chart" || photo.ParseMode != tgbotapi.ModeMarkdownV2 {
		t.Errorf("photo = %+v", photo)
	}
}

func TestSendMessage_CancelledWhilePacing(t *testing.T) {
	bot := NewBotWithSender(&fakeSender{}, BotConfig{MessagesPerSecond: 0.001})
	ctx, cancel := context.WithCancel(context.Background())

	// the first send consumes the burst
	if err := bot.SendMessage(ctx, Message{ChatID: 1, Text: "a"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	cancel()
	if err := bot.SendMessage(ctx, Message{ChatID: 1, Text: "b"}); err == nil {
		t.Error("second send should fail once the context is cancelled")
	}
}

func TestSplitMessage(t *testing.T) {
	if got := SplitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Errorf("SplitMessage short = %q", got)
	}

	long := strings.Repeat("字", 25)
	got := SplitMessage(long, 10)
	if len(got) != 3 || utf8.RuneCountInString(got[2]) != 5 {
		t.Errorf("SplitMessage long line = %q", got)
	}

	escaped := strings.Repeat("a", 9) + `\.` + "bbb"
	got = SplitMessage(escaped, 10)
	if strings.HasSuffix(got[0], `\`) {
		t.Errorf("an escape should not be split from its character: %q", got)
	}
}

type fakePoller struct {
	fakeSender
	updates chan tgbotapi.Update
	config  tgbotapi.UpdateConfig
	stopped bool
}

func (f *fakePoller) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	f.config = config
	return f.updates
}

func (f *fakePoller) StopReceivingUpdates() {
	f.stopped = true
}

func TestGetUpdatesChannel(t *testing.T) {
	poller := &fakePoller{updates: make(chan tgbotapi.Update)}
	bot := NewBotWithSender(poller, BotConfig{UpdatesTimeout: 60})

	updates, err := bot.GetUpdatesChannel()
	if err != nil {
		t.Fatalf("GetUpdatesChannel: %v", err)
	}
	if updates != poller.updates {
		t.Error("updates channel was not passed through")
	}
	if poller.config.Timeout != 60 {
		t.Errorf("Timeout = %d, want 60", poller.config.Timeout)
	}

	bot.StopUpdates()
	if !poller.stopped {
		t.Error("StopUpdates did not stop polling")
	}
}

func TestGetUpdatesChannel_SendOnlyClient(t *testing.T) {
	bot := newFastBot(&fakeSender{})
	if _, err := bot.GetUpdatesChannel(); err == nil {
		t.Error("expected an error for a client without polling")
	}
	bot.StopUpdates()
}
