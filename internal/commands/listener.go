package commands

import (
	"bytes"
	"context"
	"runtime"

	"fund-arbitrage-bot/internal/telegram"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Observer is told about every handled command and whether it succeeded
type Observer func(command string, err error)

// Responder is the part of the bot used to answer
type Responder interface {
	SendMessage(ctx context.Context, m telegram.Message) error
	SendPhoto(ctx context.Context, p telegram.Photo) error
}

// Listen answers commands from updates until ctx is cancelled or the
// channel is closed.
func Listen(ctx context.Context, updates tgbotapi.UpdatesChannel, bot Responder, h *Handler, observe Observer) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				log.Debug("Received non-message or non-command")
				continue
			}
			command, argument, isCommand := ParseCommand(update.Message.Text)
			if !isCommand {
				continue
			}
			err := handleCommand(ctx, bot, h, update.Message, command, argument)
			if observe != nil {
				observe(command, err)
			}
		}
	}
}

func handleCommand(ctx context.Context, bot Responder, h *Handler, msg *tgbotapi.Message, command, argument string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stackBuf := make([]byte, 1024)
			stackSize := runtime.Stack(stackBuf, false)
			stackTrace := bytes.TrimRight(stackBuf[:stackSize], "\x00")
			log.Errorf("Recovered from panic: %v\nStack trace: %s", r, stackTrace)
			err = errors.Errorf("command /%s panicked: %v", command, r)
		}
	}()

	reply, handleErr := h.Handle(ctx, command, argument)

	if reply.Photo != nil {
		err = bot.SendPhoto(ctx, telegram.Photo{
			ChatID:    msg.Chat.ID,
			MessageID: msg.MessageID,
			Bytes:     reply.Photo,
			Caption:   reply.Caption,
		})
	} else {
		err = bot.SendMessage(ctx, telegram.Message{
			ChatID:    msg.Chat.ID,
			MessageID: msg.MessageID,
			Text:      reply.Text,
		})
	}
	if err != nil {
		log.Errorf("Failed to send message: %v", err)
		return err
	}
	return handleErr
}
