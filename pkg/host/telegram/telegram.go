// Package telegram relays one bridge session to a Telegram chat: records
// become chat messages and chat commands become bridge commands.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"presagebridge/pkg/bridge"
	"presagebridge/pkg/config"
	"presagebridge/pkg/host"
	"presagebridge/pkg/record"
)

const messagePreviewLimit = 240

const helpText = "Commands: /whoami, /receive, /link [device name]"

// Bot is the part of *telego.Bot the relay uses.
type Bot interface {
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, options ...telego.LongPollingOption) (<-chan telego.Update, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error
}

// Session is the host side of an attached bridge session.
type Session interface {
	Send(ctx context.Context, command bridge.Command) error
	Records() <-chan record.Event
}

type Relay struct {
	bot        Bot
	session    Session
	chatID     int64
	allowFrom  map[string]struct{}
	deviceName string
	log        *slog.Logger
}

// NewRelay validates the Telegram configuration and connects the bot.
func NewRelay(cfg config.TelegramConfig, session Session, deviceName string, log *slog.Logger) (*Relay, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram.token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram.chat_id is required")
	}

	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}
	return newRelay(bot, session, cfg, deviceName, log), nil
}

func newRelay(bot Bot, session Session, cfg config.TelegramConfig, deviceName string, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		bot:        bot,
		session:    session,
		chatID:     cfg.ChatID,
		allowFrom:  allowFromSet(cfg.AllowFrom),
		deviceName: deviceName,
		log:        log.With("component", "host.telegram"),
	}
}

// Run long-polls for chat commands and forwards session records until ctx
// ends.
func (r *Relay) Run(ctx context.Context) error {
	updates, err := r.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	r.log.Info("Telegram relay started", "chat_id", r.chatID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.session.Records():
			r.forward(ctx, ev)
		case update, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}
			r.handleUpdate(ctx, update)
		}
	}
}

func (r *Relay) forward(ctx context.Context, ev record.Event) {
	text := host.Describe(ev)
	r.log.Debug("Forwarding record", "event", ev.Name(), "content", previewText(text))
	r.say(ctx, text)
}

func (r *Relay) handleUpdate(ctx context.Context, update telego.Update) {
	message := update.Message
	if message == nil || message.Chat.ID != r.chatID {
		return
	}
	text := strings.TrimSpace(message.Text)
	if text == "" {
		return
	}
	if message.From == nil {
		r.log.Debug("Ignoring message without sender")
		return
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !r.senderAllowed(senderID) {
		r.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return
	}

	command, ok := r.parseCommand(text)
	if !ok {
		r.say(ctx, helpText)
		return
	}

	r.log.Info("Queueing command", "command", command.Name(), "sender_id", senderID, "update_id", update.UpdateID)
	if err := r.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(r.chatID), telego.ChatActionTyping)); err != nil && ctx.Err() == nil {
		r.log.Debug("Failed to send typing indicator", "error", err)
	}

	// Sending may block on a full queue while the session waits on us to
	// drain records.
	go func() {
		if err := r.session.Send(ctx, command); err != nil && ctx.Err() == nil {
			r.log.Error("Failed to queue command", "command", command.Name(), "error", err)
			r.say(ctx, "command failed: "+err.Error())
		}
	}()
}

// parseCommand maps chat text like "/link@bot My Laptop" to a command.
func (r *Relay) parseCommand(text string) (bridge.Command, bool) {
	name, rest, _ := strings.Cut(text, " ")
	name, _, _ = strings.Cut(name, "@")

	switch strings.ToLower(name) {
	case "/whoami":
		return bridge.Whoami{}, true
	case "/receive":
		return bridge.Receive{}, true
	case "/link":
		deviceName := strings.TrimSpace(rest)
		if deviceName == "" {
			deviceName = r.deviceName
		}
		return bridge.LinkDevice{DeviceName: deviceName}, true
	default:
		return nil, false
	}
}

func (r *Relay) say(ctx context.Context, text string) {
	if _, err := r.bot.SendMessage(ctx, tu.Message(tu.ID(r.chatID), text)); err != nil && ctx.Err() == nil {
		r.log.Error("Failed to send telegram message", "error", err)
	}
}

// senderAllowed accepts everyone when no allow list is configured.
func (r *Relay) senderAllowed(senderID string) bool {
	if len(r.allowFrom) == 0 {
		return true
	}

	_, ok := r.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

func allowFromSet(allowFrom []string) map[string]struct{} {
	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			allowed[trimmed] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return nil
	}
	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}
