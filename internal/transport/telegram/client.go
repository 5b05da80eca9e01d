// ABOUTME: Telegram transport for coven-recall
// ABOUTME: Sends, deletes and long-polls chat messages through telego

package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/2389/coven-recall/internal/bridge"
)

// PlatformName identifies Telegram conversations.
const PlatformName = "telegram"

// pollTimeout is the long polling timeout in seconds.
const pollTimeout = 30

// Handler receives every inbound chat message.
type Handler func(ctx context.Context, msg bridge.Message)

// Client is a Telegram transport. It implements bridge.Transport and
// recall.Platform.
type Client struct {
	bot    *telego.Bot
	botID  int64
	logger *slog.Logger

	handlers sync.WaitGroup
}

// New creates a Telegram client for the bot token.
func New(token string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	return &Client{
		bot:    bot,
		logger: logger.With("component", "telegram"),
	}, nil
}

// Name implements bridge.Transport.
func (c *Client) Name() string { return PlatformName }

// SupportsDeletion reports that bots can delete their own messages.
func (c *Client) SupportsDeletion() bool { return true }

// Send posts text to a chat.
func (c *Client) Send(ctx context.Context, chatID, text string) (bridge.SendReceipt, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return bridge.SendReceipt{}, err
	}
	msg, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(id), text))
	if err != nil {
		return bridge.SendReceipt{}, fmt.Errorf("sending to %s: %w", chatID, err)
	}
	if msg == nil || msg.MessageID == 0 {
		return bridge.SendReceipt{}, nil
	}
	return bridge.SendReceipt{MessageID: strconv.Itoa(msg.MessageID)}, nil
}

// Delete removes a message the bot sent.
func (c *Client) Delete(ctx context.Context, chatID, messageID string) error {
	chat, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msgID, err := parseMessageID(messageID)
	if err != nil {
		return err
	}
	if err := c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(chat),
		MessageID: msgID,
	}); err != nil {
		return fmt.Errorf("deleting %s: %w", messageID, err)
	}
	return nil
}

// SetTyping shows the typing action. Telegram clears it on its own, so
// turning it off is a no-op.
func (c *Client) SetTyping(ctx context.Context, chatID string, typing bool) {
	if !typing {
		return
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return
	}
	if err := c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(id), telego.ChatActionTyping)); err != nil {
		c.logger.Debug("failed to set typing indicator", "chat", chatID, "error", err)
	}
}

// Run long-polls for updates and hands every message to handle on its own
// goroutine. It blocks until ctx is cancelled and the handlers have returned.
func (c *Client) Run(ctx context.Context, handle Handler) error {
	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	c.botID = me.ID

	updates, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: pollTimeout,
	})
	if err != nil {
		return fmt.Errorf("starting long polling: %w", err)
	}
	c.logger.Info("telegram bot connected", "username", me.Username)

	defer c.handlers.Wait()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("shutting down telegram transport")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg, ok := toMessage(update.Message, c.botID)
			if !ok {
				continue
			}
			c.handlers.Add(1)
			go func() {
				defer c.handlers.Done()
				handle(ctx, msg)
			}()
		}
	}
}

// toMessage translates a Telegram message. Messages without text are skipped.
func toMessage(m *telego.Message, botID int64) (bridge.Message, bool) {
	if m == nil || m.Text == "" {
		return bridge.Message{}, false
	}
	msg := bridge.Message{
		Platform:  PlatformName,
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		MessageID: strconv.Itoa(m.MessageID),
		Text:      m.Text,
	}
	if m.From != nil {
		msg.Sender = strconv.FormatInt(m.From.ID, 10)
		if m.From.Username != "" {
			msg.Sender += "|" + m.From.Username
		}
		msg.FromSelf = botID != 0 && m.From.ID == botID
	}
	return msg, true
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	return id, nil
}

func parseMessageID(messageID string) (int, error) {
	id, err := strconv.Atoi(messageID)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid telegram message id %q", messageID)
	}
	return id, nil
}
