// ABOUTME: Bridge core routing chat messages between transports and the agent gateway
// ABOUTME: Every agent answer passes through the recall pre-send and post-send hooks

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/coven-recall/internal/dedupe"
	"github.com/2389/coven-recall/internal/recall"
)

// Message is one inbound chat message, already translated from the platform.
type Message struct {
	Platform  string
	ChatID    string
	MessageID string
	Sender    string
	Text      string
	// FromSelf is set for echoes of messages the bot sent itself.
	FromSelf bool
}

// SendReceipt carries the identifier sources a transport offers for a sent
// message, best first.
type SendReceipt struct {
	MessageID  string
	FallbackID string
}

// Candidates returns the identifier sources in precedence order.
func (r SendReceipt) Candidates() []string {
	return []string{r.MessageID, r.FallbackID}
}

// Transport sends messages to one chat platform.
type Transport interface {
	Name() string
	Send(ctx context.Context, chatID, text string) (SendReceipt, error)
	SetTyping(ctx context.Context, chatID string, typing bool)
}

// Agent answers user messages.
type Agent interface {
	Ask(ctx context.Context, req AgentRequest) (string, error)
}

// Hooks is the part of the recall service the bridge drives.
type Hooks interface {
	PreSend(key, text string) recall.Outgoing
	PostSend(ctx context.Context, intentID string, candidates ...string) (string, error)
	Discard(intentID string)
	HandleInbound(ctx context.Context, msg recall.Inbound) recall.InboundResult
}

// CommandHandler answers chat commands.
type CommandHandler interface {
	Handle(ctx context.Context, key, text string) (string, bool)
}

// Options configures a Bridge.
type Options struct {
	// AllowedChats limits which chats are answered, per platform. A platform
	// without an entry answers everywhere.
	AllowedChats map[string][]string
	// Typing names the platforms that show typing while waiting for the agent.
	Typing map[string]bool
	// SendTimeout bounds each transport send.
	SendTimeout time.Duration
}

// Bridge routes messages for any number of transports.
type Bridge struct {
	hooks      Hooks
	commands   CommandHandler
	agent      Agent
	transports map[string]Transport
	seen       *dedupe.Cache
	opts       Options
	logger     *slog.Logger

	// Track conversations we're actively answering to avoid piling up requests
	processing sync.Map
}

// New creates a bridge.
func New(hooks Hooks, commands CommandHandler, agent Agent, seen *dedupe.Cache, opts Options, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	return &Bridge{
		hooks:      hooks,
		commands:   commands,
		agent:      agent,
		transports: make(map[string]Transport),
		seen:       seen,
		opts:       opts,
		logger:     logger.With("component", "bridge"),
	}
}

// AddTransport registers a transport under its name.
func (b *Bridge) AddTransport(t Transport) {
	b.transports[t.Name()] = t
}

// HandleMessage processes one inbound message. It blocks until the message
// has been fully handled, including any agent round trip.
func (b *Bridge) HandleMessage(ctx context.Context, msg Message) {
	if msg.MessageID != "" && b.seen != nil {
		if !b.seen.Claim("bridge:" + msg.Platform + ":" + msg.MessageID) {
			b.logger.Debug("duplicate message ignored", "platform", msg.Platform, "message_id", msg.MessageID)
			return
		}
	}

	key := recall.ConversationKey(msg.Platform, msg.ChatID)

	res := b.hooks.HandleInbound(ctx, recall.Inbound{
		ConversationKey: key,
		MessageID:       msg.MessageID,
		Text:            msg.Text,
	})
	if res.Stop {
		b.logger.Info("recall marker handled", "conversation", key, "state", res.Reached.String())
		return
	}

	if msg.FromSelf {
		return
	}

	if !b.isChatAllowed(msg.Platform, msg.ChatID) {
		b.logger.Debug("ignoring message from non-allowed chat", "conversation", key)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if reply, ok := b.commands.Handle(ctx, key, text); ok {
		// Command replies are not recorded, so /recall never targets its own answer.
		if _, err := b.sendRaw(ctx, msg.Platform, msg.ChatID, reply); err != nil {
			b.logger.Error("failed to send command reply", "conversation", key, "error", err)
		}
		return
	}

	b.logger.Info("received message",
		"conversation", key,
		"sender", msg.Sender,
		"content", truncate(text, 50),
	)
	b.answer(ctx, msg, key, text)
}

// answer asks the agent and delivers its response.
func (b *Bridge) answer(ctx context.Context, msg Message, key, text string) {
	if _, loaded := b.processing.LoadOrStore(key, true); loaded {
		b.logger.Debug("already answering in conversation, dropping", "conversation", key)
		return
	}
	defer b.processing.Delete(key)

	t, ok := b.transports[msg.Platform]
	if !ok {
		b.logger.Error("no transport for platform", "platform", msg.Platform)
		return
	}

	if b.opts.Typing[msg.Platform] {
		t.SetTyping(ctx, msg.ChatID, true)
		defer t.SetTyping(context.WithoutCancel(ctx), msg.ChatID, false)
	}

	response, err := b.agent.Ask(ctx, AgentRequest{
		Sender:    msg.Sender,
		Content:   text,
		Frontend:  msg.Platform,
		ChannelID: msg.ChatID,
	})
	if err != nil {
		b.logger.Error("gateway request failed", "conversation", key, "error", err)
		if _, sendErr := b.sendRaw(ctx, msg.Platform, msg.ChatID, fmt.Sprintf("Error: %v", err)); sendErr != nil {
			b.logger.Error("failed to report gateway error", "conversation", key, "error", sendErr)
		}
		return
	}
	if response == "" {
		b.logger.Warn("empty response from agent", "conversation", key)
		return
	}

	_, err = b.Deliver(ctx, msg.Platform, msg.ChatID, response)
	switch {
	case err == nil, errors.Is(err, ErrSuppressed):
	case errors.Is(err, ErrNotRecorded):
		// The answer went out; it just cannot be recalled.
		b.logger.Warn("sent message not recorded", "conversation", key, "error", err)
	default:
		b.logger.Error("failed to deliver response", "conversation", key, "error", err)
	}
}

var (
	// ErrSuppressed is returned by Deliver when nothing was left to send.
	ErrSuppressed = errors.New("bridge: message suppressed")
	// ErrNotRecorded is returned by Deliver when the message was sent but
	// could not be recorded for recall.
	ErrNotRecorded = errors.New("bridge: sent message not recorded")
)

// Deliver sends text to a chat through the recall hooks and returns the
// resolved message id. An error wrapping ErrNotRecorded means the message
// was delivered anyway.
func (b *Bridge) Deliver(ctx context.Context, platform, chatID, text string) (string, error) {
	key := recall.ConversationKey(platform, chatID)

	out := b.hooks.PreSend(key, text)
	if !out.Send {
		b.logger.Info("outgoing message suppressed", "conversation", key)
		return "", ErrSuppressed
	}

	receipt, err := b.sendRaw(ctx, platform, chatID, out.Text)
	if err != nil {
		b.hooks.Discard(out.IntentID)
		return "", err
	}

	id, err := b.hooks.PostSend(ctx, out.IntentID, receipt.Candidates()...)
	if err != nil {
		return id, fmt.Errorf("%w: %w", ErrNotRecorded, err)
	}
	return id, nil
}

func (b *Bridge) sendRaw(ctx context.Context, platform, chatID, text string) (SendReceipt, error) {
	t, ok := b.transports[platform]
	if !ok {
		return SendReceipt{}, fmt.Errorf("no transport for platform %q", platform)
	}
	sctx, cancel := context.WithTimeout(ctx, b.opts.SendTimeout)
	defer cancel()
	return t.Send(sctx, chatID, text)
}

// isChatAllowed checks if the chat is in the allowed list for its platform.
func (b *Bridge) isChatAllowed(platform, chatID string) bool {
	allowed, ok := b.opts.AllowedChats[platform]
	if !ok || len(allowed) == 0 {
		return true // Allow all if no filter
	}
	for _, a := range allowed {
		if a == chatID {
			return true
		}
	}
	return false
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
