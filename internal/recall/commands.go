// ABOUTME: Chat commands for manual recall, history listing and help
// ABOUTME: Replies are plain text; nothing here ends the process

package recall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/2389/coven-recall/internal/ledger"
)

// Command names.
const (
	CommandRecall  = "recall"
	CommandHistory = "list_messages"
	CommandHelp    = "help"
)

// DefaultCommandCooldown is the minimum gap between manual recalls in one
// conversation.
const DefaultCommandCooldown = 2 * time.Second

// CommandsConfig holds command handler settings.
type CommandsConfig struct {
	Prefix    string
	Cooldown  time.Duration
	Marker    string
	Platforms []string // shown in help
	Clock     Clock
}

// Commands answers the user-facing chat commands.
type Commands struct {
	exec      *Executor
	registry  *ledger.Registry
	prefix    string
	cooldown  time.Duration
	marker    string
	platforms []string
	clock     Clock
	logger    *slog.Logger

	limiters sync.Map // conversation key -> *rate.Limiter
}

// NewCommands creates the command handler.
func NewCommands(exec *Executor, registry *ledger.Registry, cfg CommandsConfig, logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/"
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Marker == "" {
		cfg.Marker = "[recall]"
	}
	return &Commands{
		exec:      exec,
		registry:  registry,
		prefix:    cfg.Prefix,
		cooldown:  cfg.Cooldown,
		marker:    cfg.Marker,
		platforms: cfg.Platforms,
		clock:     cfg.Clock,
		logger:    logger.With("component", "recall-commands"),
	}
}

// Handle runs text as a command if it is one. handled is false for anything
// that is not a known command, which the host should then process normally.
func (c *Commands) Handle(ctx context.Context, key, text string) (reply string, handled bool) {
	name, ok := c.parse(text)
	if !ok {
		return "", false
	}
	switch name {
	case CommandRecall:
		return c.Recall(ctx, key), true
	case CommandHistory, "history":
		return c.History(key), true
	case CommandHelp:
		return c.Help(), true
	default:
		return "", false
	}
}

// parse extracts the command name from "/name@bot args".
func (c *Commands) parse(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, c.prefix) {
		return "", false
	}
	fields := strings.Fields(strings.TrimPrefix(text, c.prefix))
	if len(fields) == 0 {
		return "", false
	}
	name, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(name), true
}

// Recall deletes the most recent recorded message of the conversation.
// The entry is only removed from the ledger once the deletion succeeded.
func (c *Commands) Recall(ctx context.Context, key string) string {
	if !c.exec.SupportsConversation(key) {
		platform, _, _ := SplitConversationKey(key)
		return fmt.Sprintf("Message recall is not supported on platform %q.", platform)
	}
	if l, ok := c.registry.Lookup(key); !ok || l.Len() == 0 {
		return "There are no recorded messages to recall."
	}
	if !c.allow(key) {
		return "A recall just ran in this conversation, please wait a moment."
	}

	res, err := c.exec.RecallTail(ctx, key, 1, "", TriggerManual)
	switch {
	case errors.Is(err, ErrNotSupported):
		return "Message recall is not supported here."
	case errors.Is(err, ErrInsufficientHistory):
		return "There are no recorded messages to recall."
	case err != nil:
		c.logger.Error("manual recall failed", "conversation", key, "error", err)
		return fmt.Sprintf("❌ Failed to recall message: %v", err)
	}
	if err := res.Err(); err != nil {
		return fmt.Sprintf("❌ Failed to recall message: %v", err)
	}
	return "✅ Recalled the last message."
}

// History lists the recorded messages, most recent first. It never changes
// the ledger.
func (c *Commands) History(key string) string {
	l, ok := c.registry.Lookup(key)
	if !ok || l.Len() == 0 {
		return "No messages are recorded for this conversation."
	}

	entries := l.LastN(l.Len())
	now := c.clock.Now()

	var b strings.Builder
	fmt.Fprintf(&b, "📝 Last %d sent messages:", len(entries))
	for i, e := range entries {
		fmt.Fprintf(&b, "\n%d. Message ID: %s (sent %s, %s)",
			i+1,
			e.MessageID,
			e.SentAt.Format("15:04:05"),
			humanize.RelTime(e.SentAt, now, "ago", "from now"),
		)
	}
	return b.String()
}

// Help describes the marker and the commands.
func (c *Commands) Help() string {
	platforms := "none configured"
	if len(c.platforms) > 0 {
		platforms = strings.Join(c.platforms, ", ")
	}

	var b strings.Builder
	b.WriteString("📖 Message recall\n\n")
	b.WriteString("🤖 For the AI:\n")
	fmt.Fprintf(&b, "Add to the persona prompt: \"When you need to take back your previous message, send %s\".\n", c.marker)
	fmt.Fprintf(&b, "A message that is only %s recalls the previous message and itself.\n", c.marker)
	fmt.Fprintf(&b, "%s anywhere else in a message recalls that message right after it is sent.\n\n", c.marker)
	b.WriteString("👤 Commands:\n")
	fmt.Fprintf(&b, "%s%s - recall the last message\n", c.prefix, CommandRecall)
	fmt.Fprintf(&b, "%s%s - show recent message history\n", c.prefix, CommandHistory)
	fmt.Fprintf(&b, "%s%s - show this help\n\n", c.prefix, CommandHelp)
	fmt.Fprintf(&b, "✅ Supported platforms: %s", platforms)
	return b.String()
}

func (c *Commands) allow(key string) bool {
	if c.cooldown <= 0 {
		return true
	}
	v, _ := c.limiters.LoadOrStore(key, rate.NewLimiter(rate.Every(c.cooldown), 1))
	limiter, _ := v.(*rate.Limiter)
	return limiter.AllowN(c.clock.Now(), 1)
}
