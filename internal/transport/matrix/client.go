// ABOUTME: Matrix transport for coven-recall
// ABOUTME: Sends, redacts and receives room messages through a mautrix client

package matrix

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-recall/internal/bridge"
)

// PlatformName identifies Matrix conversations.
const PlatformName = "matrix"

// typingTimeout is the duration the typing indicator shows (30 seconds).
const typingTimeout = 30 * time.Second

// networkTimeout is the timeout for Matrix API calls made outside a request.
const networkTimeout = 10 * time.Second

// redactReason is attached to every recall redaction.
const redactReason = "recalled"

// Options configures the Matrix transport.
type Options struct {
	Homeserver  string
	Username    string
	Password    string
	RecoveryKey string
	// DataDir holds the crypto store when encryption is enabled.
	DataDir string
}

// Handler receives every inbound room message.
type Handler func(ctx context.Context, msg bridge.Message)

// Client is a Matrix transport. It implements bridge.Transport and
// recall.Platform.
type Client struct {
	opts   Options
	matrix *mautrix.Client
	crypto *CryptoManager
	logger *slog.Logger

	startedAt time.Time
	handlers  sync.WaitGroup
}

// New creates a Matrix client. Login must be called before Run.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(opts.Homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &Client{
		opts:   opts,
		matrix: client,
		logger: logger.With("component", "matrix"),
	}, nil
}

// Name implements bridge.Transport.
func (c *Client) Name() string { return PlatformName }

// SupportsDeletion reports that Matrix messages can be redacted.
func (c *Client) SupportsDeletion() bool { return true }

// UserID returns the logged in user, empty before Login.
func (c *Client) UserID() string {
	return c.matrix.UserID.String()
}

// Login authenticates with username and password and, when a recovery key
// is configured, enables end-to-end encryption.
func (c *Client) Login(ctx context.Context) error {
	resp, err := c.matrix.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: c.opts.Username,
		},
		Password:                 c.opts.Password,
		InitialDeviceDisplayName: "coven-recall",
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}
	c.logger.Info("logged in to matrix", "user_id", resp.UserID.String(), "device_id", resp.DeviceID.String())

	if c.opts.RecoveryKey == "" {
		c.logger.Info("encryption disabled (no recovery key)")
		return nil
	}
	crypto, err := SetupCrypto(ctx, c.matrix, c.UserID(), c.opts.RecoveryKey, c.opts.DataDir, c.logger)
	if err != nil {
		return fmt.Errorf("setting up encryption: %w", err)
	}
	c.crypto = crypto
	return nil
}

// Send posts text to a room. Markdown is rendered into the formatted body.
func (c *Client) Send(ctx context.Context, chatID, text string) (bridge.SendReceipt, error) {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if formatted, ok := renderMarkdown(text); ok {
		content.Format = event.FormatHTML
		content.FormattedBody = formatted
	}

	resp, err := c.matrix.SendMessageEvent(ctx, id.RoomID(chatID), event.EventMessage, content)
	if err != nil {
		return bridge.SendReceipt{}, fmt.Errorf("sending to %s: %w", chatID, err)
	}
	if resp == nil {
		return bridge.SendReceipt{}, nil
	}
	return bridge.SendReceipt{MessageID: resp.EventID.String()}, nil
}

// Delete redacts a message.
func (c *Client) Delete(ctx context.Context, chatID, messageID string) error {
	_, err := c.matrix.RedactEvent(ctx, id.RoomID(chatID), id.EventID(messageID), mautrix.ReqRedact{
		Reason: redactReason,
	})
	if err != nil {
		return fmt.Errorf("redacting %s: %w", messageID, err)
	}
	return nil
}

// SetTyping sends a typing indicator. Failures are only logged.
func (c *Client) SetTyping(ctx context.Context, chatID string, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := c.matrix.UserTyping(ctx, id.RoomID(chatID), typing, timeout); err != nil {
		c.logger.Debug("failed to set typing indicator", "room", chatID, "error", err)
	}
}

// Run syncs with the homeserver and hands every new room message to handle,
// each on its own goroutine. It blocks until ctx is cancelled and the
// handlers have returned.
func (c *Client) Run(ctx context.Context, handle Handler) error {
	c.startedAt = time.Now()

	syncer, ok := c.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", c.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		msg, ok := toMessage(evt, c.matrix.UserID, c.startedAt)
		if !ok {
			return
		}
		c.handlers.Add(1)
		go func() {
			defer c.handlers.Done()
			handle(ctx, msg)
		}()
	})

	c.logger.Info("connecting to matrix homeserver", "homeserver", c.opts.Homeserver)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- c.matrix.SyncWithContext(ctx)
	}()

	var err error
	select {
	case <-ctx.Done():
		c.logger.Info("shutting down matrix transport")
		c.matrix.StopSync()
	case err = <-syncErr:
		if ctx.Err() == nil {
			err = fmt.Errorf("matrix sync failed: %w", err)
		} else {
			err = nil
		}
	}
	c.handlers.Wait()
	return err
}

// Close releases the crypto store.
func (c *Client) Close() error {
	if c.crypto != nil {
		return c.crypto.Close()
	}
	return nil
}

// toMessage translates a room event. Events from before startup, edits and
// non-text messages are skipped.
func toMessage(evt *event.Event, self id.UserID, startedAt time.Time) (bridge.Message, bool) {
	if evt.Timestamp < startedAt.UnixMilli() {
		return bridge.Message{}, false
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return bridge.Message{}, false
	}
	if content.MsgType != event.MsgText && content.MsgType != event.MsgNotice {
		return bridge.Message{}, false
	}
	if content.RelatesTo != nil && content.RelatesTo.GetReplaceID() != "" {
		return bridge.Message{}, false
	}

	return bridge.Message{
		Platform:  PlatformName,
		ChatID:    evt.RoomID.String(),
		MessageID: evt.ID.String(),
		Sender:    evt.Sender.String(),
		Text:      content.Body,
		FromSelf:  self != "" && evt.Sender == self,
	}, true
}

// renderMarkdown converts text to HTML. ok is false when the text has no
// formatting worth sending as a formatted body.
func renderMarkdown(text string) (string, bool) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return "", false
	}
	out := strings.TrimSpace(buf.String())

	// A single plain paragraph needs no formatted body.
	if inner, ok := strings.CutPrefix(out, "<p>"); ok {
		if inner, ok = strings.CutSuffix(inner, "</p>"); ok && !strings.Contains(inner, "<") {
			if html.UnescapeString(inner) == strings.TrimSpace(text) {
				return "", false
			}
		}
	}
	return out, out != ""
}
