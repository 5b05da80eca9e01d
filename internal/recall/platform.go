// ABOUTME: Platform capability interface and conversation key helpers
// ABOUTME: The recall core depends only on these, never on concrete transports

package recall

import (
	"context"
	"strings"
)

// Platform is the deletion capability of one chat transport.
type Platform interface {
	// Name is the platform identifier used in conversation keys and config,
	// e.g. "matrix" or "telegram".
	Name() string
	SupportsDeletion() bool
	Delete(ctx context.Context, chatID, messageID string) error
}

// ConversationKey joins a platform identifier and a platform chat id into the
// key used by the ledger registry.
func ConversationKey(platform, chatID string) string {
	return platform + ":" + chatID
}

// SplitConversationKey is the inverse of ConversationKey. Chat ids may contain
// colons (Matrix room ids do), so only the first one separates.
func SplitConversationKey(key string) (platform, chatID string, ok bool) {
	platform, chatID, ok = strings.Cut(key, ":")
	if !ok || platform == "" || chatID == "" {
		return "", "", false
	}
	return platform, chatID, true
}
