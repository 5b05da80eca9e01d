// ABOUTME: RecallIntent correlates one outgoing message from pre-send to post-send
// ABOUTME: Intents are held in a map keyed by a generated id instead of on the event

package recall

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-recall/internal/marker"
)

// Intent is the pre-send decision about one outgoing message.
type Intent struct {
	ID              string
	ConversationKey string
	Kind            marker.Kind
	MarkerStripped  bool
	CreatedAt       time.Time

	// ResolvedMessageID is filled in at post-send time.
	ResolvedMessageID string
}

// intentTable stores intents between the two send hooks.
type intentTable struct {
	mu      sync.Mutex
	intents map[string]*Intent
	ttl     time.Duration
}

func newIntentTable(ttl time.Duration) *intentTable {
	return &intentTable{
		intents: make(map[string]*Intent),
		ttl:     ttl,
	}
}

// add stores a new intent and drops ones whose post-send never came.
func (t *intentTable) add(key string, kind marker.Kind, now time.Time) *Intent {
	in := &Intent{
		ID:              uuid.New().String(),
		ConversationKey: key,
		Kind:            kind,
		MarkerStripped:  kind == marker.KindSelf,
		CreatedAt:       now,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for id, old := range t.intents {
		if now.Sub(old.CreatedAt) > t.ttl {
			delete(t.intents, id)
		}
	}
	t.intents[in.ID] = in
	return in
}

// take removes and returns an intent.
func (t *intentTable) take(id string) (*Intent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	in, ok := t.intents[id]
	if ok {
		delete(t.intents, id)
	}
	return in, ok
}

func (t *intentTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.intents)
}
