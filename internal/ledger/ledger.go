// ABOUTME: Bounded per-conversation history of sent message identifiers
// ABOUTME: Append evicts the oldest entry once capacity is reached

package ledger

import (
	"errors"
	"sync"
	"time"
)

// DefaultCapacity is the number of sent messages remembered per conversation.
const DefaultCapacity = 20

// ErrNotFound is returned when the ledger has no entry to return.
var ErrNotFound = errors.New("ledger: no entry")

// Entry is one sent message.
type Entry struct {
	MessageID string
	SentAt    time.Time
}

// Ledger is a fixed-capacity, insertion-ordered list of sent messages.
// It is safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	entries  []Entry // oldest first
	capacity int
}

// New creates an empty ledger. A non-positive capacity uses DefaultCapacity.
func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
	}
}

// Append adds an entry at the tail, evicting the head when full.
// Duplicate message ids are kept as distinct entries.
func (l *Ledger) Append(messageID string, sentAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.capacity {
		// Shift rather than reslice so the backing array does not grow forever.
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, Entry{MessageID: messageID, SentAt: sentAt})
}

// Last returns the most recent entry.
func (l *Ledger) Last() (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) == 0 {
		return Entry{}, ErrNotFound
	}
	return l.entries[len(l.entries)-1], nil
}

// LastN returns up to n entries, most recent first.
func (l *Ledger) LastN(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.entries) {
		n = len(l.entries)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Entry, 0, n)
	for i := len(l.entries) - 1; i >= len(l.entries)-n; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// PopLast removes and returns the most recent entry.
func (l *Ledger) PopLast() (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return Entry{}, ErrNotFound
	}
	last := l.entries[len(l.entries)-1]
	l.entries = l.entries[:len(l.entries)-1]
	return last, nil
}

// Remove deletes the most recent entry with the given message id, keeping the
// order of everything else. It reports whether an entry was removed.
func (l *Ledger) Remove(messageID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].MessageID == messageID {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether an entry with the given message id is recorded.
func (l *Ledger) Contains(messageID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].MessageID == messageID {
			return true
		}
	}
	return false
}

// Before returns the entry recorded immediately before the most recent entry
// with the given message id. Entries appended later do not change the answer.
func (l *Ledger) Before(messageID string) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].MessageID == messageID {
			if i == 0 {
				return Entry{}, ErrNotFound
			}
			return l.entries[i-1], nil
		}
	}
	return Entry{}, ErrNotFound
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Capacity returns the maximum number of entries kept.
func (l *Ledger) Capacity() int {
	return l.capacity
}

// Entries returns a copy of all entries, oldest first.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clear drops every entry.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}
