// Package ledger keeps a bounded, in-memory history of the messages the bot
// has sent, one history per conversation.
//
// # Ledger
//
// A Ledger is a FIFO of (message id, sent at) entries with a fixed capacity.
// Appending beyond capacity evicts the oldest entry:
//
//	l := ledger.New(20)
//	l.Append("$evt1", time.Now())
//	last, err := l.Last()
//
// Entries only leave the ledger through eviction or an explicit PopLast or
// Remove after a successful deletion on the transport.
//
// # Registry
//
// The Registry maps conversation keys to ledgers and creates them on first
// access. It is owned by whoever constructs it; nothing in this package is a
// process-wide singleton.
//
// Message identifiers are opaque. The ledger never checks whether the
// transport still knows about them.
package ledger
