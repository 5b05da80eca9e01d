// Package dedupe provides a size-limited, TTL-based claim cache.
//
// The bridge claims "<frontend>:<platform message id>" before handling an
// inbound event so redelivered events are dropped, and the recall service
// claims "recall:<conversation>:<marker id>" so a marker message seen both
// after sending and again as an inbound echo is only acted on once.
package dedupe
