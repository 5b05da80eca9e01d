// Package app wires the recall core, the bridge and the chat transports into
// one running process.
//
// New builds every component from a config.Config. Run logs in to the
// enabled platforms, serves metrics, pumps inbound messages into the bridge
// and shuts everything down in order when its context is cancelled:
// transports stop first, then background recalls are awaited and the
// conversation registry is cleared.
package app
