// Package recall deletes messages the bot has sent, either because the
// agent asked for it with a marker in its output or because a user ran the
// recall command.
//
// # Flow
//
// Every outgoing message goes through two hooks:
//
//	out := svc.PreSend(key, text)     // strip markers, maybe suppress
//	if out.Send {
//	    id, err := transport.Send(chat, out.Text)
//	    svc.PostSend(ctx, out.IntentID, id) // record, maybe recall
//	}
//
// PreSend returns an intent id that carries the marker decision to PostSend.
// PostSend appends the resolved message id to the conversation ledger and,
// for marked messages, starts the recall in the background.
//
// Inbound messages that consist only of the marker go through HandleInbound,
// which recalls the two newest recorded messages: the one before the marker
// and the marker message itself.
//
// # Executor
//
// The Executor deletes the older message first, waits the settle delay on
// its Clock and then deletes the newer one. Each deletion is attempted even
// if the other failed. Executions within one conversation are serialized.
//
// # Commands
//
// Commands implements /recall, /list_messages and /help.
package recall
