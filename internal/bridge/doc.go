// Package bridge connects chat transports to the agent gateway and runs every
// message through the recall hooks.
//
// For each inbound message the bridge:
//
//  1. drops redelivered events (dedupe by platform message id)
//  2. runs the stand-alone recall marker command, which may stop the event
//  3. ignores the bot's own echoes and chats outside the allow list
//  4. answers recall/list_messages/help commands directly
//  5. otherwise asks the agent gateway and delivers the answer
//
// Delivery goes PreSend -> Transport.Send -> PostSend so that marked answers
// are stripped, recorded and recalled.
package bridge
