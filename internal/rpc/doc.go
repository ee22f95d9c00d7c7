// Package rpc implements the correlation and dispatch layer between the
// front-end and the external editing engine process.
//
// The engine speaks a bidirectional stream of JSON messages. Outbound
// traffic is either a request (carries an identifier, expects exactly one
// reply) or a notification (no identifier, no reply). Inbound traffic is
// either a response correlated to an earlier request or an unsolicited
// notification pushed by the engine.
//
// # Architecture
//
//   - Core: the send surface and owner of all correlation state
//   - Peer: the write side of the engine transport (one framed message per call)
//   - Handler: application code receiving engine notifications
//   - Continuation: a one-shot callback receiving a request's reply
//
// A single goroutine owns the pending-request table and the Peer. Senders
// never touch either directly; SendRequest and SendNotification enqueue
// commands on an internal mailbox, and the owning goroutine performs the
// identifier allocation, table insert, and transport write. The same
// goroutine drains the inbound stream, so responses and notifications are
// dispatched in exactly the order the engine emitted them.
//
// # Lifecycle
//
// Every registered continuation fires exactly once: with the engine's reply,
// with the transport write error, or with ErrCoreClosed when the inbound
// stream closes (engine exit) or Close is called. No continuation is ever
// invoked inline from SendRequest, and none is left pending at shutdown.
//
// # Reentrancy
//
// Handlers and continuations run on the core's goroutine. They may call the
// send methods freely; enqueueing never blocks, so there is no self-deadlock.
// They must not block for long, since that stalls all further dispatch.
package rpc
