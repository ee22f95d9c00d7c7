// Package frontend tracks application-level editor state and routes engine
// notifications.
//
// The engine owns all document content; this package keeps only the mirror
// the presentation layer reads: which views are open, which is focused, each
// view's line cache and scroll target, and session-wide facts the engine
// announces (theme, available languages).
//
// App is the outbound half: helpers that turn user intents into engine
// requests and notifications through a non-owning rpc.Core handle.
// Dispatcher is the inbound half: the rpc.Handler implementation that maps
// notification methods onto state mutations. Both halves are wired together
// at construction; the dispatcher runs entirely on the rpc core's dispatch
// goroutine.
package frontend
