// Package engine spawns and supervises the external text-editing engine
// process and adapts its stdio pipes to the rpc layer.
//
// The engine speaks newline-delimited JSON: one message per line on stdin
// and stdout, free-form diagnostics on stderr. Process implements rpc.Peer
// on the write side and exposes the read side as a channel of raw messages
// that closes when the engine exits, which is the rpc core's shutdown
// signal.
//
// Framing is the only protocol knowledge in this package; message content
// is opaque here.
package engine
