// Package connection implements one validated, framed TCP connection of a kqnet endpoint.
//
// A Connection first runs a challenge/response handshake and then streams typed
// messages in both directions. All state transitions run on the loop.Loop of the owning
// endpoint; socket reads and writes run on short lived I/O goroutines that post their
// completion back to that loop.
//
// # Handshake
//
// All integers are big-endian.
//
//	server -> client   challenge  (8 bytes)
//	client -> server   scramble(challenge)  (8 bytes)
//	server -> client   0x01  (1 byte, only on success)
//
// On a mismatch the server closes the socket without sending anything. The handshake is
// a compatibility filter between builds sharing the same ScrambleFunc, it is not
// authentication.
//
// # Streaming
//
// Each frame is a message.Header followed by Header.Size payload bytes. Exactly one read
// and at most one write are in flight per connection. Outgoing messages are written
// strictly in Send order, a message is removed from the outgoing queue only after it was
// written completely.
//
// # Failure
//
// The first read or write error closes the socket and moves the connection to
// StateDisconnected. Exactly one hook fires: Hooks.OnUnvalidated if the handshake had not
// completed, Hooks.OnDisconnected otherwise. Close ends a connection without any hook,
// the server uses it for connections it removes itself.
package connection
