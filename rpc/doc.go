// Package rpc groups the networking layers of kqnet: validated TCP connections that
// exchange typed messages (lib/message) between one server and many clients.
//
// The package is organized into several subpackages:
//
//   - common: configuration structures, the error taxonomy, the logger factory and the
//     Prometheus counters shared by all layers.
//
//   - transport: connector interfaces plus the TCP implementation (tcp) and the single
//     goroutine event loop every endpoint runs on (loop).
//
//   - connection: the per-socket state machine, running the challenge/response
//     handshake and then the frame pump.
//
//   - serializer: encoders for structured values inside message payloads (Binary,
//     JSON, GOB).
//
//   - client: the client endpoint, one connection to one server.
//
//   - server: the server endpoint, the connection set and the application callbacks.
//
// Concurrency model:
//
//	Each endpoint runs exactly one loop.Loop. Every state transition and every
//	lifecycle callback of that endpoint runs on the loop goroutine, so callbacks of one
//	endpoint never run concurrently. Received messages are handed to the application
//	through a util.ThreadSafeQueue, which the application drains on its own goroutine.
package rpc
