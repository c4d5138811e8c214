// Package transport defines the connector interfaces that separate the kqnet endpoints
// from the concrete socket implementation.
//
// Subpackages:
//
//   - loop: The single goroutine event loop every endpoint runs on.
//   - tcp: TCP implementations of IClientConnector and IServerConnector, including
//     socket tuning (TCP_NODELAY, buffer sizes, keep-alive, linger).
package transport
