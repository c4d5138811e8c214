// Package common provides the configuration structures, error taxonomy, logging and
// metrics shared by the kqnet client and server packages.
//
// Key Components:
//
//   - ServerConfig / ClientConfig / ConnConfig: Endpoint and per connection settings
//     (handshake deadline, payload limit, socket and TCP options). Each config has a
//     String() method producing the report logged on start.
//
//   - Errors: Sentinel errors for every failure class (ErrResolution, ErrConnect, ErrBind,
//     ErrIO, ErrValidationFailure) and ConnError, the structured result returned by
//     Connect and Start. Match them with errors.Is.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's logger
//     registry so every package obtains its logger with logger.GetLogger(name).
//
//   - ConnMetrics: Process wide counters (VictoriaMetrics) for frames, bytes, handshakes
//     and active connections, exported in Prometheus format by WriteMetrics.
package common
