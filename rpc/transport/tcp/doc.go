// Package tcp implements the TCP connectors used by kqnet clients and servers.
//
// The client connector resolves a host name to all of its addresses and dials them in
// order until one succeeds, keeping resolution failures (common.ErrResolution) apart from
// connect failures (common.ErrConnect). The server connector opens the listening socket
// (common.ErrBind on failure).
//
// Both apply the settings of common.ConnConfig to every established socket: TCP_NODELAY,
// kernel buffer sizes, keep-alive period and linger.
package tcp
