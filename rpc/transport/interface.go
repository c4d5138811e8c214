package transport

import (
	"context"
	"github.com/ValentinKolb/kqnet/rpc/common"
	"net"
)

// --------------------------------------------------------------------------
// Client Connector
// --------------------------------------------------------------------------

// IClientConnector defines the transport specific operations a client endpoint needs
type IClientConnector interface {
	// GetName returns the name of the transport type (e.g. "tcp")
	GetName() string

	// Resolve turns host and port into candidate addresses.
	// Errors are reported as common.ErrResolution.
	Resolve(ctx context.Context, host string, port uint16) ([]string, error)

	// Connect dials the candidate addresses in order and returns the first connection
	// that succeeds. Errors are reported as common.ErrConnect.
	Connect(ctx context.Context, addrs []string) (net.Conn, error)

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ConnConfig) error
}

// --------------------------------------------------------------------------
// Server Connector
// --------------------------------------------------------------------------

// IServerConnector defines the transport specific operations a server endpoint needs
type IServerConnector interface {
	// GetName returns the name of the transport type (e.g. "tcp")
	GetName() string

	// Listen creates a listener on endpoint. Errors are reported as common.ErrBind.
	Listen(endpoint string) (net.Listener, error)

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ConnConfig) error
}
