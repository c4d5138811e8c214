package tcp

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/kqnet/rpc/common"
	"github.com/ValentinKolb/kqnet/rpc/transport"
	"net"
	"strconv"
	"time"
)

// connector implements transport.IClientConnector and transport.IServerConnector for TCP sockets
type connector struct {
	resolver *net.Resolver
	dialer   net.Dialer
}

// --------------------------------------------------------------------------
// Factory Methods
// --------------------------------------------------------------------------

// NewTCPClientConnector creates a TCP client connector
func NewTCPClientConnector() transport.IClientConnector {
	return &connector{resolver: net.DefaultResolver}
}

// NewTCPServerConnector creates a TCP server connector
func NewTCPServerConnector() transport.IServerConnector {
	return &connector{resolver: net.DefaultResolver}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClientConnector / transport.IServerConnector)
// --------------------------------------------------------------------------

func (c *connector) GetName() string {
	return "tcp"
}

func (c *connector) Resolve(ctx context.Context, host string, port uint16) ([]string, error) {
	endpoint := net.JoinHostPort(host, strconv.Itoa(int(port)))

	ips, err := c.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, common.NewConnError("resolve", endpoint, common.ErrResolution, err)
	}
	if len(ips) == 0 {
		return nil, common.NewConnError("resolve", endpoint, common.ErrResolution, errors.New("no addresses found"))
	}

	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, net.JoinHostPort(ip.String(), strconv.Itoa(int(port))))
	}
	return addrs, nil
}

func (c *connector) Connect(ctx context.Context, addrs []string) (net.Conn, error) {
	if len(addrs) == 0 {
		return nil, common.NewConnError("connect", "", common.ErrConnect, errors.New("no addresses given"))
	}

	// try every resolved address in order, like a happy path of async_connect
	var lastErr error
	for _, addr := range addrs {
		conn, err := c.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, common.NewConnError("connect", addrs[0], common.ErrConnect, lastErr)
}

func (c *connector) Listen(endpoint string) (net.Listener, error) {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, common.NewConnError("listen", endpoint, common.ErrBind, fmt.Errorf("failed to create TCP socket: %w", err))
	}
	return listener, nil
}

// UpgradeConnection applies performance optimizations to a TCP connection
// using configuration values from TCPConf and SocketConf
func (c *connector) UpgradeConnection(conn net.Conn, config common.ConnConfig) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm (TCPNoDelay) if configured
	if err := tcpConn.SetNoDelay(config.TCPConf.TCPNoDelay); err != nil {
		return err
	}

	if config.SocketConf.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(config.SocketConf.WriteBufferSize); err != nil {
			return err
		}
	}

	if config.SocketConf.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(config.SocketConf.ReadBufferSize); err != nil {
			return err
		}
	}

	if config.TCPConf.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		keepAlivePeriod := time.Duration(config.TCPConf.TCPKeepAliveSec) * time.Second
		if err := tcpConn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
			return err
		}
	}

	if config.TCPConf.TCPLingerSec >= 0 {
		if err := tcpConn.SetLinger(config.TCPConf.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}
