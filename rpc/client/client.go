package client

import (
	"context"
	"github.com/ValentinKolb/kqnet/lib/message"
	"github.com/ValentinKolb/kqnet/lib/util"
	"github.com/ValentinKolb/kqnet/rpc/common"
	"github.com/ValentinKolb/kqnet/rpc/connection"
	"github.com/ValentinKolb/kqnet/rpc/transport"
	"github.com/ValentinKolb/kqnet/rpc/transport/loop"
	"github.com/ValentinKolb/kqnet/rpc/transport/tcp"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
)

var Logger = logger.GetLogger(common.LoggerClient)

// Client is the client endpoint: it owns at most one connection to a server, the loop
// driving it and the queue of received messages.
//
// All methods are safe to call from any goroutine.
type Client[T message.ID] struct {
	config    common.ClientConfig
	scramble  connection.ScrambleFunc
	connector transport.IClientConnector
	metrics   *common.ConnMetrics
	incoming  *util.ThreadSafeQueue[connection.OwnedMessage[T]]

	mu   sync.Mutex // guards loop and conn against concurrent Connect / Disconnect
	loop *loop.Loop
	conn *connection.Connection[T]
}

// --------------------------------------------------------------------------
// Factory Methods
// --------------------------------------------------------------------------

// New creates a TCP client. scramble must match the one of the server.
func New[T message.ID](scramble connection.ScrambleFunc, config common.ClientConfig) *Client[T] {
	return NewWithConnector[T](scramble, config, tcp.NewTCPClientConnector())
}

// NewWithConnector creates a client using the given connector
func NewWithConnector[T message.ID](scramble connection.ScrambleFunc, config common.ClientConfig, connector transport.IClientConnector) *Client[T] {
	return &Client[T]{
		config:    config,
		scramble:  scramble,
		connector: connector,
		metrics:   common.NewConnMetrics("client"),
		incoming:  util.NewThreadSafeQueue[connection.OwnedMessage[T]](),
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Connect resolves host, connects to the first reachable address and starts the
// handshake. It returns once the socket is connected, use WaitValidated to wait for
// the handshake.
//
// Errors wrap common.ErrResolution or common.ErrConnect, the client then stays disconnected.
// Connecting while connected returns common.ErrAlreadyRunning.
func (c *Client[T]) Connect(ctx context.Context, host string, port uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.IsConnected() {
		return common.ErrAlreadyRunning
	}
	c.teardown()

	addrs, err := c.connector.Resolve(ctx, host, port)
	if err != nil {
		Logger.Warningf("Failed to resolve %s: %v", host, err)
		return err
	}

	dialCtx := ctx
	if timeout := c.config.DialTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sock, err := c.connector.Connect(dialCtx, addrs)
	if err != nil {
		Logger.Warningf("Failed to connect to %s: %v", host, err)
		return err
	}
	if err := c.connector.UpgradeConnection(sock, c.config.Conn); err != nil {
		Logger.Warningf("Failed to upgrade connection: %v", err)
	}

	lp := loop.New("client")
	conn := connection.New(sock, connection.Options[T]{
		Owner:    connection.OwnerClient,
		Loop:     lp,
		Incoming: c.incoming,
		Scramble: c.scramble,
		Config:   c.config.Conn,
		Metrics:  c.metrics,
		Hooks: connection.Hooks[T]{
			OnValidated: func(conn *connection.Connection[T]) {
				Logger.Infof("Validated by server %s", conn.RemoteAddr())
			},
			OnUnvalidated: func(conn *connection.Connection[T], err error) {
				Logger.Warningf("Server %s closed the connection during validation: %v", conn.RemoteAddr(), err)
			},
			OnDisconnected: func(conn *connection.Connection[T], err error) {
				Logger.Infof("Connection to %s closed: %v", conn.RemoteAddr(), err)
			},
		},
	})
	lp.Start()
	// the handshake state must be entered before Connect returns, IsConnected depends on it
	if err := lp.Call(ctx, conn.ConnectToServer); err != nil {
		lp.Stop()
		conn.Close()
		return common.NewConnError("connect", host, common.ErrConnect, err)
	}

	c.loop = lp
	c.conn = conn
	Logger.Debugf("Connected to %s (%s)", sock.RemoteAddr(), c.connector.GetName())
	return nil
}

// Disconnect closes the connection and stops the loop. No callback of this client runs
// after Disconnect returned. Safe to call repeatedly and before Connect.
func (c *Client[T]) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardown()
}

// teardown must be called with mu held
func (c *Client[T]) teardown() {
	if c.conn != nil {
		c.conn.Disconnect()
	}
	if c.loop != nil {
		c.loop.Stop()
	}
	if c.conn != nil {
		// the posted close may have been dropped by Stop
		c.conn.Close()
	}
	c.loop = nil
	c.conn = nil
}

// --------------------------------------------------------------------------
// Connection state
// --------------------------------------------------------------------------

func (c *Client[T]) connection() *connection.Connection[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// IsConnected reports whether the socket is open and either validated or handshaking
func (c *Client[T]) IsConnected() bool {
	conn := c.connection()
	return conn != nil && conn.IsConnected()
}

// IsValidated reports whether the server accepted the handshake
func (c *Client[T]) IsValidated() bool {
	conn := c.connection()
	return conn != nil && conn.IsValidated()
}

// WaitValidated blocks until the handshake succeeded. It returns common.ErrNotConnected
// if the connection ended first and ctx.Err() if ctx is done first.
func (c *Client[T]) WaitValidated(ctx context.Context) error {
	conn := c.connection()
	if conn == nil {
		return common.ErrNotConnected
	}
	return conn.WaitValidated(ctx)
}

// Done is closed when the current connection ended. It returns a closed channel if
// the client is not connected.
func (c *Client[T]) Done() <-chan struct{} {
	conn := c.connection()
	if conn == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return conn.Done()
}

// --------------------------------------------------------------------------
// Messaging
// --------------------------------------------------------------------------

// Send queues a copy of msg for the server. Messages sent before validation are held
// back until the handshake succeeded.
func (c *Client[T]) Send(msg *message.Message[T]) error {
	conn := c.connection()
	if conn == nil {
		return common.ErrNotConnected
	}
	return conn.Send(msg)
}

// Incoming returns the queue of received messages. The queue outlives reconnects.
func (c *Client[T]) Incoming() *util.ThreadSafeQueue[connection.OwnedMessage[T]] {
	return c.incoming
}
