package connection

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/kqnet/lib/message"
	"github.com/ValentinKolb/kqnet/lib/util"
	"github.com/ValentinKolb/kqnet/rpc/common"
	"github.com/ValentinKolb/kqnet/rpc/transport/loop"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger(common.LoggerConnection)

// ScrambleFunc is the one-way transform both peers apply to the handshake challenge.
//
// It is a compatibility filter, not authentication: the challenge and the response
// travel in clear text, so anybody observing the wire can learn or reverse it.
type ScrambleFunc func(uint64) uint64

// OwnedMessage is a received message together with the connection it arrived on.
// Remote is nil on the client side, a client only ever talks to one server.
// Remote is a non-owning reference: check Remote.IsConnected() before using it.
type OwnedMessage[T message.ID] struct {
	Remote *Connection[T]
	Msg    *message.Message[T]
}

// Hooks are invoked on the loop goroutine. For every connection exactly one of
// OnUnvalidated / OnDisconnected fires, unless the connection is ended with Close.
type Hooks[T message.ID] struct {
	// OnValidated fires once the handshake succeeded and streaming begins
	OnValidated func(c *Connection[T])
	// OnUnvalidated fires if the connection ends before streaming began
	OnUnvalidated func(c *Connection[T], err error)
	// OnDisconnected fires if the connection ends while streaming
	OnDisconnected func(c *Connection[T], err error)
}

// Options holds the dependencies of a connection
type Options[T message.ID] struct {
	Owner    Owner
	Loop     *loop.Loop
	Incoming *util.ThreadSafeQueue[OwnedMessage[T]]
	Scramble ScrambleFunc
	Config   common.ConnConfig
	Hooks    Hooks[T]
	Metrics  *common.ConnMetrics
}

// Connection owns one socket and runs the validation handshake and the frame pump on
// the loop of its endpoint.
//
// Connections are shared by pointer and never copied. A pointer kept after the
// connection ended stays safe to use: Send returns common.ErrNotConnected and
// IsConnected reports false.
type Connection[T message.ID] struct {
	owner    Owner
	id       atomic.Uint32
	sock     net.Conn
	remote   net.Addr
	loop     *loop.Loop
	outgoing *util.ThreadSafeQueue[*message.Message[T]]
	incoming *util.ThreadSafeQueue[OwnedMessage[T]]
	scramble ScrambleFunc
	config   common.ConnConfig
	hooks    Hooks[T]
	metrics  *common.ConnMetrics

	state     atomic.Uint32
	validated atomic.Bool
	sockOpen  atomic.Bool

	// handshake values, loop goroutine only
	challenge uint64 // server: sent, client: received
	expected  uint64 // server: scramble(challenge)
	response  uint64 // server: received, client: sent

	// writing is true while a write is in flight, loop goroutine only
	writing bool

	validatedCh chan struct{}
	doneCh      chan struct{}
	closeOnce   sync.Once
	doneOnce    sync.Once
}

// New wraps an established socket. The handshake starts with ConnectToClient (server)
// or ConnectToServer (client).
func New[T message.ID](sock net.Conn, opts Options[T]) *Connection[T] {
	if opts.Metrics == nil {
		opts.Metrics = common.NewConnMetrics(opts.Owner.String())
	}
	if opts.Incoming == nil {
		opts.Incoming = util.NewThreadSafeQueue[OwnedMessage[T]]()
	}

	c := &Connection[T]{
		owner:       opts.Owner,
		sock:        sock,
		remote:      sock.RemoteAddr(),
		loop:        opts.Loop,
		outgoing:    util.NewThreadSafeQueue[*message.Message[T]](),
		incoming:    opts.Incoming,
		scramble:    opts.Scramble,
		config:      opts.Config,
		hooks:       opts.Hooks,
		metrics:     opts.Metrics,
		validatedCh: make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	c.state.Store(uint32(StateCreated))
	c.sockOpen.Store(true)
	c.metrics.ConnOpened()

	if c.owner == OwnerServer {
		// time derived, not meant to be unpredictable
		c.challenge = uint64(time.Now().UnixNano())
		c.expected = c.scramble(c.challenge)
	}
	return c
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// ID returns the server assigned id (0 on the client side and before ConnectToClient)
func (c *Connection[T]) ID() uint32 {
	return c.id.Load()
}

// RemoteAddr returns the address of the peer
func (c *Connection[T]) RemoteAddr() net.Addr {
	return c.remote
}

// Owner returns the role of the connection
func (c *Connection[T]) Owner() Owner {
	return c.owner
}

// State returns the current lifecycle state
func (c *Connection[T]) State() State {
	return State(c.state.Load())
}

// IsConnected reports whether the socket is open and the connection is either
// validated or still handshaking
func (c *Connection[T]) IsConnected() bool {
	s := c.State()
	return c.sockOpen.Load() && (s == StateStreaming || s.handshaking())
}

// IsValidated reports whether the handshake succeeded and the connection is still open
func (c *Connection[T]) IsValidated() bool {
	return c.validated.Load() && c.IsConnected()
}

// Done is closed when the connection reaches StateDisconnected
func (c *Connection[T]) Done() <-chan struct{} {
	return c.doneCh
}

// WaitValidated blocks until the handshake succeeded, the connection ended
// (common.ErrNotConnected) or ctx is done.
func (c *Connection[T]) WaitValidated(ctx context.Context) error {
	select {
	case <-c.validatedCh:
		return nil
	case <-c.doneCh:
		return common.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PendingOutgoing returns the number of messages waiting to be written
func (c *Connection[T]) PendingOutgoing() int {
	return c.outgoing.Len()
}

func (c *Connection[T]) String() string {
	return fmt.Sprintf("[%d %s %s]", c.ID(), c.remote, c.State())
}

// --------------------------------------------------------------------------
// Public operations (any goroutine)
// --------------------------------------------------------------------------

// Send queues a copy of msg for delivery. Messages are written one at a time in the
// order Send was called. Messages sent during the handshake are held back until
// streaming begins.
func (c *Connection[T]) Send(msg *message.Message[T]) error {
	if msg == nil {
		return errors.New("nil message")
	}
	if c.State() == StateDisconnected {
		return common.ErrNotConnected
	}

	m := msg.Clone()
	m.Header.Size = uint32(len(m.Body))

	if !c.loop.Post(func() {
		if c.State() == StateDisconnected {
			return
		}
		c.outgoing.PushBack(m)
		c.startWriter()
	}) {
		return common.ErrNotConnected
	}
	return nil
}

// Disconnect closes the socket on the loop goroutine. The outstanding read or write
// then fails and the regular failure path fires the matching hook.
func (c *Connection[T]) Disconnect() {
	if !c.loop.Post(func() {
		if c.State() == StateCreated {
			// no i/o in flight that could report the close
			c.Close()
			return
		}
		c.closeSocket()
	}) {
		c.Close()
	}
}

// Close ends the connection immediately without firing any hook.
// Safe to call from any goroutine and more than once.
func (c *Connection[T]) Close() {
	if State(c.state.Swap(uint32(StateDisconnected))) == StateDisconnected {
		return
	}
	c.closeSocket()
	c.markDone()
}

// --------------------------------------------------------------------------
// Failure handling (loop goroutine)
// --------------------------------------------------------------------------

// fail moves to StateDisconnected and fires the hook matching the state it failed in
func (c *Connection[T]) fail(err error) {
	prev := State(c.state.Swap(uint32(StateDisconnected)))
	if prev == StateDisconnected {
		return
	}
	c.closeSocket()
	c.markDone()
	c.outgoing.Clear()

	switch {
	case errors.Is(err, net.ErrClosed):
		Logger.Debugf("%d connection closed locally in state %s", c.ID(), prev)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		Logger.Infof("%d connection closed by peer %s in state %s", c.ID(), c.remote, prev)
	default:
		Logger.Warningf("%d connection to %s failed in state %s: %v", c.ID(), c.remote, prev, err)
	}

	if prev == StateStreaming {
		c.metrics.Disconnects.Inc()
		if c.hooks.OnDisconnected != nil {
			c.hooks.OnDisconnected(c, err)
		}
		return
	}

	c.metrics.HandshakesFailed.Inc()
	if c.hooks.OnUnvalidated != nil {
		c.hooks.OnUnvalidated(c, err)
	}
}

// transition moves from -> to, it fails if the connection was closed in between
func (c *Connection[T]) transition(from, to State) bool {
	return c.state.CompareAndSwap(uint32(from), uint32(to))
}

// closeSocket closes the socket once, unblocking all i/o goroutines
func (c *Connection[T]) closeSocket() {
	c.closeOnce.Do(func() {
		c.sockOpen.Store(false)
		_ = c.sock.Close()
		c.metrics.ConnClosed()
	})
}

func (c *Connection[T]) markDone() {
	c.doneOnce.Do(func() { close(c.doneCh) })
}

// setDeadline arms (or with a zero timeout clears) the socket deadline
func (c *Connection[T]) setDeadline(timeout time.Duration) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.sock.SetDeadline(deadline); err != nil {
		Logger.Debugf("%d failed to set deadline: %v", c.ID(), err)
	}
}

// --------------------------------------------------------------------------
// Asynchronous i/o primitives
// --------------------------------------------------------------------------

// asyncRead fills buf on an i/o goroutine and runs then on the loop goroutine.
// then is skipped if the connection was closed without a failure report.
func (c *Connection[T]) asyncRead(buf []byte, then func(err error)) {
	go func() {
		_, err := io.ReadFull(c.sock, buf)
		c.loop.Post(func() {
			if c.State() == StateDisconnected {
				return
			}
			then(err)
		})
	}()
}

// asyncWrite writes bufs on an i/o goroutine and runs then on the loop goroutine
func (c *Connection[T]) asyncWrite(bufs net.Buffers, then func(err error)) {
	go func() {
		_, err := bufs.WriteTo(c.sock)
		c.loop.Post(func() {
			if c.State() == StateDisconnected {
				return
			}
			then(err)
		})
	}()
}
