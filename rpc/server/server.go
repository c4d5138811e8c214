package server

import (
	"context"
	"errors"
	"github.com/ValentinKolb/kqnet/lib/message"
	"github.com/ValentinKolb/kqnet/lib/util"
	"github.com/ValentinKolb/kqnet/rpc/common"
	"github.com/ValentinKolb/kqnet/rpc/connection"
	"github.com/ValentinKolb/kqnet/rpc/transport"
	"github.com/ValentinKolb/kqnet/rpc/transport/loop"
	"github.com/ValentinKolb/kqnet/rpc/transport/tcp"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

var Logger = logger.GetLogger(common.LoggerServer)

// Unbounded makes Update drain every message currently queued
const Unbounded = -1

// acceptRetryDelay throttles the accept loop after an accept error (e.g. EMFILE)
const acceptRetryDelay = 50 * time.Millisecond

// Server is the server endpoint: a listener, the loop driving all connections, the
// connection set and the queue of received messages.
//
// The connection set is only modified on the loop goroutine. All exported methods are
// safe to call from any goroutine, Update is meant to be called from one application
// goroutine.
type Server[T message.ID] struct {
	config    common.ServerConfig
	scramble  connection.ScrambleFunc
	handler   IServerHandler[T]
	connector transport.IServerConnector
	metrics   *common.ConnMetrics
	incoming  *util.ThreadSafeQueue[connection.OwnedMessage[T]]
	conns     *xsync.MapOf[uint32, *connection.Connection[T]]
	stats     atomic.Pointer[stats]

	// nextID is only accessed on the loop goroutine
	nextID uint32

	mu      sync.Mutex // serializes Start and Stop
	current atomic.Pointer[run]
}

// run holds the resources of one Start / Stop cycle
type run struct {
	loop       *loop.Loop
	listener   net.Listener
	acceptDone chan struct{}
}

// --------------------------------------------------------------------------
// Factory Methods
// --------------------------------------------------------------------------

// New creates a TCP server. scramble must match the one of the clients.
//
// Usage:
//
//	s := server.New[MsgID](scramble, common.DefaultServerConfig("0.0.0.0:60000"), handler)
//	if err := s.Start(); err != nil {
//		panic(err)
//	}
//	defer s.Stop()
//
//	for {
//		s.UpdateWait(ctx, server.Unbounded)
//	}
func New[T message.ID](scramble connection.ScrambleFunc, config common.ServerConfig, handler IServerHandler[T]) *Server[T] {
	return NewWithConnector[T](scramble, config, handler, tcp.NewTCPServerConnector())
}

// NewWithConnector creates a server using the given connector
func NewWithConnector[T message.ID](
	scramble connection.ScrambleFunc,
	config common.ServerConfig,
	handler IServerHandler[T],
	connector transport.IServerConnector,
) *Server[T] {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	if handler == nil {
		handler = BaseHandler[T]{}
	}
	firstID := config.FirstConnectionID
	if firstID == 0 {
		firstID = common.DefaultFirstConnectionID
	}

	return &Server[T]{
		config:    config,
		scramble:  scramble,
		handler:   handler,
		connector: connector,
		metrics:   common.NewConnMetrics("server"),
		incoming:  util.NewThreadSafeQueue[connection.OwnedMessage[T]](),
		conns:     xsync.NewMapOf[uint32, *connection.Connection[T]](),
		nextID:    firstID,
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start binds the listener and starts accepting connections.
// Bind errors wrap common.ErrBind, starting a running server returns common.ErrAlreadyRunning.
func (s *Server[T]) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.Load() != nil {
		return common.ErrAlreadyRunning
	}

	listener, err := s.connector.Listen(s.config.Endpoint)
	if err != nil {
		Logger.Errorf("Failed to listen on %s: %v", s.config.Endpoint, err)
		return err
	}

	r := &run{
		loop:       loop.New("server"),
		listener:   listener,
		acceptDone: make(chan struct{}),
	}
	s.stats.Store(newStats())
	r.loop.Start()
	s.current.Store(r)

	go s.acceptLoop(r)

	Logger.Infof("Server started on %s (%s)", listener.Addr(), s.connector.GetName())
	Logger.Debugf("%s", s.config.String())
	return nil
}

// Stop closes the listener, stops the loop and closes every connection without firing
// callbacks. No handler method except OnMessage (from a concurrent Update) runs after
// Stop returned. Messages already queued stay available to Update.
func (s *Server[T]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.current.Swap(nil)
	if r == nil {
		return
	}

	_ = r.listener.Close()
	<-r.acceptDone
	r.loop.Stop()

	closed := 0
	s.conns.Range(func(id uint32, c *connection.Connection[T]) bool {
		c.Close()
		s.conns.Delete(id)
		closed++
		return true
	})
	if st := s.stats.Load(); st != nil {
		st.stop()
	}

	Logger.Infof("Server stopped, closed %d connections", closed)
}

// Addr returns the address the server listens on, nil if it is not running
func (s *Server[T]) Addr() net.Addr {
	r := s.current.Load()
	if r == nil {
		return nil
	}
	return r.listener.Addr()
}

// acceptLoop runs on its own goroutine until the listener is closed. Each accepted
// socket is handed to the loop, an accept error never ends the loop.
func (s *Server[T]) acceptLoop(r *run) {
	defer close(r.acceptDone)

	for {
		sock, err := r.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			Logger.Warningf("Accept failed: %v", err)
			time.Sleep(acceptRetryDelay)
			continue
		}

		if err := s.connector.UpgradeConnection(sock, s.config.Conn); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", sock.RemoteAddr(), err)
		}

		if !r.loop.Post(func() { s.onAccept(r.loop, sock) }) {
			_ = sock.Close()
			return
		}
	}
}

// onAccept runs on the loop goroutine
func (s *Server[T]) onAccept(lp *loop.Loop, sock net.Conn) {
	conn := connection.New(sock, connection.Options[T]{
		Owner:    connection.OwnerServer,
		Loop:     lp,
		Incoming: s.incoming,
		Scramble: s.scramble,
		Config:   s.config.Conn,
		Metrics:  s.metrics,
		Hooks: connection.Hooks[T]{
			OnValidated: s.onValidated,
			OnUnvalidated: func(c *connection.Connection[T], err error) {
				s.removeUnvalidated(c)
			},
			OnDisconnected: func(c *connection.Connection[T], err error) {
				s.removeEstablished(c)
			},
		},
	})

	st := s.stats.Load()
	if !s.handler.OnClientConnect(conn) {
		Logger.Infof("Connection from %s denied", sock.RemoteAddr())
		st.denied.Inc(1)
		conn.Close()
		return
	}
	st.accepted.Inc(1)

	id := s.nextID
	s.nextID++
	s.conns.Store(id, conn)
	Logger.Infof("%d new connection from %s", id, sock.RemoteAddr())
	conn.ConnectToClient(id)
}

// --------------------------------------------------------------------------
// Connection set (loop goroutine)
// --------------------------------------------------------------------------

func (s *Server[T]) onValidated(c *connection.Connection[T]) {
	Logger.Infof("%d validated", c.ID())
	s.handler.OnClientValidated(c)
}

// remove deletes c from the set. It reports false if c was not (or no longer) a member.
func (s *Server[T]) remove(c *connection.Connection[T]) bool {
	if c == nil {
		return false
	}
	current, ok := s.conns.Load(c.ID())
	if !ok || current != c {
		return false
	}
	s.conns.Delete(c.ID())
	c.Close()
	return true
}

// removeEstablished removes c and fires OnClientDisconnect
func (s *Server[T]) removeEstablished(c *connection.Connection[T]) {
	if !s.remove(c) {
		return
	}
	Logger.Infof("%d removed", c.ID())
	s.handler.OnClientDisconnect(c)
}

// removeUnvalidated removes c and fires OnClientUnvalidated
func (s *Server[T]) removeUnvalidated(c *connection.Connection[T]) {
	if !s.remove(c) {
		return
	}
	Logger.Infof("%d removed before validation", c.ID())
	s.handler.OnClientUnvalidated(c)
}

// --------------------------------------------------------------------------
// Messaging
// --------------------------------------------------------------------------

// MessageClient sends a copy of msg to c. If c is no longer connected it is removed
// and OnClientDisconnect fires instead.
func (s *Server[T]) MessageClient(c *connection.Connection[T], msg *message.Message[T]) error {
	if c == nil || msg == nil {
		return errors.New("nil connection or message")
	}
	m := msg.Clone()
	return s.post(func() {
		if !c.IsConnected() {
			s.removeEstablished(c)
			return
		}
		_ = c.Send(m)
	})
}

// Broadcast sends a copy of msg to every validated connection except exclude (which may
// be nil). Connections found dead are removed after the scan and fire
// OnClientDisconnect once each. Connections still handshaking are skipped, but one
// found dead mid-handshake is removed the same way and fires OnClientDisconnect, not
// OnClientUnvalidated.
func (s *Server[T]) Broadcast(msg *message.Message[T], exclude *connection.Connection[T]) error {
	if msg == nil {
		return errors.New("nil message")
	}
	m := msg.Clone()
	return s.post(func() { s.broadcast(m, exclude) })
}

// MessageAllClients is an alias of Broadcast
func (s *Server[T]) MessageAllClients(msg *message.Message[T], exclude *connection.Connection[T]) error {
	return s.Broadcast(msg, exclude)
}

// broadcast runs on the loop goroutine
func (s *Server[T]) broadcast(msg *message.Message[T], exclude *connection.Connection[T]) {
	var dead []*connection.Connection[T]
	s.conns.Range(func(_ uint32, c *connection.Connection[T]) bool {
		switch {
		case c == exclude:
		case !c.IsConnected():
			dead = append(dead, c)
		case c.IsValidated():
			_ = c.Send(msg)
		}
		return true
	})

	for _, c := range dead {
		s.removeEstablished(c)
	}
}

// Kick removes c and fires OnClientDisconnect
func (s *Server[T]) Kick(c *connection.Connection[T]) error {
	return s.post(func() { s.removeEstablished(c) })
}

// post never takes mu, handlers may call it from the loop goroutine while Stop waits
// for that loop
func (s *Server[T]) post(fn loop.Task) error {
	r := s.current.Load()
	if r == nil || !r.loop.Post(fn) {
		return common.ErrStopped
	}
	return nil
}

// --------------------------------------------------------------------------
// Message handling (application goroutine)
// --------------------------------------------------------------------------

// Update calls OnMessage for up to maxMessages queued messages (Unbounded for all of them) in
// arrival order and returns the number handled. It never waits for new messages.
func (s *Server[T]) Update(maxMessages int) int {
	if maxMessages == 0 {
		return 0
	}
	batch := s.incoming.Drain(maxMessages)
	for _, m := range batch {
		s.dispatch(m)
	}
	return len(batch)
}

// UpdateWait blocks until at least one message is queued or ctx is done, then behaves
// like Update
func (s *Server[T]) UpdateWait(ctx context.Context, maxMessages int) (int, error) {
	if maxMessages == 0 {
		return 0, nil
	}
	first, err := s.incoming.WaitPopFront(ctx)
	if err != nil {
		return 0, err
	}
	s.dispatch(first)

	if maxMessages != Unbounded {
		maxMessages--
	}
	return 1 + s.Update(maxMessages), nil
}

func (s *Server[T]) dispatch(m connection.OwnedMessage[T]) {
	if st := s.stats.Load(); st != nil {
		st.messages.Mark(1)
		st.payload.Update(int64(m.Msg.Size()))
	}
	s.handler.OnMessage(m.Remote, m.Msg)
}

// --------------------------------------------------------------------------
// Inspection
// --------------------------------------------------------------------------

// Connections returns a snapshot of the connection set
func (s *Server[T]) Connections() []*connection.Connection[T] {
	conns := make([]*connection.Connection[T], 0, s.conns.Size())
	s.conns.Range(func(_ uint32, c *connection.Connection[T]) bool {
		conns = append(conns, c)
		return true
	})
	return conns
}

// ConnectionCount returns the size of the connection set
func (s *Server[T]) ConnectionCount() int {
	return s.conns.Size()
}

// Stats returns a snapshot of the statistics of the current (or last) run
func (s *Server[T]) Stats() Stats {
	st := s.stats.Load()
	if st == nil {
		return Stats{Connections: s.conns.Size()}
	}
	return st.snapshot(s.conns.Size())
}
