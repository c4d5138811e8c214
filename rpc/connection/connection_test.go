package connection

import (
	"context"
	"errors"
	"github.com/ValentinKolb/kqnet/lib/message"
	"github.com/ValentinKolb/kqnet/lib/util"
	"github.com/ValentinKolb/kqnet/rpc/common"
	"github.com/ValentinKolb/kqnet/rpc/transport/loop"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

type testID uint16

const (
	idPing testID = iota + 1
	idPong
)

func scramble(x uint64) uint64 {
	return (x ^ 0xA5A5A5A5A5A5A5A5) * 31
}

// endpoint bundles the loop, the incoming queue and the hook events of one side
type endpoint struct {
	name        string
	loop        *loop.Loop
	incoming    *util.ThreadSafeQueue[OwnedMessage[testID]]
	validated   chan *Connection[testID]
	unvalidated chan error
	closed      chan error
	hookCalls   atomic.Int32
}

func newEndpoint(t *testing.T, name string) *endpoint {
	t.Helper()
	e := &endpoint{
		name:        name,
		loop:        loop.New(name),
		incoming:    util.NewThreadSafeQueue[OwnedMessage[testID]](),
		validated:   make(chan *Connection[testID], 4),
		unvalidated: make(chan error, 4),
		closed:      make(chan error, 4),
	}
	e.loop.Start()
	t.Cleanup(e.loop.Stop)
	return e
}

func (e *endpoint) options(owner Owner, f ScrambleFunc, conf common.ConnConfig) Options[testID] {
	return Options[testID]{
		Owner:    owner,
		Loop:     e.loop,
		Incoming: e.incoming,
		Scramble: f,
		Config:   conf,
		Hooks: Hooks[testID]{
			OnValidated: func(c *Connection[testID]) { e.validated <- c },
			OnUnvalidated: func(c *Connection[testID], err error) {
				e.hookCalls.Add(1)
				e.unvalidated <- err
			},
			OnDisconnected: func(c *Connection[testID], err error) {
				e.hookCalls.Add(1)
				e.closed <- err
			},
		},
	}
}

// socketPair returns both ends of a loopback tcp connection
func socketPair(t *testing.T) (server net.Conn, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	server, ok := <-accepted
	if !ok {
		t.Fatalf("Accept failed")
	}
	return server, client
}

type pair struct {
	srv, cli         *endpoint
	srvConn, cliConn *Connection[testID]
}

// connect creates both connections and starts the handshake on their loops
func connect(t *testing.T, serverScramble, clientScramble ScrambleFunc, srvConf, cliConf common.ConnConfig) *pair {
	t.Helper()
	p := &pair{srv: newEndpoint(t, "server"), cli: newEndpoint(t, "client")}
	s, c := socketPair(t)

	p.srvConn = New(s, p.srv.options(OwnerServer, serverScramble, srvConf))
	p.cliConn = New(c, p.cli.options(OwnerClient, clientScramble, cliConf))
	t.Cleanup(p.srvConn.Close)
	t.Cleanup(p.cliConn.Close)

	p.srv.loop.Post(func() { p.srvConn.ConnectToClient(1000) })
	p.cli.loop.Post(p.cliConn.ConnectToServer)
	return p
}

func waitValidated(t *testing.T, p *pair) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.srvConn.WaitValidated(ctx); err != nil {
		t.Fatalf("Server side not validated: %v", err)
	}
	if err := p.cliConn.WaitValidated(ctx); err != nil {
		t.Fatalf("Client side not validated: %v", err)
	}
}

func waitMessage(t *testing.T, q *util.ThreadSafeQueue[OwnedMessage[testID]]) OwnedMessage[testID] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m, err := q.WaitPopFront(ctx)
	if err != nil {
		t.Fatalf("No message received: %v", err)
	}
	return m
}

// TestHandshakeAndStreaming tests validation with matching scrambles and message
// exchange in both directions
func TestHandshakeAndStreaming(t *testing.T) {
	conf := common.DefaultConnConfig()
	p := connect(t, scramble, scramble, conf, conf)
	waitValidated(t, p)

	if !p.srvConn.IsValidated() || !p.cliConn.IsValidated() {
		t.Fatalf("Expected both sides to be validated")
	}
	if p.srvConn.ID() != 1000 {
		t.Errorf("Expected id 1000, got %d", p.srvConn.ID())
	}
	if p.srvConn.State() != StateStreaming || p.cliConn.State() != StateStreaming {
		t.Errorf("Expected streaming, got %s / %s", p.srvConn.State(), p.cliConn.State())
	}

	for i := uint32(0); i < 10; i++ {
		m := message.New(idPing)
		if err := message.Append(m, i); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if err := p.cliConn.Send(m); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	for i := uint32(0); i < 10; i++ {
		owned := waitMessage(t, p.srv.incoming)
		if owned.Remote != p.srvConn {
			t.Fatalf("Expected the server connection as remote")
		}
		var got uint32
		if err := message.Extract(owned.Msg, &got); err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if got != i {
			t.Fatalf("Expected message %d, got %d", i, got)
		}
	}

	if err := p.srvConn.Send(message.New(idPong)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	reply := waitMessage(t, p.cli.incoming)
	if reply.Remote != nil {
		t.Errorf("Client side messages carry no remote")
	}
	if reply.Msg.ID() != idPong || reply.Msg.Size() != 0 {
		t.Errorf("Expected empty pong, got %s", reply.Msg)
	}

	select {
	case <-p.srv.validated:
	case <-time.After(time.Second):
		t.Errorf("OnValidated did not fire on the server")
	}
}

// TestHandshakeMismatch tests that a wrong response closes the connection without a reply
func TestHandshakeMismatch(t *testing.T) {
	conf := common.DefaultConnConfig()
	wrong := func(x uint64) uint64 { return scramble(x) + 1 }
	p := connect(t, scramble, wrong, conf, conf)

	select {
	case err := <-p.srv.unvalidated:
		if !errors.Is(err, common.ErrValidationFailure) {
			t.Errorf("Expected ErrValidationFailure, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Server did not report the failed validation")
	}

	select {
	case err := <-p.cli.unvalidated:
		if !errors.Is(err, common.ErrValidationFailure) {
			t.Errorf("Expected ErrValidationFailure on the client, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Client did not notice the closed socket")
	}

	if p.srvConn.IsConnected() || p.cliConn.IsConnected() {
		t.Errorf("Expected both sides to be disconnected")
	}
	if p.cliConn.IsValidated() {
		t.Errorf("Client must never be validated")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.cliConn.WaitValidated(ctx); !errors.Is(err, common.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if n := p.srv.hookCalls.Load(); n != 1 {
		t.Errorf("Expected exactly one server hook call, got %d", n)
	}
}

// TestSendBeforeValidation tests that messages sent during the handshake are delivered
// in order once streaming begins
func TestSendBeforeValidation(t *testing.T) {
	conf := common.DefaultConnConfig()
	p := connect(t, scramble, scramble, conf, conf)

	for i := uint8(0); i < 5; i++ {
		m := message.New(idPing)
		_ = message.Append(m, i)
		if err := p.cliConn.Send(m); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	for i := uint8(0); i < 5; i++ {
		var got uint8
		if err := message.Extract(waitMessage(t, p.srv.incoming).Msg, &got); err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if got != i {
			t.Fatalf("Expected %d, got %d", i, got)
		}
	}
}

// TestSendCopiesMessage tests that the caller may reuse a message after Send
func TestSendCopiesMessage(t *testing.T) {
	conf := common.DefaultConnConfig()
	p := connect(t, scramble, scramble, conf, conf)
	waitValidated(t, p)

	m := message.New(idPing)
	_ = message.AppendString(m, "first")
	_ = p.cliConn.Send(m)
	m.Reset()
	_ = message.AppendString(m, "second")
	_ = p.cliConn.Send(m)

	for _, want := range []string{"first", "second"} {
		got, err := message.ExtractString(waitMessage(t, p.srv.incoming).Msg)
		if err != nil {
			t.Fatalf("ExtractString failed: %v", err)
		}
		if got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}

// TestDisconnectHooks tests that a disconnect while streaming fires OnDisconnected once
// on both sides and that the connection rejects further sends
func TestDisconnectHooks(t *testing.T) {
	conf := common.DefaultConnConfig()
	p := connect(t, scramble, scramble, conf, conf)
	waitValidated(t, p)

	p.cliConn.Disconnect()
	p.cliConn.Disconnect()

	for _, e := range []*endpoint{p.cli, p.srv} {
		select {
		case <-e.closed:
		case <-time.After(5 * time.Second):
			t.Fatalf("OnDisconnected did not fire on %s", e.name)
		}
	}

	select {
	case <-p.cliConn.Done():
	case <-time.After(time.Second):
		t.Fatalf("Done not closed")
	}

	if err := p.cliConn.Send(message.New(idPing)); !errors.Is(err, common.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}

	// give stray completions a chance to fire a second hook
	_ = p.srv.loop.Call(context.Background(), func() {})
	_ = p.cli.loop.Call(context.Background(), func() {})
	if p.srv.hookCalls.Load() != 1 || p.cli.hookCalls.Load() != 1 {
		t.Errorf("Expected one hook per side, got server=%d client=%d",
			p.srv.hookCalls.Load(), p.cli.hookCalls.Load())
	}
}

// TestCloseSkipsHooks tests that Close ends a connection silently
func TestCloseSkipsHooks(t *testing.T) {
	conf := common.DefaultConnConfig()
	p := connect(t, scramble, scramble, conf, conf)
	waitValidated(t, p)

	p.srvConn.Close()
	p.srvConn.Close()
	if p.srvConn.State() != StateDisconnected || p.srvConn.IsConnected() {
		t.Fatalf("Expected a disconnected connection, got %s", p.srvConn.State())
	}

	select {
	case <-p.cli.closed:
	case <-time.After(5 * time.Second):
		t.Fatalf("Client did not notice the closed socket")
	}

	_ = p.srv.loop.Call(context.Background(), func() {})
	if n := p.srv.hookCalls.Load(); n != 0 {
		t.Errorf("Expected no server hook, got %d", n)
	}
}

// TestPayloadLimit tests that a header announcing more than MaxPayloadBytes ends the
// connection with ErrPayloadTooLarge
func TestPayloadLimit(t *testing.T) {
	srvConf := common.DefaultConnConfig()
	srvConf.MaxPayloadBytes = 4
	p := connect(t, scramble, scramble, srvConf, common.DefaultConnConfig())
	waitValidated(t, p)

	m := message.New(idPing)
	_ = message.AppendBytes(m, make([]byte, 16))
	_ = p.cliConn.Send(m)

	select {
	case err := <-p.srv.closed:
		if !errors.Is(err, common.ErrPayloadTooLarge) || !errors.Is(err, common.ErrIO) {
			t.Errorf("Expected ErrIO and ErrPayloadTooLarge, got %v", err)
		}
		if errors.Is(err, message.ErrPayloadOverflow) {
			t.Errorf("The frame limit must not report the message size overflow: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Oversized frame was not rejected")
	}
}

// TestHandshakeTimeout tests that a silent peer is dropped after the handshake deadline
func TestHandshakeTimeout(t *testing.T) {
	e := newEndpoint(t, "server")
	s, c := socketPair(t)
	defer c.Close()

	conf := common.DefaultConnConfig()
	conf.HandshakeTimeoutSecond = 1
	conn := New(s, e.options(OwnerServer, scramble, conf))
	e.loop.Post(func() { conn.ConnectToClient(1000) })

	select {
	case err := <-e.unvalidated:
		if !errors.Is(err, common.ErrIO) {
			t.Errorf("Expected ErrIO, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Handshake deadline did not fire")
	}
}

// TestStateString tests the state names
func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateCreated:              "Created",
		StateAwaitingConfirmation: "AwaitingConfirmation",
		StateStreaming:            "Streaming",
		StateDisconnected:         "Disconnected",
		State(99):                 "State(99)",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("Expected %q, got %q", want, s.String())
		}
	}
	if OwnerServer.String() != "server" {
		t.Errorf("Unexpected owner name %q", OwnerServer)
	}
}
