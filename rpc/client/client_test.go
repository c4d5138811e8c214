package client

import (
	"context"
	"errors"
	"github.com/ValentinKolb/kqnet/lib/message"
	"github.com/ValentinKolb/kqnet/rpc/common"
	"io"
	"net"
	"testing"
	"time"
)

type testID uint8

const (
	idHello testID = iota + 1
	idWelcome
)

func scramble(x uint64) uint64 {
	return x ^ 0x0123456789ABCDEF
}

// rawServer speaks the server side of the handshake by hand.
// accept decides whether a correct response is confirmed.
func rawServer(t *testing.T, accept bool, handle func(conn net.Conn)) (host string, port uint16) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				challenge := uint64(0xCAFEBABE12345678)
				if _, err := conn.Write(message.ByteOrder.AppendUint64(nil, challenge)); err != nil {
					return
				}
				buf := make([]byte, 8)
				if _, err := io.ReadFull(conn, buf); err != nil {
					return
				}
				if message.ByteOrder.Uint64(buf) != scramble(challenge) || !accept {
					return
				}
				if _, err := conn.Write([]byte{0x01}); err != nil {
					return
				}
				if handle != nil {
					handle(conn)
				}
			}()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", uint16(addr.Port)
}

func newClient(t *testing.T) *Client[testID] {
	t.Helper()
	c := New[testID](scramble, common.DefaultClientConfig())
	t.Cleanup(c.Disconnect)
	return c
}

// TestWireFormat tests the handshake and the frame layout against a hand written server
func TestWireFormat(t *testing.T) {
	frames := make(chan []byte, 1)
	host, port := rawServer(t, true, func(conn net.Conn) {
		// id (1 byte) + size (4 bytes) + payload
		frame := make([]byte, 1+4+2)
		if _, err := io.ReadFull(conn, frame); err != nil {
			return
		}
		frames <- frame
		_, _ = conn.Write([]byte{byte(idWelcome), 0, 0, 0, 1, 0x2A})
		_, _ = io.Copy(io.Discard, conn)
	})

	c := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx, host, port); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.WaitValidated(ctx); err != nil {
		t.Fatalf("WaitValidated failed: %v", err)
	}
	if !c.IsValidated() || !c.IsConnected() {
		t.Fatalf("Expected a validated client")
	}

	m := message.New(idHello)
	_ = message.Append(m, uint16(0xBEEF))
	if err := c.Send(m); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case frame := <-frames:
		want := []byte{byte(idHello), 0, 0, 0, 2, 0xBE, 0xEF}
		if string(frame) != string(want) {
			t.Errorf("Expected frame %x, got %x", want, frame)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Server received no frame")
	}

	reply, err := c.Incoming().WaitPopFront(ctx)
	if err != nil {
		t.Fatalf("No reply: %v", err)
	}
	var v uint8
	if err := message.Extract(reply.Msg, &v); err != nil || v != 0x2A {
		t.Errorf("Expected payload 0x2A, got %#x (%v)", v, err)
	}
	if reply.Msg.ID() != idWelcome {
		t.Errorf("Expected id %d, got %d", idWelcome, reply.Msg.ID())
	}
}

// TestRejected tests that a server closing the socket after the response leaves the
// client disconnected
func TestRejected(t *testing.T) {
	host, port := rawServer(t, false, nil)
	c := newClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx, host, port); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.WaitValidated(ctx); !errors.Is(err, common.ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected, got %v", err)
	}
	if c.IsConnected() || c.IsValidated() {
		t.Errorf("Rejected client must not be connected")
	}
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Errorf("Done not closed")
	}
}

// TestConnectRefused tests that a closed port reports ErrConnect
func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	c := newClient(t)
	err = c.Connect(context.Background(), "127.0.0.1", uint16(port))
	if !errors.Is(err, common.ErrConnect) {
		t.Fatalf("Expected ErrConnect, got %v", err)
	}
	if c.IsConnected() {
		t.Errorf("Client must stay disconnected")
	}
	if err := c.Send(message.New(idHello)); !errors.Is(err, common.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

// TestResolveFailure tests that an unknown host reports ErrResolution
func TestResolveFailure(t *testing.T) {
	c := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Connect(ctx, "host.invalid", 60000)
	if !errors.Is(err, common.ErrResolution) {
		t.Fatalf("Expected ErrResolution, got %v", err)
	}
}

// TestConnectedAfterConnect tests that the client reports a handshake in progress as
// soon as Connect returned, before the server confirmed it
func TestConnectedAfterConnect(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	host, port := rawServer(t, true, func(conn net.Conn) {
		<-release
	})
	c := newClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for round := 0; round < 50; round++ {
		if err := c.Connect(ctx, host, port); err != nil {
			t.Fatalf("Round %d: Connect failed: %v", round, err)
		}
		if !c.IsConnected() {
			t.Fatalf("Round %d: expected IsConnected right after Connect", round)
		}
		c.Disconnect()
		if c.IsConnected() {
			t.Fatalf("Round %d: still connected after Disconnect", round)
		}
	}
}

// TestDisconnectAndReconnect tests repeated Disconnect calls and a second Connect
func TestDisconnectAndReconnect(t *testing.T) {
	host, port := rawServer(t, true, func(conn net.Conn) {
		_, _ = io.Copy(io.Discard, conn)
	})
	c := newClient(t)

	// before Connect
	c.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for round := 0; round < 2; round++ {
		if err := c.Connect(ctx, host, port); err != nil {
			t.Fatalf("Round %d: Connect failed: %v", round, err)
		}
		if err := c.Connect(ctx, host, port); !errors.Is(err, common.ErrAlreadyRunning) {
			t.Errorf("Round %d: expected ErrAlreadyRunning, got %v", round, err)
		}
		if err := c.WaitValidated(ctx); err != nil {
			t.Fatalf("Round %d: WaitValidated failed: %v", round, err)
		}
		c.Disconnect()
		c.Disconnect()
		if c.IsConnected() {
			t.Fatalf("Round %d: still connected after Disconnect", round)
		}
	}
}
