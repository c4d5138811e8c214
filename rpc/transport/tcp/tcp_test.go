package tcp

import (
	"context"
	"errors"
	"github.com/ValentinKolb/kqnet/rpc/common"
	"net"
	"strconv"
	"testing"
	"time"
)

// TestListenConnect tests a full resolve / connect / accept cycle on loopback
func TestListenConnect(t *testing.T) {
	server := NewTCPServerConnector()
	listener, err := server.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	client := NewTCPClientConnector()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	addrs, err := client.Resolve(ctx, "127.0.0.1", uint16(port))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(addrs) != 1 || addrs[0] != "127.0.0.1:"+strconv.Itoa(port) {
		t.Fatalf("Unexpected addresses %v", addrs)
	}

	conn, err := client.Connect(ctx, addrs)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	conf := common.DefaultConnConfig()
	conf.TCPConf.TCPKeepAliveSec = 10
	conf.SocketConf.ReadBufferSize = 64 * 1024
	if err := client.UpgradeConnection(conn, conf); err != nil {
		t.Errorf("UpgradeConnection failed: %v", err)
	}

	select {
	case sc := <-accepted:
		if err := server.UpgradeConnection(sc, conf); err != nil {
			t.Errorf("UpgradeConnection failed on server side: %v", err)
		}
		sc.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for accept")
	}
}

// TestErrorKinds tests that failures carry the right sentinel error
func TestErrorKinds(t *testing.T) {
	server := NewTCPServerConnector()
	listener, err := server.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	// binding the same address again must fail
	if _, err := server.Listen(listener.Addr().String()); !errors.Is(err, common.ErrBind) {
		t.Errorf("Expected ErrBind, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := NewTCPClientConnector()
	if _, err := client.Resolve(ctx, "host.invalid", 1); !errors.Is(err, common.ErrResolution) {
		t.Errorf("Expected ErrResolution, got %v", err)
	}

	// grab a free port and close it again so nothing listens there
	tmp, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := tmp.Addr().String()
	tmp.Close()

	if _, err := client.Connect(ctx, []string{addr}); !errors.Is(err, common.ErrConnect) {
		t.Errorf("Expected ErrConnect, got %v", err)
	}
	if _, err := client.Connect(ctx, nil); !errors.Is(err, common.ErrConnect) {
		t.Errorf("Expected ErrConnect for empty address list, got %v", err)
	}
}
