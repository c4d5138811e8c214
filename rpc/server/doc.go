// Package server implements the server endpoint of kqnet.
//
// A Server accepts TCP connections, runs the validation handshake on each of them and
// collects received messages in one queue. The application drains that queue with
// Update (or UpdateWait), which calls IServerHandler.OnMessage once per message.
//
// Key Components:
//
//   - Server: owns the listener, the accept goroutine, the event loop (see
//     transport/loop) and the connection set. Connection ids are assigned from a server
//     local counter starting at ServerConfig.FirstConnectionID (1000 by default).
//
//   - IServerHandler: the five application callbacks. Embed BaseHandler to implement
//     only some of them.
//
//   - Stats: in-process statistics (message meter and payload size histogram) of the
//     current run. Process wide Prometheus counters are kept by common.ConnMetrics.
//
// Connection removal:
//
// A connection leaves the set exactly once. A connection that ends while streaming, is
// kicked, or is found dead by MessageClient / Broadcast fires OnClientDisconnect. A
// connection that ends during the handshake fires OnClientUnvalidated. Stop closes the
// remaining connections without callbacks.
//
// Usage Example:
//
//	type handler struct {
//		server.BaseHandler[MsgID]
//		srv *server.Server[MsgID]
//	}
//
//	func (h *handler) OnMessage(c *connection.Connection[MsgID], m *message.Message[MsgID]) {
//		if m.ID() == Ping {
//			_ = h.srv.MessageClient(c, message.New(Pong))
//		}
//	}
//
//	h := &handler{}
//	h.srv = server.New[MsgID](scramble, common.DefaultServerConfig(":60000"), h)
//	if err := h.srv.Start(); err != nil {
//		log.Fatal(err)
//	}
//	for {
//		_, _ = h.srv.UpdateWait(ctx, server.Unbounded)
//	}
package server
