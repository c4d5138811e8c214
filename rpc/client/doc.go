// Package client implements the client endpoint of kqnet.
//
// A Client owns one connection to a server and the event loop driving it. Connect
// resolves and dials synchronously, the validation handshake then runs in the
// background. Received messages are appended to the Incoming queue, which the
// application drains at its own pace.
//
// Usage Example:
//
//	c := client.New[MsgID](scramble, common.DefaultClientConfig())
//	if err := c.Connect(ctx, "localhost", 60000); err != nil {
//		return err
//	}
//	defer c.Disconnect()
//
//	if err := c.WaitValidated(ctx); err != nil {
//		return err // rejected by the server
//	}
//
//	_ = c.Send(message.New(RequestAccept))
//	reply, err := c.Incoming().WaitPopFront(ctx)
//
// The client is never told why a connection ended. A rejected handshake and a server
// that went away both surface as IsConnected() == false and a closed Done channel.
package client
