package server

import (
	"github.com/ValentinKolb/kqnet/lib/message"
	"github.com/ValentinKolb/kqnet/rpc/connection"
)

// IServerHandler is the capability set a server application provides.
//
// OnMessage runs on the goroutine calling Server.Update, every other method runs on
// the loop goroutine of the server. None of them run concurrently with another call of
// the same group.
type IServerHandler[T message.ID] interface {
	// OnClientConnect decides whether an accepted socket may start the handshake.
	// The connection has no id yet. Returning false closes the socket.
	OnClientConnect(c *connection.Connection[T]) bool

	// OnClientDisconnect fires once when a validated connection is removed
	// (peer closed, i/o error, Kick, or found dead while sending)
	OnClientDisconnect(c *connection.Connection[T])

	// OnClientValidated fires once when the handshake of a connection succeeded
	OnClientValidated(c *connection.Connection[T])

	// OnClientUnvalidated fires once when a connection ended before validation
	OnClientUnvalidated(c *connection.Connection[T])

	// OnMessage handles one received message, see Server.Update
	OnMessage(c *connection.Connection[T], msg *message.Message[T])
}

// BaseHandler accepts every connection and ignores all events.
// Embed it to implement only the methods you need.
type BaseHandler[T message.ID] struct{}

func (BaseHandler[T]) OnClientConnect(*connection.Connection[T]) bool { return true }

func (BaseHandler[T]) OnClientDisconnect(*connection.Connection[T]) {}

func (BaseHandler[T]) OnClientValidated(*connection.Connection[T]) {}

func (BaseHandler[T]) OnClientUnvalidated(*connection.Connection[T]) {}

func (BaseHandler[T]) OnMessage(*connection.Connection[T], *message.Message[T]) {}
