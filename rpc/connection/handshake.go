package connection

import (
	"fmt"
	"github.com/ValentinKolb/kqnet/lib/message"
	"github.com/ValentinKolb/kqnet/rpc/common"
	"net"
)

const (
	challengeLen = 8
	// validationOK is the only confirmation value, a failed validation sends nothing
	validationOK byte = 0x01
)

// ConnectToClient starts the server side of the handshake: the challenge is written,
// then the scrambled response is read and compared.
// Must be called on the loop goroutine.
func (c *Connection[T]) ConnectToClient(id uint32) {
	if c.owner != OwnerServer {
		Logger.Errorf("ConnectToClient called on a %s connection", c.owner)
		return
	}
	c.id.Store(id)
	if !c.transition(StateCreated, StateAwaitingChallengeSent) {
		return
	}
	c.setDeadline(c.config.HandshakeTimeout())

	buf := message.ByteOrder.AppendUint64(make([]byte, 0, challengeLen), c.challenge)
	c.writing = true
	c.asyncWrite(net.Buffers{buf}, func(err error) {
		c.writing = false
		if err != nil {
			c.fail(fmt.Errorf("%w: write challenge: %w", common.ErrIO, err))
			return
		}
		if !c.transition(StateAwaitingChallengeSent, StateAwaitingResponse) {
			return
		}
		c.readResponse()
	})
}

func (c *Connection[T]) readResponse() {
	buf := make([]byte, challengeLen)
	c.asyncRead(buf, func(err error) {
		if err != nil {
			c.fail(fmt.Errorf("%w: read response: %w", common.ErrIO, err))
			return
		}
		c.response = message.ByteOrder.Uint64(buf)
		if c.response != c.expected {
			// close without a reply, the client learns about it through the closed socket
			c.fail(fmt.Errorf("%w: client %s sent %#x", common.ErrValidationFailure, c.remote, c.response))
			return
		}
		if !c.transition(StateAwaitingResponse, StateStreaming) {
			return
		}
		c.validated.Store(true)

		c.writing = true
		c.asyncWrite(net.Buffers{{validationOK}}, func(err error) {
			c.writing = false
			if err != nil {
				c.fail(fmt.Errorf("%w: write confirmation: %w", common.ErrIO, err))
				return
			}
			c.beginStreaming()
		})
	})
}

// ConnectToServer starts the client side of the handshake: the challenge is read,
// scrambled and written back, then the confirmation flag is read.
// Must be called on the loop goroutine.
func (c *Connection[T]) ConnectToServer() {
	if c.owner != OwnerClient {
		Logger.Errorf("ConnectToServer called on a %s connection", c.owner)
		return
	}
	if !c.transition(StateCreated, StateAwaitingChallenge) {
		return
	}
	c.setDeadline(c.config.HandshakeTimeout())

	buf := make([]byte, challengeLen)
	c.asyncRead(buf, func(err error) {
		if err != nil {
			c.fail(fmt.Errorf("%w: read challenge: %w", common.ErrIO, err))
			return
		}
		c.challenge = message.ByteOrder.Uint64(buf)
		c.response = c.scramble(c.challenge)
		if !c.transition(StateAwaitingChallenge, StateRespondingChallenge) {
			return
		}

		out := message.ByteOrder.AppendUint64(make([]byte, 0, challengeLen), c.response)
		c.writing = true
		c.asyncWrite(net.Buffers{out}, func(err error) {
			c.writing = false
			if err != nil {
				c.fail(fmt.Errorf("%w: write response: %w", common.ErrIO, err))
				return
			}
			if !c.transition(StateRespondingChallenge, StateAwaitingConfirmation) {
				return
			}
			c.readConfirmation()
		})
	})
}

func (c *Connection[T]) readConfirmation() {
	flag := make([]byte, 1)
	c.asyncRead(flag, func(err error) {
		if err != nil {
			// a rejected client sees the server closing the socket here
			c.fail(fmt.Errorf("%w: read confirmation: %w", common.ErrValidationFailure, err))
			return
		}
		if flag[0] != validationOK {
			c.fail(fmt.Errorf("%w: unexpected confirmation %#x", common.ErrValidationFailure, flag[0]))
			return
		}
		if !c.transition(StateAwaitingConfirmation, StateStreaming) {
			return
		}
		c.validated.Store(true)
		c.beginStreaming()
	})
}

// beginStreaming runs once per connection after a successful handshake
func (c *Connection[T]) beginStreaming() {
	c.setDeadline(0)
	c.metrics.HandshakesOK.Inc()
	close(c.validatedCh)
	Logger.Debugf("%d validated %s", c.ID(), c.remote)

	if c.hooks.OnValidated != nil {
		c.hooks.OnValidated(c)
	}
	if c.State() != StateStreaming {
		// the hook may have ended the connection
		return
	}
	c.readHeader()
	c.startWriter()
}
