package connection

import (
	"fmt"
	"github.com/ValentinKolb/kqnet/lib/message"
	"github.com/ValentinKolb/kqnet/rpc/common"
	"net"
)

// --------------------------------------------------------------------------
// Read pump (loop goroutine)
// --------------------------------------------------------------------------

// readHeader reads the next frame header. Zero sized frames are delivered without a
// payload read.
func (c *Connection[T]) readHeader() {
	buf := make([]byte, message.HeaderSize[T]())
	c.asyncRead(buf, func(err error) {
		if err != nil {
			c.fail(fmt.Errorf("%w: read header: %w", common.ErrIO, err))
			return
		}
		h, err := message.DecodeHeader[T](buf)
		if err != nil {
			c.fail(fmt.Errorf("%w: decode header: %w", common.ErrIO, err))
			return
		}
		if limit := c.config.MaxPayloadBytes; limit > 0 && h.Size > limit {
			c.fail(fmt.Errorf("%w: %w: header announces %d bytes (max %d)",
				common.ErrIO, common.ErrPayloadTooLarge, h.Size, limit))
			return
		}
		if h.Size == 0 {
			c.deliver(&message.Message[T]{Header: h})
			return
		}
		c.readPayload(h)
	})
}

func (c *Connection[T]) readPayload(h message.Header[T]) {
	body := make([]byte, h.Size)
	c.asyncRead(body, func(err error) {
		if err != nil {
			c.fail(fmt.Errorf("%w: read payload: %w", common.ErrIO, err))
			return
		}
		c.deliver(&message.Message[T]{Header: h, Body: body})
	})
}

// deliver pushes a complete frame to the incoming queue and arms the next read
func (c *Connection[T]) deliver(m *message.Message[T]) {
	owned := OwnedMessage[T]{Msg: m}
	if c.owner == OwnerServer {
		owned.Remote = c
	}
	// m belongs to the application once it is queued
	c.metrics.FramesReceived.Inc()
	c.metrics.BytesReceived.Add(message.HeaderSize[T]() + len(m.Body))
	c.incoming.PushBack(owned)
	c.readHeader()
}

// --------------------------------------------------------------------------
// Write pump (loop goroutine)
// --------------------------------------------------------------------------

// startWriter starts writing the outgoing queue unless a write is already in flight
// or the handshake is still running
func (c *Connection[T]) startWriter() {
	if c.writing || c.State() != StateStreaming || c.outgoing.IsEmpty() {
		return
	}
	c.writing = true
	c.writeFront()
}

// writeFront writes the head of the outgoing queue, header and payload in one call.
// The message is popped only after it was written completely.
func (c *Connection[T]) writeFront() {
	m, ok := c.outgoing.Front()
	if !ok {
		c.writing = false
		return
	}
	bufs := net.Buffers{message.EncodeHeader(m.Header)}
	if len(m.Body) > 0 {
		bufs = append(bufs, m.Body)
	}
	c.asyncWrite(bufs, func(err error) {
		if err != nil {
			c.writing = false
			c.fail(fmt.Errorf("%w: write frame: %w", common.ErrIO, err))
			return
		}
		c.outgoing.PopFront()
		c.metrics.FramesSent.Inc()
		c.metrics.BytesSent.Add(message.HeaderSize[T]() + len(m.Body))
		c.writeFront()
	})
}
