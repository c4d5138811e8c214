// Package demo holds the message ids and the scramble function shared by the demo
// server and client commands.
package demo

import (
	"github.com/ValentinKolb/kqnet/lib/message"
	"github.com/ValentinKolb/kqnet/rpc/serializer"
)

// MsgID enumerates the demo protocol messages
type MsgID uint8

const (
	ServerAccept MsgID = iota
	ServerReject
	RequestAccept
	// MessageRequest asks the server to relay its string payload to all other clients
	MessageRequest
	// MessageSent carries a Relay encoded with the configured serializer
	MessageSent
)

var names = [...]string{"ServerAccept", "ServerReject", "RequestAccept", "MessageRequest", "MessageSent"}

func (id MsgID) String() string {
	if int(id) < len(names) {
		return names[id]
	}
	return "Unknown"
}

// Scramble is the handshake transform of the demo protocol.
// The nibble masks only cover the lower 56 bits, the top byte passes unswapped.
func Scramble(x uint64) uint64 {
	out := x ^ 0xDEADBEEFC0DECAFE
	out = (out&0xF0F0F0F0F0F0F0)>>4 | (out&0x0F0F0F0F0F0F0F)<<4
	return out ^ 0xC0DEFACE12345678
}

// Relay is the payload of MessageSent
type Relay struct {
	Text   string
	Sender uint32
}

// MarshalBinary lays out Text then Sender with the message payload helpers
func (r Relay) MarshalBinary() ([]byte, error) {
	m := message.New(MessageSent)
	if err := message.AppendString(m, r.Text); err != nil {
		return nil, err
	}
	if err := message.Append(m, r.Sender); err != nil {
		return nil, err
	}
	return m.Body, nil
}

func (r *Relay) UnmarshalBinary(b []byte) error {
	m := &message.Message[MsgID]{Header: message.Header[MsgID]{ID: MessageSent, Size: uint32(len(b))}, Body: b}
	if err := message.Extract(m, &r.Sender); err != nil {
		return err
	}
	text, err := message.ExtractString(m)
	if err != nil {
		return err
	}
	r.Text = text
	return nil
}

// NewRelay builds a MessageSent message carrying r encoded with s
func NewRelay(s serializer.IPayloadSerializer, r Relay) (*message.Message[MsgID], error) {
	m := message.New(MessageSent)
	if err := serializer.Append(m, s, r); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseRelay decodes a message built by NewRelay
func ParseRelay(s serializer.IPayloadSerializer, m *message.Message[MsgID]) (Relay, error) {
	var r Relay
	err := serializer.Extract(m, s, &r)
	return r, err
}
