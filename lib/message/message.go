package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ByteOrder is the byte order of the header and of all values appended to a payload
var ByteOrder = binary.BigEndian

const (
	// sizeFieldLen is the width of the size field in the header
	sizeFieldLen = 4
)

var (
	ErrNotFixedSize    = errors.New("message: value is not fixed size")
	ErrPayloadTooShort = errors.New("message: payload shorter than requested width")
	ErrPayloadOverflow = errors.New("message: payload would exceed the uint32 size field")
	ErrShortHeader     = errors.New("message: short header")
)

// ID is the constraint for message discriminants. The width of the type fixes the width
// of the id field on the wire.
type ID interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// --------------------------------------------------------------------------
// Header
// --------------------------------------------------------------------------

// Header is the fixed size part of every message
type Header[T ID] struct {
	ID   T
	Size uint32
}

// HeaderSize returns the number of bytes an encoded Header[T] occupies
func HeaderSize[T ID]() int {
	var id T
	return binary.Size(id) + sizeFieldLen
}

// EncodeHeader returns the wire representation of h
func EncodeHeader[T ID](h Header[T]) []byte {
	buf := make([]byte, 0, HeaderSize[T]())
	buf = appendID(buf, h.ID)
	return ByteOrder.AppendUint32(buf, h.Size)
}

// DecodeHeader parses a header previously produced by EncodeHeader
func DecodeHeader[T ID](b []byte) (Header[T], error) {
	var h Header[T]
	if len(b) < HeaderSize[T]() {
		return h, ErrShortHeader
	}
	idLen := HeaderSize[T]() - sizeFieldLen
	switch idLen {
	case 1:
		h.ID = T(b[0])
	case 2:
		h.ID = T(ByteOrder.Uint16(b))
	case 4:
		h.ID = T(ByteOrder.Uint32(b))
	default:
		h.ID = T(ByteOrder.Uint64(b))
	}
	h.Size = ByteOrder.Uint32(b[idLen:])
	return h, nil
}

func appendID[T ID](buf []byte, id T) []byte {
	switch binary.Size(id) {
	case 1:
		return append(buf, byte(id))
	case 2:
		return ByteOrder.AppendUint16(buf, uint16(id))
	case 4:
		return ByteOrder.AppendUint32(buf, uint32(id))
	default:
		return ByteOrder.AppendUint64(buf, uint64(id))
	}
}

// --------------------------------------------------------------------------
// Message
// --------------------------------------------------------------------------

// Message is a header followed by exactly Header.Size payload bytes.
// Use Append / Extract to modify the payload, writing Body directly breaks the size invariant.
type Message[T ID] struct {
	Header Header[T]
	Body   []byte
}

// New creates an empty message with the given id
func New[T ID](id T) *Message[T] {
	return &Message[T]{Header: Header[T]{ID: id}}
}

// ID returns the discriminant of the message
func (m *Message[T]) ID() T {
	return m.Header.ID
}

// Size returns the current payload length
func (m *Message[T]) Size() int {
	return len(m.Body)
}

// Clone returns a deep copy of the message
func (m *Message[T]) Clone() *Message[T] {
	c := &Message[T]{Header: m.Header}
	if m.Body != nil {
		c.Body = append(make([]byte, 0, len(m.Body)), m.Body...)
	}
	return c
}

// Reset empties the payload and keeps the id
func (m *Message[T]) Reset() {
	m.Body = m.Body[:0]
	m.Header.Size = 0
}

func (m *Message[T]) String() string {
	return fmt.Sprintf("message{id: %d, size: %d}", m.Header.ID, m.Header.Size)
}

// --------------------------------------------------------------------------
// Payload stack operations
// --------------------------------------------------------------------------

// Append serializes v to the tail of the payload. v must be a fixed size value
// (see encoding/binary), otherwise ErrNotFixedSize is returned and m is unchanged.
func Append[T ID, V any](m *Message[T], v V) error {
	n := binary.Size(v)
	if n < 0 {
		return fmt.Errorf("%w: %T", ErrNotFixedSize, v)
	}
	if uint64(len(m.Body))+uint64(n) > math.MaxUint32 {
		return ErrPayloadOverflow
	}

	body, err := binary.Append(m.Body, ByteOrder, v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotFixedSize, err)
	}

	m.Body = body
	m.Header.Size = uint32(len(m.Body))
	return nil
}

// Extract decodes the trailing binary.Size(v) bytes of the payload into v and removes
// them. If the payload is shorter, ErrPayloadTooShort is returned and m is unchanged.
func Extract[T ID, V any](m *Message[T], v *V) error {
	if v == nil {
		return fmt.Errorf("%w: nil target", ErrNotFixedSize)
	}
	n := binary.Size(v)
	if n < 0 {
		return fmt.Errorf("%w: %T", ErrNotFixedSize, *v)
	}
	if n > len(m.Body) {
		return fmt.Errorf("%w: want %d bytes, have %d", ErrPayloadTooShort, n, len(m.Body))
	}

	i := len(m.Body) - n
	if _, err := binary.Decode(m.Body[i:], ByteOrder, v); err != nil {
		return fmt.Errorf("%w: %v", ErrPayloadTooShort, err)
	}

	m.Body = m.Body[:i]
	m.Header.Size = uint32(len(m.Body))
	return nil
}

// AppendBytes pushes b followed by its uint32 length
func AppendBytes[T ID](m *Message[T], b []byte) error {
	if uint64(len(m.Body))+uint64(len(b))+sizeFieldLen > math.MaxUint32 {
		return ErrPayloadOverflow
	}
	m.Body = append(m.Body, b...)
	m.Body = ByteOrder.AppendUint32(m.Body, uint32(len(b)))
	m.Header.Size = uint32(len(m.Body))
	return nil
}

// ExtractBytes pops a byte slice written by AppendBytes. The returned slice is a copy.
func ExtractBytes[T ID](m *Message[T]) ([]byte, error) {
	if len(m.Body) < sizeFieldLen {
		return nil, fmt.Errorf("%w: missing length prefix", ErrPayloadTooShort)
	}
	lenPos := len(m.Body) - sizeFieldLen
	n := int(ByteOrder.Uint32(m.Body[lenPos:]))
	if n > lenPos {
		return nil, fmt.Errorf("%w: want %d bytes, have %d", ErrPayloadTooShort, n, lenPos)
	}

	start := lenPos - n
	out := append(make([]byte, 0, n), m.Body[start:lenPos]...)
	m.Body = m.Body[:start]
	m.Header.Size = uint32(len(m.Body))
	return out, nil
}

// AppendString is AppendBytes for strings
func AppendString[T ID](m *Message[T], s string) error {
	return AppendBytes(m, []byte(s))
}

// ExtractString is ExtractBytes for strings
func ExtractString[T ID](m *Message[T]) (string, error) {
	b, err := ExtractBytes(m)
	return string(b), err
}
