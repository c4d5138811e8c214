// Package serializer encodes structured values into kqnet message payloads. It defines
// a common interface and multiple implementations with different trade-offs.
//
// Key Components:
//
//   - IPayloadSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Compact encoding for fixed-size values, byte slices, strings
//     and types implementing encoding.BinaryMarshaler. Adds no overhead of its own.
//
//   - jsonSerializerImpl: JSON encoding, useful for debugging or interoperability with
//     peers not written in Go.
//
//   - gobSerializerImpl: Go's gob encoding. Handles arbitrary Go types at the cost of
//     the largest payloads, since every payload carries its type description.
//
//   - Append / Extract: push an encoded value onto a message payload as one length
//     prefixed block, so encoded values mix freely with message.Append values.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s := serializer.NewJSONSerializer()
//	m := message.New(MsgLogin)
//	_ = serializer.Append(m, s, Login{User: "robert"})
//	_ = message.Append(m, uint32(7)) // plain values on top
//
//	// receiving side, in reverse order
//	var v uint32
//	_ = message.Extract(m, &v)
//	var login Login
//	_ = serializer.Extract(m, s, &login)
package serializer
