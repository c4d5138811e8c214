// Package message defines the typed envelope exchanged between kqnet endpoints and its
// fixed binary layout.
//
// A message consists of a fixed size header and a byte payload:
//
//	+----------------------+----------------------+----------------------+
//	| id (width of T)      | size (uint32)        | payload (size bytes) |
//	+----------------------+----------------------+----------------------+
//
// Both header fields are encoded big endian. There is no padding and no length other
// than size on the wire.
//
// Key Components:
//
//   - Header / Message: The header carries an application defined discriminant (any
//     unsigned integer type) and the payload length. The invariant Header.Size == len(Body)
//     holds after every operation of this package.
//
//   - Append / Extract: The payload behaves like a stack. Append pushes a fixed size value
//     to the tail, Extract pops the trailing bytes. Fields must therefore be read back in
//     the reverse order they were written:
//
//     msg := message.New(MsgPosition)
//     _ = message.Append(msg, x)
//     _ = message.Append(msg, y)
//     ...
//     _ = message.Extract(msg, &y)
//     _ = message.Extract(msg, &x)
//
//   - AppendBytes / ExtractBytes: Variable length data (strings, blobs) is pushed together
//     with a trailing uint32 length, so it follows the same discipline.
//
//   - EncodeHeader / DecodeHeader: The header codec used by the connection frame pump.
package message
