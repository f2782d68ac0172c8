// Package wire encodes the payloads exchanged by calibrating peers.
//
// Every payload is a sequence of protobuf wire-format fields and always
// carries an explicit kind (field 1), so a chat string can never be mistaken
// for a coordinate:
//
//	1 kind       varint   Greeting=1 SingleFinger=2 DualFinger=3 ChatText=4
//	2 unix_time  varint   zigzag, milliseconds since the epoch
//	3 right      bytes    16 little-endian float32, column-major
//	4 left       bytes    16 little-endian float32, column-major
//	5 text       bytes    UTF-8
//
// Floats travel as their raw IEEE-754 bits so a decode returns exactly what
// was encoded. Decoding is strict: an unknown field, a repeated field, a
// missing required field or a truncated record is an error.
package wire
