// Package protocol encodes and decodes the equipment packets exchanged with
// game clients.
package protocol

import (
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrTruncated is returned when a packet ends before a field is complete.
var ErrTruncated = errors.New("protocol: truncated packet")

// appendVarInt appends v as an unsigned LEB128 over its 32-bit two's
// complement representation. Negative values always take five bytes.
func appendVarInt(b []byte, v int32) []byte {
	return protowire.AppendVarint(b, uint64(uint32(v)))
}

// consumeVarInt reads a VarInt written by appendVarInt.
//
// Postcondition: returns the value and the number of bytes consumed, or an
// error if the input is truncated or does not fit in 32 bits.
func consumeVarInt(b []byte) (int32, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		err := protowire.ParseError(n)
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, 0, fmt.Errorf("%w: varint", ErrTruncated)
		}
		return 0, 0, fmt.Errorf("protocol: malformed varint: %w", err)
	}
	if v > math.MaxUint32 {
		return 0, 0, fmt.Errorf("protocol: varint %d overflows 32 bits", v)
	}
	return int32(uint32(v)), n, nil
}
