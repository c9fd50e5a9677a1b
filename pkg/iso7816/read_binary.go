package iso7816

import (
	"fmt"
)

// READ BINARY COMMAND LOGIC (ISO 7816-4):
// The READ BINARY command (INS 'B0') reads a byte window from the current
// Elementary File.
//
// P1-P2 (Offset):
// With bit 8 of P1 clear, P1||P2 encode a 15-bit file offset directly.
// Offsets above 32767 cannot be encoded this way; the odd-instruction
// variant (INS 'B1') must be used instead. There the offset travels in the
// command data field as a BER-TLV data object '54', and the card wraps the
// returned bytes in a data object '53'.

// MaxShortOffset is the largest file offset encodable in P1-P2 of the even
// READ BINARY instruction.
const MaxShortOffset = 0x7FFF

// ReadBinary creates an even-instruction READ BINARY command for offsets
// up to MaxShortOffset.
func ReadBinary(cla Class, offset int, ne int) (*CommandAPDU, error) {
	if offset < 0 || offset > MaxShortOffset {
		return nil, fmt.Errorf("offset %d not encodable in P1-P2 (max %d)", offset, MaxShortOffset)
	}

	ins, _ := NewInstruction(INS_READ_BINARY)
	return NewCommandAPDU(cla, ins, byte(offset>>8), byte(offset), nil, ne), nil
}

// ReadBinaryOdd creates an odd-instruction READ BINARY command carrying
// the offset as data object '54'. It is required for offsets beyond
// MaxShortOffset and legal for any offset.
func ReadBinaryOdd(cla Class, offset int, ne int) (*CommandAPDU, error) {
	if offset < 0 || offset > 0xFFFFFF {
		return nil, fmt.Errorf("offset %d out of range for DO'54' encoding", offset)
	}

	var off []byte
	switch {
	case offset <= 0xFF:
		off = []byte{byte(offset)}
	case offset <= 0xFFFF:
		off = []byte{byte(offset >> 8), byte(offset)}
	default:
		off = []byte{byte(offset >> 16), byte(offset >> 8), byte(offset)}
	}

	data := make([]byte, 0, 2+len(off))
	data = append(data, 0x54, byte(len(off)))
	data = append(data, off...)

	ins, _ := NewInstruction(INS_READ_BINARY_BER)
	return NewCommandAPDU(cla, ins, 0x00, 0x00, data, ne), nil
}

// UnwrapDiscretionaryData strips the data object '53' wrapper from an
// odd-instruction READ BINARY response payload.
func UnwrapDiscretionaryData(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("discretionary data too short (%d bytes)", len(data))
	}
	if data[0] != 0x53 {
		return nil, fmt.Errorf("expected data object '53', got '%02X'", data[0])
	}

	length := int(data[1])
	rest := data[2:]
	if data[1] == 0x81 {
		if len(rest) < 1 {
			return nil, fmt.Errorf("truncated long-form length")
		}
		length = int(rest[0])
		rest = rest[1:]
	} else if data[1] == 0x82 {
		if len(rest) < 2 {
			return nil, fmt.Errorf("truncated long-form length")
		}
		length = int(rest[0])<<8 | int(rest[1])
		rest = rest[2:]
	} else if data[1] > 0x82 {
		return nil, fmt.Errorf("unsupported length form %02X", data[1])
	}

	if len(rest) < length {
		return nil, fmt.Errorf("data object '53' declares %d bytes, %d present", length, len(rest))
	}
	return rest[:length], nil
}
