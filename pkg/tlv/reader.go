package tlv

import (
	"fmt"
)

// Low-level BER-TLV scanning primitives.
//
// The struct-tag mapping in parser.go covers structured templates, but two
// places need raw tag/length arithmetic instead of full decoding:
//   - secure-messaging data objects ('85'/'87'/'97'/'99'/'8E'), which are
//     scanned sequentially from a response body;
//   - elementary-file length discovery, where only the first few bytes of a
//     file are available and the outer header must be sized exactly.

// ReadTag reads one BER-TLV tag from the start of data and returns its
// value and encoded size. Multi-byte tags (first byte with all five low
// bits set) are supported up to two bytes, which covers the ICAO LDS.
func ReadTag(data []byte) (tag int, size int, err error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("empty input, expected a tag")
	}

	b := data[0]
	if b&0x1F != 0x1F {
		return int(b), 1, nil
	}

	if len(data) < 2 {
		return 0, 0, fmt.Errorf("truncated multi-byte tag %02X", b)
	}
	if data[1]&0x80 != 0 {
		return 0, 0, fmt.Errorf("tags longer than two bytes are not supported (%02X %02X)", b, data[1])
	}
	return int(b)<<8 | int(data[1]), 2, nil
}

// ReadLength reads one BER-TLV length from the start of data and returns
// its value and encoded size. Definite forms up to three length octets
// (16 MiB) are accepted; the indefinite form is rejected.
func ReadLength(data []byte) (length int, size int, err error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("empty input, expected a length")
	}

	b := data[0]
	if b&0x80 == 0 {
		return int(b), 1, nil
	}

	n := int(b & 0x7F)
	if n == 0 {
		return 0, 0, fmt.Errorf("indefinite length not allowed")
	}
	if n > 3 {
		return 0, 0, fmt.Errorf("length field of %d octets not supported", n)
	}
	if len(data) < 1+n {
		return 0, 0, fmt.Errorf("truncated length field")
	}

	for i := 1; i <= n; i++ {
		length = length<<8 | int(data[i])
	}
	return length, 1 + n, nil
}

// ReadHeader reads the outer tag and length from the start of an encoded
// structure and returns them along with the header size. The total encoded
// size of the structure is headerSize + length.
func ReadHeader(data []byte) (tag int, length int, headerSize int, err error) {
	tag, tagSize, err := ReadTag(data)
	if err != nil {
		return 0, 0, 0, err
	}
	length, lenSize, err := ReadLength(data[tagSize:])
	if err != nil {
		return 0, 0, 0, err
	}
	return tag, length, tagSize + lenSize, nil
}

// EncodeLength encodes a BER-TLV definite length.
func EncodeLength(length int) []byte {
	switch {
	case length < 0x80:
		return []byte{byte(length)}
	case length <= 0xFF:
		return []byte{0x81, byte(length)}
	case length <= 0xFFFF:
		return []byte{0x82, byte(length >> 8), byte(length)}
	default:
		return []byte{0x83, byte(length >> 16), byte(length >> 8), byte(length)}
	}
}
