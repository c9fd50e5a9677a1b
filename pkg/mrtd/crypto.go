package mrtd

import (
	"crypto/cipher"
	"crypto/des"
	"fmt"
)

// Shared symmetric primitives: ISO 9797-1 padding method 2, the retail MAC
// (MAC algorithm 3 with DES and output transformation 3), and zeroization.
// The AES-side CMAC comes from github.com/aead/cmac; the retail MAC has no
// ecosystem implementation and is built here on crypto/des.

// pad appends ISO 9797-1 padding method 2: a mandatory 0x80 byte, then
// zeros up to the block boundary.
func pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	out[len(data)] = 0x80
	return out
}

// unpad strips ISO 9797-1 padding method 2.
func unpad(data []byte) ([]byte, error) {
	i := len(data) - 1
	for i >= 0 && data[i] == 0x00 {
		i--
	}
	if i < 0 || data[i] != 0x80 {
		return nil, fmt.Errorf("invalid ISO 9797-1 padding")
	}
	return data[:i], nil
}

// retailMAC computes ISO 9797-1 MAC algorithm 3: single-DES CBC-MAC under
// the first key half with a final decrypt/encrypt under the second half.
// The key is a 16-byte two-key bundle; the input must already be padded.
func retailMAC(key, paddedData []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("retail MAC needs a 16-byte key, got %d", len(key))
	}
	if len(paddedData)%8 != 0 {
		return nil, fmt.Errorf("retail MAC input not block aligned")
	}

	k1, err := des.NewCipher(key[:8])
	if err != nil {
		return nil, err
	}
	k2, err := des.NewCipher(key[8:])
	if err != nil {
		return nil, err
	}

	mac := make([]byte, 8)
	for i := 0; i < len(paddedData); i += 8 {
		for j := 0; j < 8; j++ {
			mac[j] ^= paddedData[i+j]
		}
		k1.Encrypt(mac, mac)
	}
	k2.Decrypt(mac, mac)
	k1.Encrypt(mac, mac)
	return mac, nil
}

// newDESedeCipher builds a 3DES block cipher from a 16-byte two-key bundle
// by expanding it to the k1-k2-k1 form.
func newDESedeCipher(key []byte) (cipher.Block, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("DESede needs a 16-byte key, got %d", len(key))
	}
	full := make([]byte, 24)
	copy(full, key)
	copy(full[16:], key[:8])
	defer wipe(full)
	return des.NewTripleDESCipher(full)
}

// xorBytes XORs two equal-length slices into a fresh slice.
func xorBytes(a, b []byte) ([]byte, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("xor of unequal lengths %d and %d", len(a), len(b))
	}
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out, nil
}

// wipe overwrites a buffer with zeros. Secret-bearing buffers are wiped on
// every exit path rather than left to the collector.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// adjustParity sets odd parity on every byte of a DES key in place.
func adjustParity(key []byte) {
	for i, b := range key {
		ones := 0
		for j := 0; j < 8; j++ {
			if b&(1<<j) != 0 {
				ones++
			}
		}
		if ones%2 == 0 {
			key[i] = b ^ 1
		}
	}
}
