package mrtd

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"

	"github.com/gregLibert/mrtd/pkg/icao"
)

// KEY DERIVATION (Doc 9303 part 11, section 9.7):
//
// All session and access keys derive from a shared secret by hashing
// secret || 32-bit counter. The counter selects the key's purpose; the
// hash and output length follow the cipher.

// Key derivation modes.
const (
	KDFEnc  uint32 = 1 // secure-messaging encryption key
	KDFMac  uint32 = 2 // secure-messaging MAC key
	KDFPace uint32 = 3 // PACE password key
)

// deriveKey derives a key of the given cipher family and length (bits)
// from a shared secret. For DESede the result is the 16-byte two-key
// bundle with adjusted parity.
func deriveKey(secret []byte, cipher icao.CipherFamily, keyBits int, mode uint32) ([]byte, error) {
	d := make([]byte, 0, len(secret)+4)
	d = append(d, secret...)
	d = append(d, byte(mode>>24), byte(mode>>16), byte(mode>>8), byte(mode))
	defer wipe(d)

	switch {
	case cipher == icao.CipherDESede:
		h := sha1.Sum(d)
		defer wipe(h[:])
		key := make([]byte, 16)
		copy(key, h[:16])
		adjustParity(key)
		return key, nil

	case cipher == icao.CipherAES && keyBits == 128:
		h := sha1.Sum(d)
		defer wipe(h[:])
		key := make([]byte, 16)
		copy(key, h[:16])
		return key, nil

	case cipher == icao.CipherAES && (keyBits == 192 || keyBits == 256):
		h := sha256.Sum256(d)
		defer wipe(h[:])
		key := make([]byte, keyBits/8)
		copy(key, h[:keyBits/8])
		return key, nil
	}

	return nil, fmt.Errorf("no key derivation for %v/%d bits", cipher, keyBits)
}

// deriveSessionKeys derives the encryption and MAC keys for one secure
// channel from a shared secret.
func deriveSessionKeys(secret []byte, cipher icao.CipherFamily, keyBits int) (ksEnc, ksMac []byte, err error) {
	ksEnc, err = deriveKey(secret, cipher, keyBits, KDFEnc)
	if err != nil {
		return nil, nil, err
	}
	ksMac, err = deriveKey(secret, cipher, keyBits, KDFMac)
	if err != nil {
		wipe(ksEnc)
		return nil, nil, err
	}
	return ksEnc, ksMac, nil
}
