package mrtd

import (
	"crypto/sha1"
	"fmt"

	"github.com/gregLibert/mrtd/pkg/icao"
)

// AccessKeyType tags the source of the access credential.
type AccessKeyType int

const (
	// AccessKeyMRZ is the key seed derived from the machine-readable zone.
	AccessKeyMRZ AccessKeyType = iota + 1
	// AccessKeyCAN is the card access number printed on the document.
	AccessKeyCAN
)

// paceKeyReference returns the key-reference value for MSE:Set AT.
func (t AccessKeyType) paceKeyReference() byte {
	if t == AccessKeyCAN {
		return 0x02
	}
	return 0x01
}

// AccessKey is the credential presented to BAC or PACE. It is consumed
// exactly once: both protocols wipe it on every exit path, success or
// failure.
type AccessKey struct {
	keyType AccessKeyType
	seed    []byte
}

// NewMRZKey derives an access key from the MRZ fields.
func NewMRZKey(documentNumber, dateOfBirth, dateOfExpiry string) (*AccessKey, error) {
	seed, err := icao.MRZKeySeed(documentNumber, dateOfBirth, dateOfExpiry)
	if err != nil {
		return nil, fmt.Errorf("MRZ access key: %w", err)
	}
	return &AccessKey{keyType: AccessKeyMRZ, seed: seed}, nil
}

// NewCANKey builds an access key from a card access number.
func NewCANKey(can string) (*AccessKey, error) {
	if len(can) == 0 {
		return nil, fmt.Errorf("CAN must not be empty")
	}
	seed := []byte(can)
	return &AccessKey{keyType: AccessKeyCAN, seed: seed}, nil
}

// Type returns the credential source tag.
func (k *AccessKey) Type() AccessKeyType { return k.keyType }

// bacSeed returns the 16-byte BAC key seed. Only MRZ keys can open BAC.
func (k *AccessKey) bacSeed() ([]byte, error) {
	if k.keyType != AccessKeyMRZ {
		return nil, fmt.Errorf("basic access control requires an MRZ-derived key")
	}
	if len(k.seed) == 0 {
		return nil, fmt.Errorf("access key already consumed")
	}
	return k.seed, nil
}

// paceSeed returns the input to the PACE password derivation. For MRZ keys
// this is the SHA-1 based key seed; for a CAN the encoded number itself.
func (k *AccessKey) paceSeed() ([]byte, error) {
	if len(k.seed) == 0 {
		return nil, fmt.Errorf("access key already consumed")
	}
	return k.seed, nil
}

// paceKey derives the PACE password key Kpi for the given cipher.
func (k *AccessKey) paceKey(cipher icao.CipherFamily, keyBits int) ([]byte, error) {
	seed, err := k.paceSeed()
	if err != nil {
		return nil, err
	}
	// For MRZ credentials the seed is already the SHA-1 of the MRZ
	// information; a CAN feeds its encoded digits directly.
	return deriveKey(seed, cipher, keyBits, KDFPace)
}

// Wipe zeroizes the credential.
func (k *AccessKey) Wipe() {
	wipe(k.seed)
	k.seed = nil
}

// sha1Of is a convenience for the protocols' digest needs.
func sha1Of(parts ...[]byte) []byte {
	h := sha1.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
