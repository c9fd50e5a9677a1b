package mrtd

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/aead/cmac"

	"github.com/gregLibert/mrtd/pkg/iso7816"
	"github.com/gregLibert/mrtd/pkg/tlv"
)

// SECURE MESSAGING (Doc 9303 part 11, section 9.8):
//
// Once an access-control protocol completes, every command travels
// encrypted and MAC-protected. The payload is reshaped into data objects:
//   '87' (or '85' for odd instructions)  encrypted command/response data
//   '97'                                 expected response length
//   '99'                                 protected status word
//   '8E'                                 MAC over the send sequence counter
//                                        and the other data objects
//
// The send sequence counter (SSC) advances exactly once per wrapped
// command; the response MAC is verified against that same counter value.
// Two cipher suites share the shape: DESede with the ISO 9797-1 retail
// MAC, and AES with CMAC and an SSC-derived CBC IV.

// Wrapper is one established secure channel.
type Wrapper interface {
	// Wrap protects a plain command.
	Wrap(cmd *iso7816.CommandAPDU) (*iso7816.CommandAPDU, error)
	// Unwrap verifies and decrypts a protected response. A response with
	// no secure-messaging objects (a bare error status) passes through.
	Unwrap(resp *iso7816.ResponseAPDU) (*iso7816.ResponseAPDU, error)
	// Clone snapshots the channel state, keys included, so a failed
	// adaptive read can roll back.
	Clone() Wrapper
	// MaxTranceiveLength is the negotiated APDU ceiling.
	MaxTranceiveLength() int
	// Destroy zeroizes the session keys.
	Destroy()
}

// smCipher is the suite-specific half of a wrapper.
type smCipher interface {
	blockSize() int
	// sscBlock returns the counter in the form MAC and IV computations use.
	sscBlock() []byte
	incrementSSC()
	// encrypt pads and encrypts plaintext under the current counter.
	encrypt(plain []byte) ([]byte, error)
	// decrypt decrypts and unpads ciphertext under the current counter.
	decrypt(ct []byte) ([]byte, error)
	// mac computes the 8-byte authentication code over SSC || input.
	mac(input []byte) ([]byte, error)
	clone() smCipher
	destroy()
}

type smWrapper struct {
	suite        smCipher
	maxTranceive int
	checkMAC     bool
}

// NewDESedeWrapper builds the BAC-era secure channel.
func NewDESedeWrapper(ksEnc, ksMac []byte, ssc uint64, maxTranceive int) (Wrapper, error) {
	suite, err := newDESedeSuite(ksEnc, ksMac, ssc)
	if err != nil {
		return nil, err
	}
	return &smWrapper{suite: suite, maxTranceive: maxTranceive, checkMAC: true}, nil
}

// NewAESWrapper builds the PACE / Chip Authentication secure channel with
// the counter reset to zero.
func NewAESWrapper(ksEnc, ksMac []byte, maxTranceive int) (Wrapper, error) {
	suite, err := newAESSuite(ksEnc, ksMac)
	if err != nil {
		return nil, err
	}
	return &smWrapper{suite: suite, maxTranceive: maxTranceive, checkMAC: true}, nil
}

func (w *smWrapper) MaxTranceiveLength() int { return w.maxTranceive }

func (w *smWrapper) Clone() Wrapper {
	return &smWrapper{suite: w.suite.clone(), maxTranceive: w.maxTranceive, checkMAC: w.checkMAC}
}

func (w *smWrapper) Destroy() { w.suite.destroy() }

func (w *smWrapper) Wrap(cmd *iso7816.CommandAPDU) (*iso7816.CommandAPDU, error) {
	w.suite.incrementSSC()

	maskedClass, err := iso7816.NewClass(cmd.Class.Raw | 0x0C)
	if err != nil {
		return nil, &ProtocolError{Protocol: "SM", Message: "cannot mask class byte", Cause: err}
	}
	header := []byte{maskedClass.Raw, byte(cmd.Instruction.Raw), cmd.P1, cmd.P2}

	var body []byte

	if len(cmd.Data) > 0 {
		ct, err := w.suite.encrypt(cmd.Data)
		if err != nil {
			return nil, &ProtocolError{Protocol: "SM", Message: "command encryption failed", Cause: err}
		}
		if cmd.Instruction.IsBERTLV {
			// Odd instructions use DO'85' and omit the padding indicator.
			body = appendDO(body, 0x85, ct)
		} else {
			body = appendDO(body, 0x87, append([]byte{0x01}, ct...))
		}
	}

	if cmd.Ne > 0 {
		var le []byte
		if cmd.Ne <= iso7816.MaxShortLe {
			le = []byte{byte(cmd.Ne)} // 256 encodes as 0x00
		} else {
			le = []byte{byte(cmd.Ne >> 8), byte(cmd.Ne)}
		}
		body = appendDO(body, 0x97, le)
	}

	macInput := append(pad(header, w.suite.blockSize()), body...)
	cc, err := w.suite.mac(macInput)
	if err != nil {
		return nil, &ProtocolError{Protocol: "SM", Message: "command MAC failed", Cause: err}
	}
	body = appendDO(body, 0x8E, cc)

	ne := iso7816.MaxShortLe
	if len(body) > iso7816.MaxShortLc || cmd.Ne > iso7816.MaxShortLe {
		ne = iso7816.MaxExtendedLe
	}

	return iso7816.NewCommandAPDU(maskedClass, cmd.Instruction, cmd.P1, cmd.P2, body, ne), nil
}

func (w *smWrapper) Unwrap(resp *iso7816.ResponseAPDU) (*iso7816.ResponseAPDU, error) {
	if len(resp.Data) == 0 {
		// Bare status words (rejections before secure messaging applies)
		// pass through for the layer above to interpret.
		return resp, nil
	}

	var (
		dataDO   []byte
		dataOdd  bool
		haveData bool
		statusDO []byte
		macDO    []byte
		macInput []byte
	)

	rest := resp.Data
	for len(rest) > 0 {
		doTag, doLen, header, err := tlv.ReadHeader(rest)
		if err != nil {
			return nil, &ProtocolError{Protocol: "SM", Message: "malformed response data object", Cause: err}
		}
		if len(rest) < header+doLen {
			return nil, &ProtocolError{Protocol: "SM", Message: "truncated response data object"}
		}
		full := rest[:header+doLen]
		value := rest[header : header+doLen]
		rest = rest[header+doLen:]

		switch doTag {
		case 0x87, 0x85:
			dataDO = value
			dataOdd = doTag == 0x85
			haveData = true
			macInput = append(macInput, full...)
		case 0x99:
			statusDO = value
			macInput = append(macInput, full...)
		case 0x8E:
			macDO = value
		default:
			return nil, &ProtocolError{Protocol: "SM",
				Message: fmt.Sprintf("unexpected response data object %02X", doTag)}
		}
	}

	if w.checkMAC {
		if macDO == nil {
			return nil, &SecurityError{Check: "sm-mac", Message: "response lacks a MAC data object"}
		}
		expected, err := w.suite.mac(macInput)
		if err != nil {
			return nil, &ProtocolError{Protocol: "SM", Message: "response MAC computation failed", Cause: err}
		}
		if !bytes.Equal(expected, macDO) {
			// The channel is desynchronized; the session must be torn
			// down, not retried.
			return nil, &SecurityError{Check: "sm-mac", Message: "response MAC mismatch"}
		}
	}

	var plain []byte
	if haveData {
		ct := dataDO
		if !dataOdd {
			if len(ct) == 0 || ct[0] != 0x01 {
				return nil, &ProtocolError{Protocol: "SM", Message: "DO'87' lacks the padding indicator"}
			}
			ct = ct[1:]
		}
		var err error
		plain, err = w.suite.decrypt(ct)
		if err != nil {
			return nil, &ProtocolError{Protocol: "SM", Message: "response decryption failed", Cause: err}
		}
	}

	status := resp.Status
	if len(statusDO) == 2 {
		status = iso7816.NewStatusWord(statusDO[0], statusDO[1])
	}

	return &iso7816.ResponseAPDU{Data: plain, Status: status}, nil
}

// appendDO appends a single-byte-tag BER-TLV data object.
func appendDO(dst []byte, tag byte, value []byte) []byte {
	dst = append(dst, tag)
	dst = append(dst, tlv.EncodeLength(len(value))...)
	return append(dst, value...)
}

// --- DESede suite ---

type desedeSuite struct {
	ksEnc, ksMac []byte
	block        cipher.Block
	ssc          uint64
}

func newDESedeSuite(ksEnc, ksMac []byte, ssc uint64) (*desedeSuite, error) {
	block, err := newDESedeCipher(ksEnc)
	if err != nil {
		return nil, err
	}
	return &desedeSuite{
		ksEnc: append([]byte(nil), ksEnc...),
		ksMac: append([]byte(nil), ksMac...),
		block: block,
		ssc:   ssc,
	}, nil
}

func (s *desedeSuite) blockSize() int { return 8 }

func (s *desedeSuite) sscBlock() []byte {
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[7-i] = byte(s.ssc >> (8 * i))
	}
	return out
}

func (s *desedeSuite) incrementSSC() { s.ssc++ }

func (s *desedeSuite) encrypt(plain []byte) ([]byte, error) {
	padded := pad(plain, 8)
	defer wipe(padded)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(s.block, make([]byte, 8)).CryptBlocks(out, padded)
	return out, nil
}

func (s *desedeSuite) decrypt(ct []byte) ([]byte, error) {
	if len(ct) == 0 || len(ct)%8 != 0 {
		return nil, fmt.Errorf("ciphertext of %d bytes not block aligned", len(ct))
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(s.block, make([]byte, 8)).CryptBlocks(out, ct)
	plain, err := unpad(out)
	if err != nil {
		wipe(out)
		return nil, err
	}
	return plain, nil
}

func (s *desedeSuite) mac(input []byte) ([]byte, error) {
	n := append(s.sscBlock(), input...)
	return retailMAC(s.ksMac, pad(n, 8))
}

func (s *desedeSuite) clone() smCipher {
	c, _ := newDESedeSuite(s.ksEnc, s.ksMac, s.ssc)
	return c
}

func (s *desedeSuite) destroy() {
	wipe(s.ksEnc)
	wipe(s.ksMac)
	s.ssc = 0
}

// --- AES suite ---

type aesSuite struct {
	ksEnc, ksMac []byte
	encBlock     cipher.Block
	macBlock     cipher.Block
	ssc          [16]byte
}

func newAESSuite(ksEnc, ksMac []byte) (*aesSuite, error) {
	encBlock, err := aes.NewCipher(ksEnc)
	if err != nil {
		return nil, err
	}
	macBlock, err := aes.NewCipher(ksMac)
	if err != nil {
		return nil, err
	}
	return &aesSuite{
		ksEnc:    append([]byte(nil), ksEnc...),
		ksMac:    append([]byte(nil), ksMac...),
		encBlock: encBlock,
		macBlock: macBlock,
	}, nil
}

func (s *aesSuite) blockSize() int { return 16 }

func (s *aesSuite) sscBlock() []byte {
	out := make([]byte, 16)
	copy(out, s.ssc[:])
	return out
}

func (s *aesSuite) incrementSSC() {
	for i := 15; i >= 0; i-- {
		s.ssc[i]++
		if s.ssc[i] != 0 {
			return
		}
	}
}

// iv derives the CBC IV by encrypting the counter block.
func (s *aesSuite) iv() []byte {
	out := make([]byte, 16)
	s.encBlock.Encrypt(out, s.ssc[:])
	return out
}

func (s *aesSuite) encrypt(plain []byte) ([]byte, error) {
	padded := pad(plain, 16)
	defer wipe(padded)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(s.encBlock, s.iv()).CryptBlocks(out, padded)
	return out, nil
}

func (s *aesSuite) decrypt(ct []byte) ([]byte, error) {
	if len(ct) == 0 || len(ct)%16 != 0 {
		return nil, fmt.Errorf("ciphertext of %d bytes not block aligned", len(ct))
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(s.encBlock, s.iv()).CryptBlocks(out, ct)
	plain, err := unpad(out)
	if err != nil {
		wipe(out)
		return nil, err
	}
	return plain, nil
}

func (s *aesSuite) mac(input []byte) ([]byte, error) {
	n := append(s.sscBlock(), input...)
	full, err := cmac.Sum(n, s.macBlock, 16)
	if err != nil {
		return nil, err
	}
	return full[:8], nil
}

func (s *aesSuite) clone() smCipher {
	c, _ := newAESSuite(s.ksEnc, s.ksMac)
	c.ssc = s.ssc
	return c
}

func (s *aesSuite) destroy() {
	wipe(s.ksEnc)
	wipe(s.ksMac)
	wipe(s.ssc[:])
}
