package mrtd

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/gregLibert/mrtd/pkg/icao"
	"github.com/gregLibert/mrtd/pkg/iso7816"
)

// BASIC ACCESS CONTROL (Doc 9303 part 11, section 4.3):
//
// A three-pass mutual authentication derived from the printed MRZ. Both
// sides prove knowledge of the document keys Kenc/Kmac, exchange 16 bytes
// of key material each, and XOR them into the session key seed. The send
// sequence counter starts from the low halves of the two challenges.
//
// BAC offers no protection against offline key search; it exists for
// documents that predate PACE.

// performBAC runs the protocol over a plain (unprotected) channel and, on
// success, returns the DESede secure channel.
func performBAC(client *iso7816.Client, key *AccessKey, rng io.Reader, maxTranceive int) (Wrapper, error) {
	if rng == nil {
		rng = rand.Reader
	}
	cla, _ := iso7816.NewClass(0x00)

	// The seed stays owned by the access key; the session wipes it once
	// the protocol is over.
	seed, err := key.bacSeed()
	if err != nil {
		return nil, &ProtocolError{Protocol: "BAC", Step: 1, Message: "unusable access key", Cause: err}
	}

	kEnc, err := deriveKey(seed, icao.CipherDESede, 112, KDFEnc)
	if err != nil {
		return nil, &ProtocolError{Protocol: "BAC", Step: 1, Message: "document key derivation failed", Cause: err}
	}
	defer wipe(kEnc)
	kMac, err := deriveKey(seed, icao.CipherDESede, 112, KDFMac)
	if err != nil {
		return nil, &ProtocolError{Protocol: "BAC", Step: 1, Message: "document key derivation failed", Cause: err}
	}
	defer wipe(kMac)

	// Step 2: obtain the card challenge.
	resp, err := transmit(client, iso7816.GetChallenge(cla, 8))
	if err != nil {
		return nil, err
	}
	if !resp.Status.IsSuccess() || len(resp.Data) != 8 {
		return nil, &ProtocolError{Protocol: "BAC", Step: 2, Status: resp.Status,
			Message: "card refused the challenge request"}
	}
	rndICC := resp.Data

	// Step 3: host challenge and key contribution.
	rndIFD := make([]byte, 8)
	kIFD := make([]byte, 16)
	defer wipe(kIFD)
	if _, err := io.ReadFull(rng, rndIFD); err != nil {
		return nil, errors.Wrap(err, "reading host challenge")
	}
	if _, err := io.ReadFull(rng, kIFD); err != nil {
		return nil, errors.Wrap(err, "reading host key material")
	}

	block, err := newDESedeCipher(kEnc)
	if err != nil {
		return nil, &ProtocolError{Protocol: "BAC", Step: 3, Message: "cipher setup failed", Cause: err}
	}

	s := make([]byte, 0, 32)
	s = append(s, rndIFD...)
	s = append(s, rndICC...)
	s = append(s, kIFD...)
	defer wipe(s)

	eIFD := make([]byte, 32)
	cipher.NewCBCEncrypter(block, make([]byte, 8)).CryptBlocks(eIFD, s)
	mIFD, err := retailMAC(kMac, pad(eIFD, 8))
	if err != nil {
		return nil, &ProtocolError{Protocol: "BAC", Step: 3, Message: "host cryptogram MAC failed", Cause: err}
	}

	// Step 4: mutual authentication.
	resp, err = transmit(client, iso7816.ExternalAuthenticate(cla, append(eIFD, mIFD...), 40))
	if err != nil {
		return nil, err
	}
	if !resp.Status.IsSuccess() {
		// 6300 is the canonical wrong-key answer.
		return nil, &ProtocolError{Protocol: "BAC", Step: 4, Status: resp.Status,
			Message: "mutual authentication rejected (wrong document key?)"}
	}
	if len(resp.Data) != 40 {
		return nil, &ProtocolError{Protocol: "BAC", Step: 4,
			Message: "card cryptogram has the wrong length"}
	}
	eICC, mICC := resp.Data[:32], resp.Data[32:]

	expectedMAC, err := retailMAC(kMac, pad(eICC, 8))
	if err != nil {
		return nil, &ProtocolError{Protocol: "BAC", Step: 5, Message: "card cryptogram MAC failed", Cause: err}
	}
	if !bytes.Equal(expectedMAC, mICC) {
		return nil, &SecurityError{Check: "bac-mac", Message: "card cryptogram MAC mismatch"}
	}

	r := make([]byte, 32)
	cipher.NewCBCDecrypter(block, make([]byte, 8)).CryptBlocks(r, eICC)
	defer wipe(r)

	// R = RND.ICC || RND.IFD || K.ICC
	if !bytes.Equal(r[:8], rndICC) || !bytes.Equal(r[8:16], rndIFD) {
		return nil, &SecurityError{Check: "bac-challenge", Message: "challenge echo mismatch"}
	}
	kICC := r[16:32]

	// Step 6: session keys from K.IFD XOR K.ICC, counter from the
	// low halves of the challenges.
	kSeed, err := xorBytes(kIFD, kICC)
	if err != nil {
		return nil, &ProtocolError{Protocol: "BAC", Step: 6, Message: "session seed combination failed", Cause: err}
	}
	defer wipe(kSeed)
	ksEnc, ksMac, err := deriveSessionKeys(kSeed, icao.CipherDESede, 112)
	if err != nil {
		return nil, &ProtocolError{Protocol: "BAC", Step: 6, Message: "session key derivation failed", Cause: err}
	}
	defer wipe(ksEnc)
	defer wipe(ksMac)

	sscBytes := append(append([]byte(nil), rndICC[4:]...), rndIFD[4:]...)
	ssc := binary.BigEndian.Uint64(sscBytes)

	slog.Info("basic access control established")
	return NewDESedeWrapper(ksEnc, ksMac, ssc, maxTranceive)
}
