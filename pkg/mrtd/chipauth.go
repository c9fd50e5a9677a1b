package mrtd

import (
	"crypto/rand"
	"io"
	"log/slog"

	"github.com/gregLibert/mrtd/pkg/icao"
	"github.com/gregLibert/mrtd/pkg/iso7816"
)

// CHIP AUTHENTICATION (BSI TR-03110, EAC-CA version 1):
//
// The terminal agrees an ephemeral-static Diffie-Hellman secret with the
// chip's DG14 key and restarts secure messaging from it. Only a chip that
// holds the genuine static private key can derive the same session keys,
// so every MAC that verifies on the new channel authenticates the chip;
// there is no explicit token exchange.
//
// The transfer of the terminal's ephemeral key depends on the cipher
// family: AES variants use MSE:Set AT followed by GENERAL AUTHENTICATE,
// the DESede variant uses a one-shot MSE:KAT, split into command-chained
// segments when the card rejects the single transfer.

// CAResult is the outcome of a Chip Authentication run.
type CAResult struct {
	Wrapper Wrapper
	// KeyHash is the SHA-1 of the terminal's ephemeral public key, as
	// referenced by terminal authentication.
	KeyHash []byte
}

// chainSegment is the data size per command when falling back to chaining.
const chainSegment = 223

// performChipAuthentication runs EAC-CA over the current secure channel.
// The commands travel through the established wrapper via client; the
// result carries the replacement wrapper.
func performChipAuthentication(client *iso7816.Client, info *icao.ChipAuthenticationInfo,
	keyInfo *icao.ChipAuthenticationPublicKeyInfo, rng io.Reader, maxTranceive int) (*CAResult, error) {

	if rng == nil {
		rng = rand.Reader
	}

	params, err := icao.LookupProtocol(info.Protocol)
	if err != nil {
		return nil, &ProtocolError{Protocol: "CA", Step: 1, Message: "unusable protocol announcement", Cause: err}
	}

	domain, chipPub, err := icao.ParseSubjectPublicKey(keyInfo.SubjectPublicKeyInfo)
	if err != nil {
		return nil, &ProtocolError{Protocol: "CA", Step: 1, Message: "unusable chip public key", Cause: err}
	}

	eph, err := newKeyAgreement(domain, rng)
	if err != nil {
		return nil, &ProtocolError{Protocol: "CA", Step: 1, Message: "ephemeral key generation failed", Cause: err}
	}
	defer eph.destroy()
	ephPub := eph.publicBytes()

	if params.Cipher == icao.CipherAES {
		err = sendEphemeralViaGA(client, info, ephPub)
	} else {
		err = sendEphemeralViaKAT(client, info, ephPub)
	}
	if err != nil {
		return nil, err
	}

	shared, err := eph.sharedSecret(chipPub)
	if err != nil {
		return nil, &SecurityError{Check: "ca-agreement", Message: "key agreement with the chip key failed", Cause: err}
	}
	defer wipe(shared)

	ksEnc, ksMac, err := deriveSessionKeys(shared, params.Cipher, params.KeyBits)
	if err != nil {
		return nil, &ProtocolError{Protocol: "CA", Step: 4, Message: "session key derivation failed", Cause: err}
	}
	defer wipe(ksEnc)
	defer wipe(ksMac)

	var wrapper Wrapper
	if params.Cipher == icao.CipherAES {
		wrapper, err = NewAESWrapper(ksEnc, ksMac, maxTranceive)
	} else {
		wrapper, err = NewDESedeWrapper(ksEnc, ksMac, 0, maxTranceive)
	}
	if err != nil {
		return nil, &ProtocolError{Protocol: "CA", Step: 5, Message: "channel restart failed", Cause: err}
	}

	slog.Info("chip authentication established", "cipher", params.Cipher.String())
	return &CAResult{Wrapper: wrapper, KeyHash: sha1Of(ephPub)}, nil
}

// sendEphemeralViaGA selects the protocol with MSE:Set AT and transfers
// the ephemeral key in a GENERAL AUTHENTICATE round (AES variants).
func sendEphemeralViaGA(client *iso7816.Client, info *icao.ChipAuthenticationInfo, ephPub []byte) error {
	cla, _ := iso7816.NewClass(0x00)

	mse := appendDO(nil, 0x80, oidContent(info.Protocol))
	if info.KeyID != nil {
		mse = appendDO(mse, 0x84, info.KeyID.Bytes())
	}
	resp, err := transmit(client, iso7816.ManageSecurityEnvironment(cla, iso7816.MSESetATIntAuth, iso7816.MSEP2AT, mse))
	if err != nil {
		return err
	}
	if !resp.Status.IsSuccess() {
		return &ProtocolError{Protocol: "CA", Step: 2, Status: resp.Status,
			Message: "card refused the protocol selection"}
	}

	data := appendDO(nil, 0x7C, appendDO(nil, 0x80, ephPub))
	resp, err = transmit(client, iso7816.GeneralAuthenticate(cla, data, iso7816.MaxShortLe, false))
	if err != nil {
		return err
	}
	if !resp.Status.IsSuccess() {
		return &ProtocolError{Protocol: "CA", Step: 2, Status: resp.Status,
			Message: "card refused the ephemeral key"}
	}
	return nil
}

// sendEphemeralViaKAT transfers the ephemeral key in one MSE:Key Agreement
// Template (DESede variant), retrying in chained segments when the card
// rejects the single transfer.
func sendEphemeralViaKAT(client *iso7816.Client, info *icao.ChipAuthenticationInfo, ephPub []byte) error {
	cla, _ := iso7816.NewClass(0x00)

	data := appendDO(nil, 0x91, ephPub)
	if info.KeyID != nil {
		data = appendDO(data, 0x84, info.KeyID.Bytes())
	}

	resp, err := transmit(client, iso7816.ManageSecurityEnvironment(cla, iso7816.MSESetATIntAuth, iso7816.MSEP2KAT, data))
	if err != nil {
		return err
	}
	if resp.Status.IsSuccess() {
		return nil
	}
	slog.Debug("key agreement template rejected, retrying chained", "sw", resp.Status.Verbose())

	for off := 0; off < len(data); off += chainSegment {
		end := off + chainSegment
		last := end >= len(data)
		if last {
			end = len(data)
		}

		segCla := cla
		segCla.IsChained = !last
		if raw, err := segCla.Encode(); err == nil {
			segCla.Raw = raw
		}

		resp, err = transmit(client, iso7816.ManageSecurityEnvironment(segCla, iso7816.MSESetATIntAuth, iso7816.MSEP2KAT, data[off:end]))
		if err != nil {
			return err
		}
		if !resp.Status.IsSuccess() {
			return &ProtocolError{Protocol: "CA", Step: 2, Status: resp.Status,
				Message: "card refused the chained key agreement template"}
		}
	}
	return nil
}
