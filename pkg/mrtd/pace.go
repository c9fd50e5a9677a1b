package mrtd

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/asn1"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/aead/cmac"
	"github.com/moov-io/bertlv"

	"github.com/gregLibert/mrtd/pkg/icao"
	"github.com/gregLibert/mrtd/pkg/iso7816"
	"github.com/gregLibert/mrtd/pkg/tlv"
)

// PACE (Doc 9303 part 11, section 4.4):
//
// Password Authenticated Connection Establishment. The card announces the
// protocol variant in EF.CardAccess; the terminal selects it with MSE:Set
// AT and then runs four GENERAL AUTHENTICATE rounds:
//
//   round 1  card sends a nonce encrypted under the password key Kpi
//   round 2  both sides exchange mapping keys and rebase the generator
//   round 3  ephemeral key agreement on the mapped generator
//   round 4  mutual authentication tokens over the ephemeral keys
//
// The nonce-to-generator rule is the mapping variant: generic mapping
// (the common case) combines the nonce with the static generator by scalar
// multiplication (EC) or exponentiation (DH). The sequence counter of the
// resulting channel starts at zero.

// paceMapper is the nonce-combination rule selected by the protocol OID.
type paceMapper interface {
	// mapDomain runs the mapping exchange of round 2 and returns the
	// ephemeral key pair to use for the agreement of round 3.
	mapDomain(ga *paceRounds, nonce []byte) (keyAgreement, error)
}

// performPACE runs the announced variant over a plain channel and, on
// success, returns the fresh secure channel.
func performPACE(client *iso7816.Client, key *AccessKey, info *icao.PACEInfo, rng io.Reader, maxTranceive int) (Wrapper, error) {
	if rng == nil {
		rng = rand.Reader
	}

	params, err := icao.LookupProtocol(info.Protocol)
	if err != nil {
		return nil, &ProtocolError{Protocol: "PACE", Step: 1, Message: "unusable protocol announcement", Cause: err}
	}

	var mapper paceMapper
	switch params.Mapping {
	case icao.MappingGeneric:
		mapper = genericMapper{rng: rng}
	default:
		// Integrated and chip-authentication mapping keep the same round
		// structure but replace the combination rule; no deployed document
		// in this profile announces them.
		return nil, &ProtocolError{Protocol: "PACE", Step: 1,
			Message: fmt.Sprintf("mapping variant of %v is not supported", info.Protocol)}
	}

	if info.ParameterID < 0 {
		return nil, &ProtocolError{Protocol: "PACE", Step: 1,
			Message: "proprietary domain parameters are not supported"}
	}
	domain, err := icao.StandardDomainParams(info.ParameterID)
	if err != nil {
		return nil, &ProtocolError{Protocol: "PACE", Step: 1, Message: "unusable domain parameters", Cause: err}
	}

	kPi, err := key.paceKey(params.Cipher, params.KeyBits)
	if err != nil {
		return nil, &ProtocolError{Protocol: "PACE", Step: 1, Message: "password key derivation failed", Cause: err}
	}
	defer wipe(kPi)

	cla, _ := iso7816.NewClass(0x00)
	ga := &paceRounds{client: client, cla: cla, domain: domain, rng: rng}

	// Step 1: select the protocol.
	mse := appendDO(nil, 0x80, oidContent(info.Protocol))
	mse = appendDO(mse, 0x83, []byte{key.Type().paceKeyReference()})
	mse = appendDO(mse, 0x84, []byte{byte(info.ParameterID)})
	resp, err := transmit(client, iso7816.ManageSecurityEnvironment(cla, iso7816.MSESetATMutualAuth, iso7816.MSEP2AT, mse))
	if err != nil {
		return nil, err
	}
	if !resp.Status.IsSuccess() {
		return nil, &ProtocolError{Protocol: "PACE", Step: 1, Status: resp.Status,
			Message: "card refused the protocol selection"}
	}

	// Step 2: obtain and decrypt the nonce.
	encNonce, err := ga.round(0x00, nil, 0x80, true)
	if err != nil {
		return nil, err
	}
	nonce, err := decryptNonce(kPi, params.Cipher, encNonce)
	if err != nil {
		return nil, &ProtocolError{Protocol: "PACE", Step: 2, Message: "nonce decryption failed", Cause: err}
	}
	defer wipe(nonce)

	// Step 3: rebase the generator and generate the ephemeral pair.
	eph, err := mapper.mapDomain(ga, nonce)
	if err != nil {
		return nil, err
	}
	defer eph.destroy()

	// Step 4: ephemeral key agreement.
	cardEph, err := ga.round(0x83, eph.publicBytes(), 0x84, true)
	if err != nil {
		return nil, err
	}
	shared, err := eph.sharedSecret(cardEph)
	if err != nil {
		return nil, &SecurityError{Check: "pace-agreement", Message: "ephemeral key agreement failed", Cause: err}
	}
	defer wipe(shared)

	ksEnc, ksMac, err := deriveSessionKeys(shared, params.Cipher, params.KeyBits)
	if err != nil {
		return nil, &ProtocolError{Protocol: "PACE", Step: 4, Message: "session key derivation failed", Cause: err}
	}
	defer wipe(ksEnc)
	defer wipe(ksMac)

	// Step 5: mutual authentication. Each side MACs the other party's
	// ephemeral key in its public-key data object form.
	tIFD, err := authToken(params.Cipher, ksMac, publicKeyDO(info.Protocol, cardEph))
	if err != nil {
		return nil, &ProtocolError{Protocol: "PACE", Step: 5, Message: "token computation failed", Cause: err}
	}
	tICC, err := ga.round(0x85, tIFD, 0x86, false)
	if err != nil {
		return nil, err
	}
	expected, err := authToken(params.Cipher, ksMac, publicKeyDO(info.Protocol, eph.publicBytes()))
	if err != nil {
		return nil, &ProtocolError{Protocol: "PACE", Step: 5, Message: "token computation failed", Cause: err}
	}
	if !bytes.Equal(tICC, expected) {
		return nil, &SecurityError{Check: "pace-token", Message: "card authentication token mismatch"}
	}

	slog.Info("PACE established", "cipher", params.Cipher.String(), "domain", domain.ID)
	if params.Cipher == icao.CipherAES {
		return NewAESWrapper(ksEnc, ksMac, maxTranceive)
	}
	return NewDESedeWrapper(ksEnc, ksMac, 0, maxTranceive)
}

// paceRounds drives the GENERAL AUTHENTICATE exchanges.
type paceRounds struct {
	client *iso7816.Client
	cla    iso7816.Class
	domain *icao.DomainParams
	rng    io.Reader
}

// round sends one dynamic authentication data object and extracts the
// card's reply object. sendTag 0x00 sends an empty '7C' request.
func (g *paceRounds) round(sendTag byte, value []byte, wantTag int, chained bool) ([]byte, error) {
	var inner []byte
	if sendTag != 0x00 {
		inner = appendDO(nil, sendTag, value)
	}
	data := appendDO(nil, 0x7C, inner)

	resp, err := transmit(g.client, iso7816.GeneralAuthenticate(g.cla, data, iso7816.MaxShortLe, chained))
	if err != nil {
		return nil, err
	}
	if !resp.Status.IsSuccess() {
		return nil, &ProtocolError{Protocol: "PACE", Status: resp.Status,
			Message: fmt.Sprintf("card rejected authentication round %02X", sendTag)}
	}
	return dynAuthValue(resp.Data, wantTag)
}

// dynAuthValue extracts one object from a '7C' dynamic authentication
// response.
func dynAuthValue(data []byte, wantTag int) ([]byte, error) {
	outerTag, outerLen, header, err := tlv.ReadHeader(data)
	if err != nil || outerTag != 0x7C {
		return nil, &ProtocolError{Protocol: "PACE", Message: "response lacks dynamic authentication data", Cause: err}
	}
	rest := data[header:]
	if len(rest) < outerLen {
		return nil, &ProtocolError{Protocol: "PACE", Message: "truncated dynamic authentication data"}
	}
	rest = rest[:outerLen]
	for len(rest) > 0 {
		t, l, h, err := tlv.ReadHeader(rest)
		if err != nil || len(rest) < h+l {
			return nil, &ProtocolError{Protocol: "PACE", Message: "malformed dynamic authentication object", Cause: err}
		}
		if t == wantTag {
			return rest[h : h+l], nil
		}
		rest = rest[h+l:]
	}
	return nil, &ProtocolError{Protocol: "PACE",
		Message: fmt.Sprintf("response lacks object %02X", wantTag)}
}

// genericMapper implements the generic mapping: the new generator is
// s*G + H (EC) or g^s * h (DH), with H/h agreed through a dedicated
// mapping key exchange.
type genericMapper struct {
	rng io.Reader
}

func (m genericMapper) mapDomain(ga *paceRounds, nonce []byte) (keyAgreement, error) {
	mapPair, err := newKeyAgreement(ga.domain, m.rng)
	if err != nil {
		return nil, &ProtocolError{Protocol: "PACE", Step: 3, Message: "mapping key generation failed", Cause: err}
	}
	defer mapPair.destroy()

	cardMapKey, err := ga.round(0x81, mapPair.publicBytes(), 0x82, true)
	if err != nil {
		return nil, err
	}
	hx, hy, err := mapPair.sharedPoint(cardMapKey)
	if err != nil {
		return nil, &SecurityError{Check: "pace-mapping", Message: "mapping key agreement failed", Cause: err}
	}

	s := new(big.Int).SetBytes(nonce)
	defer s.SetInt64(0)

	if curve := ga.domain.Curve; curve != nil {
		cp := curve.Params()
		sgx, sgy := curve.ScalarBaseMult(s.Mod(s, cp.N).Bytes())
		gx, gy := curve.Add(sgx, sgy, hx, hy)
		if gx.Sign() == 0 && gy.Sign() == 0 {
			return nil, &SecurityError{Check: "pace-mapping", Message: "mapped generator is the point at infinity"}
		}
		return newECDHPair(curve, gx, gy, m.rng)
	}

	dh := ga.domain.DH
	g := new(big.Int).Exp(dh.G, s, dh.P)
	g.Mul(g, hx).Mod(g, dh.P)
	if g.Cmp(big.NewInt(1)) <= 0 {
		return nil, &SecurityError{Check: "pace-mapping", Message: "degenerate mapped generator"}
	}
	return newDHPair(dh, g, m.rng)
}

// decryptNonce recovers the plaintext nonce with the password key.
func decryptNonce(kPi []byte, family icao.CipherFamily, ct []byte) ([]byte, error) {
	var block cipher.Block
	var err error
	if family == icao.CipherAES {
		block, err = aes.NewCipher(kPi)
	} else {
		block, err = newDESedeCipher(kPi)
	}
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	if len(ct) == 0 || len(ct)%bs != 0 {
		return nil, fmt.Errorf("encrypted nonce of %d bytes not block aligned", len(ct))
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, make([]byte, bs)).CryptBlocks(out, ct)
	return out, nil
}

// authToken computes the 8-byte mutual-authentication token over the
// encoded public-key object.
func authToken(family icao.CipherFamily, ksMac, input []byte) ([]byte, error) {
	if family == icao.CipherAES {
		block, err := aes.NewCipher(ksMac)
		if err != nil {
			return nil, err
		}
		full, err := cmac.Sum(input, block, 16)
		if err != nil {
			return nil, err
		}
		return full[:8], nil
	}
	return retailMAC(ksMac, pad(input, 8))
}

// publicKeyDO encodes an ephemeral public key as the '7F49' object the
// authentication tokens are computed over.
func publicKeyDO(protocol asn1.ObjectIdentifier, public []byte) []byte {
	keyTag := "84" // DH public value
	if isECPoint(public) {
		keyTag = "86" // uncompressed EC point
	}
	encoded, err := bertlv.Encode([]bertlv.TLV{
		bertlv.NewComposite("7F49",
			bertlv.NewTag("06", oidContent(protocol)),
			bertlv.NewTag(keyTag, public),
		),
	})
	if err != nil {
		// Encoding a well-formed object cannot fail.
		panic(err)
	}
	return encoded
}

// isECPoint recognizes the uncompressed point prefix.
func isECPoint(public []byte) bool {
	return len(public) > 0 && public[0] == 0x04 && len(public)%2 == 1
}

// oidContent returns the DER content octets of an OID, as embedded in
// command data objects.
func oidContent(oid asn1.ObjectIdentifier) []byte {
	der, err := asn1.Marshal(oid)
	if err != nil || len(der) < 2 {
		panic(fmt.Sprintf("cannot encode OID %v", oid))
	}
	return der[2:]
}
