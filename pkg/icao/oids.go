package icao

import (
	"encoding/asn1"
	"fmt"
)

// PROTOCOL OBJECT IDENTIFIERS (BSI TR-03110 / Doc 9303 part 11):
//
// Every access-control protocol variant is selected by an OID under the
// bsi-de arc 0.4.0.127.0.7.2.2. The last two arcs encode the key-agreement
// algorithm and the secure-messaging cipher; the registry below maps each
// OID to the parameters the engine needs to run it.

var (
	oidBsiDe = asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7}

	// Chip Authentication public keys (inside DG14).
	OidPKDH   = oidArc(oidBsiDe, 2, 2, 1, 1)
	OidPKECDH = oidArc(oidBsiDe, 2, 2, 1, 2)

	// Chip Authentication protocol variants.
	OidCADH3DES   = oidArc(oidBsiDe, 2, 2, 3, 1, 1)
	OidCADHAES128 = oidArc(oidBsiDe, 2, 2, 3, 1, 2)
	OidCADHAES192 = oidArc(oidBsiDe, 2, 2, 3, 1, 3)
	OidCADHAES256 = oidArc(oidBsiDe, 2, 2, 3, 1, 4)

	OidCAECDH3DES   = oidArc(oidBsiDe, 2, 2, 3, 2, 1)
	OidCAECDHAES128 = oidArc(oidBsiDe, 2, 2, 3, 2, 2)
	OidCAECDHAES192 = oidArc(oidBsiDe, 2, 2, 3, 2, 3)
	OidCAECDHAES256 = oidArc(oidBsiDe, 2, 2, 3, 2, 4)

	// PACE protocol variants: arc 4.<mapping-and-agreement>.<cipher>.
	OidPACEDHGM3DES   = oidArc(oidBsiDe, 2, 2, 4, 1, 1)
	OidPACEDHGMAES128 = oidArc(oidBsiDe, 2, 2, 4, 1, 2)
	OidPACEDHGMAES192 = oidArc(oidBsiDe, 2, 2, 4, 1, 3)
	OidPACEDHGMAES256 = oidArc(oidBsiDe, 2, 2, 4, 1, 4)

	OidPACEECDHGM3DES   = oidArc(oidBsiDe, 2, 2, 4, 2, 1)
	OidPACEECDHGMAES128 = oidArc(oidBsiDe, 2, 2, 4, 2, 2)
	OidPACEECDHGMAES192 = oidArc(oidBsiDe, 2, 2, 4, 2, 3)
	OidPACEECDHGMAES256 = oidArc(oidBsiDe, 2, 2, 4, 2, 4)

	OidPACEDHIM3DES   = oidArc(oidBsiDe, 2, 2, 4, 3, 1)
	OidPACEDHIMAES128 = oidArc(oidBsiDe, 2, 2, 4, 3, 2)
	OidPACEDHIMAES192 = oidArc(oidBsiDe, 2, 2, 4, 3, 3)
	OidPACEDHIMAES256 = oidArc(oidBsiDe, 2, 2, 4, 3, 4)

	OidPACEECDHIM3DES   = oidArc(oidBsiDe, 2, 2, 4, 4, 1)
	OidPACEECDHIMAES128 = oidArc(oidBsiDe, 2, 2, 4, 4, 2)
	OidPACEECDHIMAES192 = oidArc(oidBsiDe, 2, 2, 4, 4, 3)
	OidPACEECDHIMAES256 = oidArc(oidBsiDe, 2, 2, 4, 4, 4)

	OidPACEECDHCAMAES128 = oidArc(oidBsiDe, 2, 2, 4, 6, 2)
	OidPACEECDHCAMAES192 = oidArc(oidBsiDe, 2, 2, 4, 6, 3)
	OidPACEECDHCAMAES256 = oidArc(oidBsiDe, 2, 2, 4, 6, 4)
)

func oidArc(base asn1.ObjectIdentifier, arcs ...int) asn1.ObjectIdentifier {
	oid := make(asn1.ObjectIdentifier, 0, len(base)+len(arcs))
	oid = append(oid, base...)
	oid = append(oid, arcs...)
	return oid
}

// CipherFamily identifies the secure-messaging cipher negotiated by a
// protocol OID.
type CipherFamily int

const (
	CipherDESede CipherFamily = iota // two-key triple DES, CBC, retail MAC
	CipherAES                        // AES, CBC, CMAC
)

func (c CipherFamily) String() string {
	if c == CipherAES {
		return "AES"
	}
	return "DESede"
}

// Agreement identifies the key-agreement algebra of a protocol OID.
type Agreement int

const (
	AgreementDH Agreement = iota
	AgreementECDH
)

func (a Agreement) String() string {
	if a == AgreementECDH {
		return "ECDH"
	}
	return "DH"
}

// Mapping identifies the PACE nonce-mapping variant of a protocol OID.
type Mapping int

const (
	MappingNone       Mapping = iota
	MappingGeneric            // GM
	MappingIntegrated         // IM
	MappingChipAuth           // CAM
)

// ProtocolParams describes what an access-control protocol OID implies.
type ProtocolParams struct {
	Cipher    CipherFamily
	KeyBits   int // session key length
	Agreement Agreement
	Mapping   Mapping // PACE only
}

// LookupProtocol resolves a PACE or Chip Authentication OID; unknown OIDs
// are an error, not a default.
func LookupProtocol(oid asn1.ObjectIdentifier) (ProtocolParams, error) {
	// bsi-de 2 2 <proto> <algo> <cipher>
	if len(oid) != 11 || !oid[:8].Equal(oidArc(oidBsiDe, 2, 2)[:8]) {
		return ProtocolParams{}, fmt.Errorf("OID %v is not an access-control protocol", oid)
	}

	var p ProtocolParams
	switch oid[9] { // algorithm arc
	case 1, 3:
		p.Agreement = AgreementDH
	case 2, 4, 6:
		p.Agreement = AgreementECDH
	default:
		return ProtocolParams{}, fmt.Errorf("unknown key-agreement arc %d in %v", oid[9], oid)
	}

	switch oid[8] { // protocol arc
	case 3:
		p.Mapping = MappingNone // chip authentication
	case 4:
		switch oid[9] {
		case 1, 2:
			p.Mapping = MappingGeneric
		case 3, 4:
			p.Mapping = MappingIntegrated
		case 6:
			p.Mapping = MappingChipAuth
		}
	default:
		return ProtocolParams{}, fmt.Errorf("OID %v selects neither PACE nor chip authentication", oid)
	}

	switch oid[10] { // cipher arc
	case 1:
		p.Cipher, p.KeyBits = CipherDESede, 112
	case 2:
		p.Cipher, p.KeyBits = CipherAES, 128
	case 3:
		p.Cipher, p.KeyBits = CipherAES, 192
	case 4:
		p.Cipher, p.KeyBits = CipherAES, 256
	default:
		return ProtocolParams{}, fmt.Errorf("unknown cipher arc %d in %v", oid[10], oid)
	}

	return p, nil
}

// IsPACE reports whether the OID selects a PACE variant.
func IsPACE(oid asn1.ObjectIdentifier) bool {
	return len(oid) == 11 && oid[6] == 2 && oid[7] == 2 && oid[8] == 4
}

// IsChipAuthentication reports whether the OID selects a Chip
// Authentication variant.
func IsChipAuthentication(oid asn1.ObjectIdentifier) bool {
	return len(oid) == 11 && oid[6] == 2 && oid[7] == 2 && oid[8] == 3
}

// IsChipAuthenticationPublicKey reports whether the OID labels a chip
// static key (id-PK-DH or id-PK-ECDH).
func IsChipAuthenticationPublicKey(oid asn1.ObjectIdentifier) bool {
	return oid.Equal(OidPKDH) || oid.Equal(OidPKECDH)
}
