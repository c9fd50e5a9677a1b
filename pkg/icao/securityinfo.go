package icao

import (
	"encoding/asn1"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/gregLibert/mrtd/pkg/tlv"
)

// SECURITY INFOS (Doc 9303 part 11):
//
// EF.CardAccess and DG14 both carry a SET OF SecurityInfo. Each element is
// a SEQUENCE starting with a protocol OID; the shape of the remaining
// fields depends on that OID. Only the three kinds the access-control
// engine consumes are materialized here; everything else is retained as an
// opaque entry so a chip announcing unknown protocols still parses.

// PACEInfo announces a PACE protocol variant.
type PACEInfo struct {
	Protocol    asn1.ObjectIdentifier
	Version     int
	ParameterID int // -1 when absent
}

// ChipAuthenticationInfo announces a Chip Authentication variant.
type ChipAuthenticationInfo struct {
	Protocol asn1.ObjectIdentifier
	Version  int
	KeyID    *big.Int // nil when absent
}

// ChipAuthenticationPublicKeyInfo carries a chip static public key.
type ChipAuthenticationPublicKeyInfo struct {
	Protocol asn1.ObjectIdentifier // id-PK-DH or id-PK-ECDH
	// SubjectPublicKeyInfo is the full DER encoding of the key, suitable
	// for x509-style parsing.
	SubjectPublicKeyInfo []byte
	KeyID                *big.Int // nil when absent
}

// SecurityInfos is the decoded content of EF.CardAccess or DG14.
type SecurityInfos struct {
	PACE         []PACEInfo
	ChipAuth     []ChipAuthenticationInfo
	ChipAuthKeys []ChipAuthenticationPublicKeyInfo
	UnknownCount int
}

// ParseSecurityInfos decodes a DER SET OF SecurityInfo.
func ParseSecurityInfos(der []byte) (*SecurityInfos, error) {
	input := cryptobyte.String(der)
	var set cryptobyte.String
	if !input.ReadASN1(&set, casn1.SET) {
		return nil, fmt.Errorf("SecurityInfos: outer SET malformed")
	}

	infos := &SecurityInfos{}
	for !set.Empty() {
		var element cryptobyte.String
		if !set.ReadASN1(&element, casn1.SEQUENCE) {
			return nil, fmt.Errorf("SecurityInfos: element is not a SEQUENCE")
		}

		var oid asn1.ObjectIdentifier
		if !element.ReadASN1ObjectIdentifier(&oid) {
			return nil, fmt.Errorf("SecurityInfos: element lacks a protocol OID")
		}

		switch {
		case IsPACE(oid):
			info, err := parsePACEInfo(oid, element)
			if err != nil {
				return nil, err
			}
			infos.PACE = append(infos.PACE, info)
		case IsChipAuthentication(oid):
			info, err := parseChipAuthInfo(oid, element)
			if err != nil {
				return nil, err
			}
			infos.ChipAuth = append(infos.ChipAuth, info)
		case IsChipAuthenticationPublicKey(oid):
			info, err := parseChipAuthPublicKeyInfo(oid, element)
			if err != nil {
				return nil, err
			}
			infos.ChipAuthKeys = append(infos.ChipAuthKeys, info)
		default:
			infos.UnknownCount++
		}
	}

	return infos, nil
}

// ParseCardAccess decodes EF.CardAccess, which is the bare SET.
func ParseCardAccess(data []byte) (*SecurityInfos, error) {
	return ParseSecurityInfos(data)
}

// ParseDG14 decodes DG14, which wraps the SET in the application tag '6E'.
func ParseDG14(data []byte) (*SecurityInfos, error) {
	tag, length, header, err := tlv.ReadHeader(data)
	if err != nil {
		return nil, fmt.Errorf("DG14 header: %w", err)
	}
	if tag != 0x6E {
		return nil, fmt.Errorf("DG14 has outer tag %02X, expected 6E", tag)
	}
	if len(data) < header+length {
		return nil, fmt.Errorf("DG14 truncated: header declares %d bytes, %d present", length, len(data)-header)
	}
	return ParseSecurityInfos(data[header : header+length])
}

func parsePACEInfo(oid asn1.ObjectIdentifier, element cryptobyte.String) (PACEInfo, error) {
	info := PACEInfo{Protocol: oid, ParameterID: -1}

	var version int
	if !element.ReadASN1Integer(&version) {
		return info, fmt.Errorf("PACEInfo %v: missing version", oid)
	}
	if version != 2 {
		return info, fmt.Errorf("PACEInfo %v: unsupported version %d", oid, version)
	}
	info.Version = version

	if !element.Empty() {
		var id int
		if !element.ReadASN1Integer(&id) {
			return info, fmt.Errorf("PACEInfo %v: malformed parameterId", oid)
		}
		info.ParameterID = id
	}
	return info, nil
}

func parseChipAuthInfo(oid asn1.ObjectIdentifier, element cryptobyte.String) (ChipAuthenticationInfo, error) {
	info := ChipAuthenticationInfo{Protocol: oid}

	var version int
	if !element.ReadASN1Integer(&version) {
		return info, fmt.Errorf("ChipAuthenticationInfo %v: missing version", oid)
	}
	if version != 1 {
		return info, fmt.Errorf("ChipAuthenticationInfo %v: unsupported version %d", oid, version)
	}
	info.Version = version

	if !element.Empty() {
		keyID := new(big.Int)
		if !element.ReadASN1Integer(keyID) {
			return info, fmt.Errorf("ChipAuthenticationInfo %v: malformed keyId", oid)
		}
		info.KeyID = keyID
	}
	return info, nil
}

func parseChipAuthPublicKeyInfo(oid asn1.ObjectIdentifier, element cryptobyte.String) (ChipAuthenticationPublicKeyInfo, error) {
	info := ChipAuthenticationPublicKeyInfo{Protocol: oid}

	var spki cryptobyte.String
	if !element.ReadASN1Element(&spki, casn1.SEQUENCE) {
		return info, fmt.Errorf("ChipAuthenticationPublicKeyInfo %v: missing SubjectPublicKeyInfo", oid)
	}
	info.SubjectPublicKeyInfo = append([]byte(nil), spki...)

	if !element.Empty() {
		keyID := new(big.Int)
		if !element.ReadASN1Integer(keyID) {
			return info, fmt.Errorf("ChipAuthenticationPublicKeyInfo %v: malformed keyId", oid)
		}
		info.KeyID = keyID
	}
	return info, nil
}

// MatchChipAuthentication pairs a ChipAuthenticationInfo with the static
// key it references. With a single key and no identifiers any pairing is
// accepted; otherwise key identifiers must match.
func (s *SecurityInfos) MatchChipAuthentication() (*ChipAuthenticationInfo, *ChipAuthenticationPublicKeyInfo, error) {
	if len(s.ChipAuth) == 0 || len(s.ChipAuthKeys) == 0 {
		return nil, nil, fmt.Errorf("chip authentication requires both a protocol info and a public key (have %d/%d)",
			len(s.ChipAuth), len(s.ChipAuthKeys))
	}

	for i := range s.ChipAuth {
		ca := &s.ChipAuth[i]
		for j := range s.ChipAuthKeys {
			key := &s.ChipAuthKeys[j]
			if ca.KeyID == nil || key.KeyID == nil || ca.KeyID.Cmp(key.KeyID) == 0 {
				return ca, key, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("no chip authentication info matches an announced static key")
}
