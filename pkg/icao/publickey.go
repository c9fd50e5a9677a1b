package icao

import (
	"crypto/elliptic"
	"encoding/asn1"
	"fmt"
	"math/big"
)

// Chip Authentication static keys arrive in DG14 as SubjectPublicKeyInfo
// structures. Documents encode EC domain parameters either by named-curve
// OID or, more often, as explicit ECParameters; DH keys use PKCS#3 style
// parameters. None of this round-trips through the x509 package, so the
// structures are decoded here.

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type subjectPublicKeyInfo struct {
	Algorithm algorithmIdentifier
	PublicKey asn1.BitString
}

// ECParameters, X9.62 explicit form.
type ecParameters struct {
	Version  int
	FieldID  ecFieldID
	Curve    ecCurve
	Base     []byte
	Order    *big.Int
	Cofactor *big.Int `asn1:"optional"`
}

type ecFieldID struct {
	FieldType asn1.ObjectIdentifier
	Prime     *big.Int
}

type ecCurve struct {
	A    []byte
	B    []byte
	Seed asn1.BitString `asn1:"optional"`
}

// PKCS#3 DHParameter.
type dhParameter struct {
	P *big.Int
	G *big.Int
	Q *big.Int `asn1:"optional"`
}

var (
	oidECPublicKey = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidDHPublicKey = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 3, 1}

	namedCurves = map[string]elliptic.Curve{}
)

func init() {
	for oid, id := range map[string]int{
		"1.2.840.10045.3.1.1":   8,  // secp192r1
		"1.3.132.0.33":          10, // secp224r1
		"1.2.840.10045.3.1.7":   12, // secp256r1
		"1.3.132.0.34":          15, // secp384r1
		"1.3.132.0.35":          18, // secp521r1
		"1.3.36.3.3.2.8.1.1.1":  9,  // brainpoolP192r1
		"1.3.36.3.3.2.8.1.1.3":  11, // brainpoolP224r1
		"1.3.36.3.3.2.8.1.1.7":  13, // brainpoolP256r1
		"1.3.36.3.3.2.8.1.1.9":  14, // brainpoolP320r1
		"1.3.36.3.3.2.8.1.1.11": 16, // brainpoolP384r1
		"1.3.36.3.3.2.8.1.1.13": 17, // brainpoolP512r1
	} {
		if c, ok := standardCurves[id]; ok {
			namedCurves[oid] = c
		}
	}
}

// ParseSubjectPublicKey decodes a Chip Authentication static key: the
// domain parameters it lives on and its raw public encoding (uncompressed
// point for EC, big-endian integer for DH).
func ParseSubjectPublicKey(der []byte) (*DomainParams, []byte, error) {
	var spki subjectPublicKeyInfo
	if rest, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, nil, fmt.Errorf("malformed SubjectPublicKeyInfo: %w", err)
	} else if len(rest) > 0 {
		return nil, nil, fmt.Errorf("trailing data after SubjectPublicKeyInfo")
	}
	if spki.PublicKey.BitLength == 0 || spki.PublicKey.BitLength%8 != 0 {
		return nil, nil, fmt.Errorf("public key is not an octet-aligned bit string")
	}
	keyBytes := spki.PublicKey.Bytes

	switch {
	case spki.Algorithm.Algorithm.Equal(oidECPublicKey):
		curve, err := parseECParameters(spki.Algorithm.Parameters)
		if err != nil {
			return nil, nil, err
		}
		if len(keyBytes) == 0 || keyBytes[0] != 0x04 {
			return nil, nil, fmt.Errorf("EC public key is not an uncompressed point")
		}
		return &DomainParams{Curve: curve}, keyBytes, nil

	case spki.Algorithm.Algorithm.Equal(oidDHPublicKey):
		var params dhParameter
		if _, err := asn1.Unmarshal(spki.Algorithm.Parameters.FullBytes, &params); err != nil {
			return nil, nil, fmt.Errorf("malformed DH parameters: %w", err)
		}
		var y *big.Int
		if _, err := asn1.Unmarshal(keyBytes, &y); err != nil {
			return nil, nil, fmt.Errorf("malformed DH public value: %w", err)
		}
		return &DomainParams{DH: &DHParams{P: params.P, G: params.G, Q: params.Q}}, y.Bytes(), nil

	default:
		return nil, nil, fmt.Errorf("unsupported public key algorithm %v", spki.Algorithm.Algorithm)
	}
}

func parseECParameters(params asn1.RawValue) (elliptic.Curve, error) {
	if len(params.FullBytes) == 0 {
		return nil, fmt.Errorf("EC key lacks domain parameters")
	}

	// Named curve form.
	if params.Tag == asn1.TagOID {
		var oid asn1.ObjectIdentifier
		if _, err := asn1.Unmarshal(params.FullBytes, &oid); err != nil {
			return nil, fmt.Errorf("malformed named-curve OID: %w", err)
		}
		if c, ok := namedCurves[oid.String()]; ok {
			return c, nil
		}
		return nil, fmt.Errorf("unsupported named curve %v", oid)
	}

	// Explicit parameter form: match against the standardized curves by
	// prime and coefficient rather than trusting the base point blindly.
	var explicit ecParameters
	if _, err := asn1.Unmarshal(params.FullBytes, &explicit); err != nil {
		return nil, fmt.Errorf("malformed explicit EC parameters: %w", err)
	}
	b := new(big.Int).SetBytes(explicit.Curve.B)
	if c, ok := CurveForParams(explicit.FieldID.Prime, b); ok {
		return c, nil
	}
	return nil, fmt.Errorf("explicit EC parameters match no supported curve")
}
