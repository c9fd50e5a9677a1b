package icao

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"math/big"
	"testing"
)

func TestParseSubjectPublicKey_NamedCurve(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Generating test key failed: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("Encoding test key failed: %v", err)
	}

	dp, pub, err := ParseSubjectPublicKey(der)
	if err != nil {
		t.Fatalf("ParseSubjectPublicKey failed: %v", err)
	}
	if dp.Curve == nil || dp.Curve.Params().BitSize != 256 {
		t.Fatal("Expected the P-256 curve")
	}
	expected := elliptic.Marshal(elliptic.P256(), key.X, key.Y)
	if !bytes.Equal(pub, expected) {
		t.Error("Public point does not round-trip")
	}
}

func TestParseSubjectPublicKey_ExplicitParameters(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Generating test key failed: %v", err)
	}
	params := elliptic.P256().Params()

	explicit, err := asn1.Marshal(ecParameters{
		Version: 1,
		FieldID: ecFieldID{
			FieldType: asn1.ObjectIdentifier{1, 2, 840, 10045, 1, 1},
			Prime:     params.P,
		},
		Curve: ecCurve{
			A: new(big.Int).Sub(params.P, big.NewInt(3)).Bytes(),
			B: params.B.Bytes(),
		},
		Base:     elliptic.Marshal(elliptic.P256(), params.Gx, params.Gy),
		Order:    params.N,
		Cofactor: big.NewInt(1),
	})
	if err != nil {
		t.Fatalf("Encoding explicit parameters failed: %v", err)
	}

	der, err := asn1.Marshal(subjectPublicKeyInfo{
		Algorithm: algorithmIdentifier{
			Algorithm:  oidECPublicKey,
			Parameters: asn1.RawValue{FullBytes: explicit},
		},
		PublicKey: bitString(elliptic.Marshal(elliptic.P256(), key.X, key.Y)),
	})
	if err != nil {
		t.Fatalf("Encoding SubjectPublicKeyInfo failed: %v", err)
	}

	dp, pub, err := ParseSubjectPublicKey(der)
	if err != nil {
		t.Fatalf("ParseSubjectPublicKey failed: %v", err)
	}
	if dp.Curve == nil || dp.Curve.Params().Name != "P-256" {
		t.Fatal("Explicit parameters should resolve to P-256")
	}
	if pub[0] != 0x04 {
		t.Error("Expected an uncompressed point")
	}
}

func TestParseSubjectPublicKey_DH(t *testing.T) {
	group, err := StandardDomainParams(0)
	if err != nil {
		t.Fatalf("StandardDomainParams failed: %v", err)
	}
	y := new(big.Int).Exp(group.DH.G, big.NewInt(12345), group.DH.P)

	dhParams, err := asn1.Marshal(dhParameter{P: group.DH.P, G: group.DH.G, Q: group.DH.Q})
	if err != nil {
		t.Fatalf("Encoding DH parameters failed: %v", err)
	}
	pubInt, err := asn1.Marshal(y)
	if err != nil {
		t.Fatalf("Encoding DH public value failed: %v", err)
	}

	der, err := asn1.Marshal(subjectPublicKeyInfo{
		Algorithm: algorithmIdentifier{
			Algorithm:  oidDHPublicKey,
			Parameters: asn1.RawValue{FullBytes: dhParams},
		},
		PublicKey: bitString(pubInt),
	})
	if err != nil {
		t.Fatalf("Encoding SubjectPublicKeyInfo failed: %v", err)
	}

	dp, pub, err := ParseSubjectPublicKey(der)
	if err != nil {
		t.Fatalf("ParseSubjectPublicKey failed: %v", err)
	}
	if dp.DH == nil || dp.DH.P.Cmp(group.DH.P) != 0 {
		t.Fatal("DH group does not round-trip")
	}
	if !bytes.Equal(pub, y.Bytes()) {
		t.Error("DH public value does not round-trip")
	}
}

func TestParseSubjectPublicKey_Rejections(t *testing.T) {
	rsaOID := asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}

	unsupported, err := asn1.Marshal(subjectPublicKeyInfo{
		Algorithm: algorithmIdentifier{Algorithm: rsaOID},
		PublicKey: bitString([]byte{0x00}),
	})
	if err != nil {
		t.Fatalf("Encoding fixture failed: %v", err)
	}

	tests := []struct {
		name string
		der  []byte
	}{
		{"Garbage", []byte{0x01, 0x02, 0x03}},
		{"Unsupported algorithm", unsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseSubjectPublicKey(tt.der); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func bitString(b []byte) asn1.BitString {
	return asn1.BitString{Bytes: b, BitLength: len(b) * 8}
}
