package icao

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"math/big"
	"testing"

	"github.com/gregLibert/mrtd/pkg/tlv"
)

// Fixture mirrors of the SecurityInfo shapes, marshaled with encoding/asn1.
// Separate types with and without the trailing optional field keep the
// marshaler from emitting empty placeholders.

type securityInfoFixture struct {
	Protocol asn1.ObjectIdentifier
	Version  int
}

type securityInfoWithIDFixture struct {
	Protocol asn1.ObjectIdentifier
	Version  int
	ID       int
}

type publicKeyInfoFixture struct {
	Protocol asn1.ObjectIdentifier
	SPKI     asn1.RawValue
}

func marshalSet(t *testing.T, elements ...interface{}) []byte {
	t.Helper()
	var body []byte
	for _, e := range elements {
		der, err := asn1.Marshal(e)
		if err != nil {
			t.Fatalf("Marshaling fixture element failed: %v", err)
		}
		body = append(body, der...)
	}
	set, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true, Bytes: body})
	if err != nil {
		t.Fatalf("Marshaling fixture SET failed: %v", err)
	}
	return set
}

func testSPKI(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Generating test key failed: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("Encoding test key failed: %v", err)
	}
	return der
}

func TestParseSecurityInfos(t *testing.T) {
	spki := testSPKI(t)

	der := marshalSet(t,
		securityInfoWithIDFixture{Protocol: OidPACEECDHGMAES128, Version: 2, ID: 12},
		securityInfoFixture{Protocol: OidPACEECDHGMAES256, Version: 2},
		securityInfoWithIDFixture{Protocol: OidCAECDHAES128, Version: 1, ID: 3},
		publicKeyInfoFixture{Protocol: OidPKECDH, SPKI: asn1.RawValue{FullBytes: spki}},
		securityInfoFixture{Protocol: asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1}, Version: 1},
	)

	infos, err := ParseSecurityInfos(der)
	if err != nil {
		t.Fatalf("ParseSecurityInfos failed: %v", err)
	}

	if len(infos.PACE) != 2 {
		t.Fatalf("Got %d PACEInfo entries, want 2", len(infos.PACE))
	}
	if !infos.PACE[0].Protocol.Equal(OidPACEECDHGMAES128) || infos.PACE[0].ParameterID != 12 {
		t.Errorf("First PACEInfo: got %v id %d", infos.PACE[0].Protocol, infos.PACE[0].ParameterID)
	}
	if infos.PACE[1].ParameterID != -1 {
		t.Errorf("Absent parameterId should report -1, got %d", infos.PACE[1].ParameterID)
	}

	if len(infos.ChipAuth) != 1 {
		t.Fatalf("Got %d ChipAuthenticationInfo entries, want 1", len(infos.ChipAuth))
	}
	if infos.ChipAuth[0].KeyID == nil || infos.ChipAuth[0].KeyID.Cmp(big.NewInt(3)) != 0 {
		t.Errorf("ChipAuthenticationInfo keyId: got %v, want 3", infos.ChipAuth[0].KeyID)
	}

	if len(infos.ChipAuthKeys) != 1 {
		t.Fatalf("Got %d public key entries, want 1", len(infos.ChipAuthKeys))
	}
	if string(infos.ChipAuthKeys[0].SubjectPublicKeyInfo) != string(spki) {
		t.Error("SubjectPublicKeyInfo bytes do not round-trip")
	}

	if infos.UnknownCount != 1 {
		t.Errorf("Got %d unknown entries, want 1", infos.UnknownCount)
	}
}

func TestParseSecurityInfos_Malformed(t *testing.T) {
	tests := []struct {
		name string
		der  []byte
	}{
		{"Empty input", nil},
		{"Not a SET", []byte{0x30, 0x00}},
		{"Element not a SEQUENCE", []byte{0x31, 0x02, 0x04, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSecurityInfos(tt.der); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestParseSecurityInfos_BadVersion(t *testing.T) {
	der := marshalSet(t, securityInfoFixture{Protocol: OidPACEECDHGMAES128, Version: 1})
	if _, err := ParseSecurityInfos(der); err == nil {
		t.Error("PACE version 1 should be rejected")
	}

	der = marshalSet(t, securityInfoFixture{Protocol: OidCAECDHAES128, Version: 2})
	if _, err := ParseSecurityInfos(der); err == nil {
		t.Error("Chip authentication version 2 should be rejected")
	}
}

func TestParseDG14(t *testing.T) {
	set := marshalSet(t, securityInfoWithIDFixture{Protocol: OidPACEECDHGMAES128, Version: 2, ID: 12})

	dg14 := append([]byte{0x6E}, tlv.EncodeLength(len(set))...)
	dg14 = append(dg14, set...)

	infos, err := ParseDG14(dg14)
	if err != nil {
		t.Fatalf("ParseDG14 failed: %v", err)
	}
	if len(infos.PACE) != 1 {
		t.Errorf("Got %d PACEInfo entries, want 1", len(infos.PACE))
	}

	if _, err := ParseDG14(append([]byte{0x6F}, dg14[1:]...)); err == nil {
		t.Error("Wrong outer tag should be rejected")
	}
	if _, err := ParseDG14(dg14[:len(dg14)-1]); err == nil {
		t.Error("Truncated DG14 should be rejected")
	}
}

func TestMatchChipAuthentication(t *testing.T) {
	key := func(id int64) ChipAuthenticationPublicKeyInfo {
		info := ChipAuthenticationPublicKeyInfo{Protocol: OidPKECDH}
		if id >= 0 {
			info.KeyID = big.NewInt(id)
		}
		return info
	}
	ca := func(id int64) ChipAuthenticationInfo {
		info := ChipAuthenticationInfo{Protocol: OidCAECDHAES128, Version: 1}
		if id >= 0 {
			info.KeyID = big.NewInt(id)
		}
		return info
	}

	t.Run("Single pair without identifiers", func(t *testing.T) {
		s := &SecurityInfos{ChipAuth: []ChipAuthenticationInfo{ca(-1)}, ChipAuthKeys: []ChipAuthenticationPublicKeyInfo{key(-1)}}
		info, pub, err := s.MatchChipAuthentication()
		if err != nil {
			t.Fatalf("MatchChipAuthentication failed: %v", err)
		}
		if info == nil || pub == nil {
			t.Fatal("Expected a pairing")
		}
	})

	t.Run("Identifiers must agree", func(t *testing.T) {
		s := &SecurityInfos{
			ChipAuth:     []ChipAuthenticationInfo{ca(2)},
			ChipAuthKeys: []ChipAuthenticationPublicKeyInfo{key(1), key(2)},
		}
		_, pub, err := s.MatchChipAuthentication()
		if err != nil {
			t.Fatalf("MatchChipAuthentication failed: %v", err)
		}
		if pub.KeyID.Int64() != 2 {
			t.Errorf("Matched key %v, want 2", pub.KeyID)
		}
	})

	t.Run("No key announced", func(t *testing.T) {
		s := &SecurityInfos{ChipAuth: []ChipAuthenticationInfo{ca(-1)}}
		if _, _, err := s.MatchChipAuthentication(); err == nil {
			t.Error("Expected an error")
		}
	})
}
