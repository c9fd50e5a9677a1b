package icao

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/gregLibert/mrtd/pkg/tlv"
)

// Fixture mirrors of the CMS structures without the optional fields the
// asn1 marshaler cannot omit.

type signerInfoFixture struct {
	Version            int
	SID                asn1.RawValue
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
}

type signerInfoWithAttrsFixture struct {
	Version            int
	SID                asn1.RawValue
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignedAttrs        asn1.RawValue
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
}

type signedDataFixture struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo encapContentInfo
	Certificates     asn1.RawValue
	SignerInfos      asn1.RawValue
}

func mustDER(t *testing.T, v interface{}) []byte {
	t.Helper()
	der, err := asn1.Marshal(v)
	if err != nil {
		t.Fatalf("Marshaling fixture failed: %v", err)
	}
	return der
}

func contextTag(tag int, body []byte) asn1.RawValue {
	return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: tag, IsCompound: true, Bytes: body}
}

func universalSet(body []byte) asn1.RawValue {
	return asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true, Bytes: body}
}

func algSHA256() pkix.AlgorithmIdentifier {
	return pkix.AlgorithmIdentifier{Algorithm: oidSHA256, Parameters: asn1.NullRawValue}
}

func algECDSASHA256() pkix.AlgorithmIdentifier {
	return pkix.AlgorithmIdentifier{Algorithm: oidECDSAWithSHA256}
}

type sodSigner struct {
	key  *ecdsa.PrivateKey
	cert []byte
}

func newSODSigner(t *testing.T) *sodSigner {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Generating signer key failed: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Document Signer Test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	cert, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Creating signer certificate failed: %v", err)
	}
	return &sodSigner{key: key, cert: cert}
}

func (s *sodSigner) sign(t *testing.T, message []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, s.key, digest[:])
	if err != nil {
		t.Fatalf("Signing failed: %v", err)
	}
	return sig
}

func testEContent(t *testing.T, hashes map[int][]byte) []byte {
	t.Helper()
	lds := ldsSecurityObject{Version: 0, DigestAlgorithm: algSHA256()}
	for _, n := range []int{1, 2, 14} {
		if h, ok := hashes[n]; ok {
			lds.DataGroupHashes = append(lds.DataGroupHashes, dataGroupHash{Number: n, Value: h})
		}
	}
	return mustDER(t, lds)
}

// buildSOD assembles EF.SOD around a prepared SignerInfo encoding.
func buildSOD(t *testing.T, signer *sodSigner, eContent, signerInfoDER []byte) []byte {
	return buildSODWithCerts(t, signer.cert, eContent, signerInfoDER)
}

// buildSODWithCerts is buildSOD with an explicit CertificateSet body, which
// may concatenate several DER certificates.
func buildSODWithCerts(t *testing.T, certSet, eContent, signerInfoDER []byte) []byte {
	t.Helper()
	sd := mustDER(t, signedDataFixture{
		Version:          3,
		DigestAlgorithms: []pkix.AlgorithmIdentifier{algSHA256()},
		EncapContentInfo: encapContentInfo{EContentType: oidLDSSecurityObject, EContent: eContent},
		Certificates:     contextTag(0, certSet),
		SignerInfos:      universalSet(signerInfoDER),
	})
	ci := mustDER(t, contentInfo{
		ContentType: oidSignedData,
		Content:     contextTag(0, sd),
	})
	sod := append([]byte{0x77}, tlv.EncodeLength(len(ci))...)
	return append(sod, ci...)
}

func directSignedSOD(t *testing.T, signer *sodSigner, eContent []byte) []byte {
	t.Helper()
	si := mustDER(t, signerInfoFixture{
		Version:            1,
		SID:                asn1.RawValue{FullBytes: mustDER(t, big.NewInt(1))},
		DigestAlgorithm:    algSHA256(),
		SignatureAlgorithm: algECDSASHA256(),
		Signature:          signer.sign(t, eContent),
	})
	return buildSOD(t, signer, eContent, si)
}

func attrSignedSOD(t *testing.T, signer *sodSigner, eContent []byte) []byte {
	t.Helper()
	contentDigest := sha256.Sum256(eContent)
	attrs := mustDER(t, cmsAttribute{
		Type:   oidContentTypeAttr,
		Values: universalSet(mustDER(t, oidLDSSecurityObject)),
	})
	attrs = append(attrs, mustDER(t, cmsAttribute{
		Type:   oidMessageDigestAttr,
		Values: universalSet(mustDER(t, contentDigest[:])),
	})...)

	// The signature covers the attributes under their universal SET tag.
	attrSet := mustDER(t, universalSet(attrs))

	si := mustDER(t, signerInfoWithAttrsFixture{
		Version:            1,
		SID:                asn1.RawValue{FullBytes: mustDER(t, big.NewInt(1))},
		DigestAlgorithm:    algSHA256(),
		SignedAttrs:        contextTag(0, attrs),
		SignatureAlgorithm: algECDSASHA256(),
		Signature:          signer.sign(t, attrSet),
	})
	return buildSOD(t, signer, eContent, si)
}

func TestParseSOD(t *testing.T) {
	signer := newSODSigner(t)
	hashes := map[int][]byte{1: make([]byte, 32), 2: make([]byte, 32), 14: make([]byte, 32)}
	hashes[1][0] = 0xAA
	sod := directSignedSOD(t, signer, testEContent(t, hashes))

	so, err := ParseSOD(sod)
	if err != nil {
		t.Fatalf("ParseSOD failed: %v", err)
	}

	if so.Digest.String() != "SHA-256" {
		t.Errorf("Digest: got %s, want SHA-256", so.Digest)
	}
	if len(so.Hashes) != 3 {
		t.Fatalf("Got %d data group hashes, want 3", len(so.Hashes))
	}
	if so.Hashes[1][0] != 0xAA {
		t.Error("Hash for data group 1 does not round-trip")
	}
	if so.Signer == nil || so.Signer.Subject.CommonName != "Document Signer Test" {
		t.Error("Document signer certificate not extracted")
	}
}

func TestParseSOD_CertificateChain(t *testing.T) {
	signer := newSODSigner(t)
	eContent := testEContent(t, map[int][]byte{1: make([]byte, 32)})

	// A second certificate travels ahead of the document signer in the
	// CertificateSet, as when the CSCA link certificate is included.
	linkKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Generating link key failed: %v", err)
	}
	linkTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "Country Signer Test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageCertSign,
	}
	linkCert, err := x509.CreateCertificate(rand.Reader, linkTemplate, linkTemplate, &linkKey.PublicKey, linkKey)
	if err != nil {
		t.Fatalf("Creating link certificate failed: %v", err)
	}

	signerCert, err := x509.ParseCertificate(signer.cert)
	if err != nil {
		t.Fatalf("Parsing signer certificate failed: %v", err)
	}
	sid := mustDER(t, issuerAndSerial{
		Issuer: asn1.RawValue{FullBytes: signerCert.RawIssuer},
		Serial: signerCert.SerialNumber,
	})
	si := mustDER(t, signerInfoFixture{
		Version:            1,
		SID:                asn1.RawValue{FullBytes: sid},
		DigestAlgorithm:    algSHA256(),
		SignatureAlgorithm: algECDSASHA256(),
		Signature:          signer.sign(t, eContent),
	})
	certSet := append(append([]byte{}, linkCert...), signer.cert...)

	so, err := ParseSOD(buildSODWithCerts(t, certSet, eContent, si))
	if err != nil {
		t.Fatalf("ParseSOD failed: %v", err)
	}
	if so.Signer.Subject.CommonName != "Document Signer Test" {
		t.Errorf("Picked %q as the signer, want the document signer", so.Signer.Subject.CommonName)
	}
	if err := so.VerifySignature(); err != nil {
		t.Errorf("VerifySignature failed: %v", err)
	}
}

func TestParseSOD_Malformed(t *testing.T) {
	signer := newSODSigner(t)
	eContent := testEContent(t, map[int][]byte{1: make([]byte, 32)})
	good := directSignedSOD(t, signer, eContent)

	noCert := func() []byte {
		type signedDataNoCert struct {
			Version          int
			DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
			EncapContentInfo encapContentInfo
			SignerInfos      asn1.RawValue
		}
		si := mustDER(t, signerInfoFixture{
			Version:            1,
			SID:                asn1.RawValue{FullBytes: mustDER(t, big.NewInt(1))},
			DigestAlgorithm:    algSHA256(),
			SignatureAlgorithm: algECDSASHA256(),
			Signature:          signer.sign(t, eContent),
		})
		sd := mustDER(t, signedDataNoCert{
			Version:          3,
			DigestAlgorithms: []pkix.AlgorithmIdentifier{algSHA256()},
			EncapContentInfo: encapContentInfo{EContentType: oidLDSSecurityObject, EContent: eContent},
			SignerInfos:      universalSet(si),
		})
		ci := mustDER(t, contentInfo{ContentType: oidSignedData, Content: contextTag(0, sd)})
		out := append([]byte{0x77}, tlv.EncodeLength(len(ci))...)
		return append(out, ci...)
	}()

	tests := []struct {
		name string
		data []byte
	}{
		{"Wrong outer tag", append([]byte{0x6E}, good[1:]...)},
		{"Truncated", good[:len(good)-4]},
		{"No signer certificate", noCert},
		{"Garbage content", []byte{0x77, 0x03, 0x01, 0x02, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSOD(tt.data); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestVerifySignature_Direct(t *testing.T) {
	signer := newSODSigner(t)
	eContent := testEContent(t, map[int][]byte{1: make([]byte, 32)})

	so, err := ParseSOD(directSignedSOD(t, signer, eContent))
	if err != nil {
		t.Fatalf("ParseSOD failed: %v", err)
	}
	if err := so.VerifySignature(); err != nil {
		t.Errorf("VerifySignature failed: %v", err)
	}
}

func TestVerifySignature_SignedAttributes(t *testing.T) {
	signer := newSODSigner(t)
	eContent := testEContent(t, map[int][]byte{1: make([]byte, 32)})

	so, err := ParseSOD(attrSignedSOD(t, signer, eContent))
	if err != nil {
		t.Fatalf("ParseSOD failed: %v", err)
	}
	if err := so.VerifySignature(); err != nil {
		t.Errorf("VerifySignature failed: %v", err)
	}
}

func TestVerifySignature_Tampered(t *testing.T) {
	signer := newSODSigner(t)
	eContent := testEContent(t, map[int][]byte{1: make([]byte, 32)})

	t.Run("Signature over different content", func(t *testing.T) {
		other := testEContent(t, map[int][]byte{1: {0xFF}})
		si := mustDER(t, signerInfoFixture{
			Version:            1,
			SID:                asn1.RawValue{FullBytes: mustDER(t, big.NewInt(1))},
			DigestAlgorithm:    algSHA256(),
			SignatureAlgorithm: algECDSASHA256(),
			Signature:          signer.sign(t, other),
		})
		so, err := ParseSOD(buildSOD(t, signer, eContent, si))
		if err != nil {
			t.Fatalf("ParseSOD failed: %v", err)
		}
		if err := so.VerifySignature(); err == nil {
			t.Error("Expected a signature failure")
		}
	})

	t.Run("messageDigest mismatch", func(t *testing.T) {
		sod := attrSignedSOD(t, signer, eContent)
		// Rebuild with the same signer info but different content.
		other := testEContent(t, map[int][]byte{2: make([]byte, 32)})
		so, err := ParseSOD(sod)
		if err != nil {
			t.Fatalf("ParseSOD failed: %v", err)
		}
		so.eContent = other
		if err := so.VerifySignature(); err == nil {
			t.Error("Expected a messageDigest failure")
		}
	})
}

func TestSecurityObject_Wipe(t *testing.T) {
	signer := newSODSigner(t)
	so, err := ParseSOD(directSignedSOD(t, signer, testEContent(t, map[int][]byte{1: make([]byte, 32)})))
	if err != nil {
		t.Fatalf("ParseSOD failed: %v", err)
	}

	so.Wipe()
	if len(so.Hashes) != 0 {
		t.Error("Hashes should be cleared")
	}
	if so.eContent != nil || so.Signer != nil {
		t.Error("Retained encodings should be dropped")
	}
}
