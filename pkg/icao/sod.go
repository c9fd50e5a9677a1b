package icao

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/gregLibert/mrtd/pkg/tlv"
)

// DOCUMENT SECURITY OBJECT (Doc 9303 part 10/11):
//
// EF.SOD wraps a CMS SignedData (application tag '77') whose encapsulated
// content is an LDSSecurityObject: the digest algorithm and one hash per
// present data group. The document signer certificate travels inside the
// SignedData. Verifying the document therefore splits into two halves: the
// signature over the encapsulated content (here), and the per-data-group
// hash comparison (driven by the reading engine, which owns file access).

var (
	oidSignedData        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidLDSSecurityObject = asn1.ObjectIdentifier{2, 23, 136, 1, 1, 1}
	oidContentTypeAttr   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	oidMessageDigestAttr = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}

	oidSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidSHA224 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 4}
	oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	oidSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}

	oidRSAEncryption   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	oidRSASSAPSS       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 10}
	oidSHA1WithRSA     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 5}
	oidSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	oidSHA384WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	oidSHA512WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	oidECDSAWithSHA1   = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 1}
	oidECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	oidECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	oidECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
)

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

type signedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo encapContentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos      []signerInfo  `asn1:"set"`
}

type encapContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     []byte `asn1:"explicit,optional,tag:0"`
}

type signerInfo struct {
	Version            int
	SID                asn1.RawValue
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

type cmsAttribute struct {
	Type   asn1.ObjectIdentifier
	Values asn1.RawValue
}

type ldsSecurityObject struct {
	Version         int
	DigestAlgorithm pkix.AlgorithmIdentifier
	DataGroupHashes []dataGroupHash
}

type dataGroupHash struct {
	Number int
	Value  []byte
}

// SecurityObject is the parsed EF.SOD, ready for passive authentication.
type SecurityObject struct {
	// Digest is the hash function the per-data-group hashes use.
	Digest crypto.Hash
	// Hashes maps data-group number to expected hash.
	Hashes map[int][]byte
	// Signer is the document signer certificate carried in the SignedData.
	Signer *x509.Certificate

	eContent    []byte
	signer      signerInfo
	signedAttrs []byte // DER with the outer SET tag restored; nil when absent
}

// ParseSOD decodes EF.SOD.
func ParseSOD(data []byte) (*SecurityObject, error) {
	tag, length, header, err := tlv.ReadHeader(data)
	if err != nil {
		return nil, fmt.Errorf("EF.SOD header: %w", err)
	}
	if tag != 0x77 {
		return nil, fmt.Errorf("EF.SOD has outer tag %02X, expected 77", tag)
	}
	if len(data) < header+length {
		return nil, fmt.Errorf("EF.SOD truncated")
	}

	var ci contentInfo
	if _, err := asn1.Unmarshal(data[header:header+length], &ci); err != nil {
		return nil, fmt.Errorf("ContentInfo: %w", err)
	}
	if !ci.ContentType.Equal(oidSignedData) {
		return nil, fmt.Errorf("content type %v is not id-signedData", ci.ContentType)
	}

	var sd signedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, fmt.Errorf("SignedData: %w", err)
	}
	if !sd.EncapContentInfo.EContentType.Equal(oidLDSSecurityObject) {
		return nil, fmt.Errorf("encapsulated content %v is not the LDS security object", sd.EncapContentInfo.EContentType)
	}
	if len(sd.EncapContentInfo.EContent) == 0 {
		return nil, fmt.Errorf("SignedData carries no encapsulated content")
	}
	if len(sd.SignerInfos) == 0 {
		return nil, fmt.Errorf("SignedData carries no signer info")
	}

	var lds ldsSecurityObject
	if _, err := asn1.Unmarshal(sd.EncapContentInfo.EContent, &lds); err != nil {
		return nil, fmt.Errorf("LDSSecurityObject: %w", err)
	}

	digest, err := digestForOID(lds.DigestAlgorithm.Algorithm)
	if err != nil {
		return nil, err
	}

	so := &SecurityObject{
		Digest:   digest,
		Hashes:   make(map[int][]byte, len(lds.DataGroupHashes)),
		eContent: sd.EncapContentInfo.EContent,
		signer:   sd.SignerInfos[0],
	}
	for _, dgh := range lds.DataGroupHashes {
		so.Hashes[dgh.Number] = dgh.Value
	}

	signerCert, err := findSignerCertificate(sd.Certificates, so.signer.SID)
	if err != nil {
		return nil, err
	}
	so.Signer = signerCert

	if len(so.signer.SignedAttrs.Bytes) > 0 {
		// The attributes are signed under their universal SET tag, not the
		// implicit [0] used inside SignerInfo.
		attrs := make([]byte, len(so.signer.SignedAttrs.FullBytes))
		copy(attrs, so.signer.SignedAttrs.FullBytes)
		attrs[0] = 0x31
		so.signedAttrs = attrs
	}

	return so, nil
}

type issuerAndSerial struct {
	Issuer asn1.RawValue
	Serial *big.Int
}

// findSignerCertificate walks the CertificateSet and picks the certificate
// the SignerIdentifier names. The set may carry more than one certificate
// (the CSCA link certificate travels alongside the document signer on some
// documents). When the SID is not an issuerAndSerialNumber, or nothing
// matches it, the first certificate is used.
func findSignerCertificate(set, sid asn1.RawValue) (*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := set.Bytes
	for len(rest) > 0 {
		var raw asn1.RawValue
		var err error
		rest, err = asn1.Unmarshal(rest, &raw)
		if err != nil {
			return nil, fmt.Errorf("certificate set: %w", err)
		}
		cert, err := x509.ParseCertificate(raw.FullBytes)
		if err != nil {
			return nil, fmt.Errorf("document signer certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("SignedData carries no document signer certificate")
	}

	var ias issuerAndSerial
	if _, err := asn1.Unmarshal(sid.FullBytes, &ias); err == nil && ias.Serial != nil {
		for _, cert := range certs {
			if cert.SerialNumber.Cmp(ias.Serial) == 0 && bytes.Equal(cert.RawIssuer, ias.Issuer.FullBytes) {
				return cert, nil
			}
		}
	}
	return certs[0], nil
}

// VerifySignature checks the document signer's signature over the
// encapsulated LDSSecurityObject. When signed attributes are present, the
// messageDigest attribute is checked against the encapsulated content and
// the signature is verified over the attribute SET; otherwise the
// signature covers the content directly.
func (s *SecurityObject) VerifySignature() error {
	algo, err := signatureAlgorithm(s.signer.DigestAlgorithm, s.signer.SignatureAlgorithm)
	if err != nil {
		return err
	}

	signed := s.eContent
	if s.signedAttrs != nil {
		if err := s.checkMessageDigestAttr(); err != nil {
			return err
		}
		signed = s.signedAttrs
	}

	if err := s.Signer.CheckSignature(algo, signed, s.signer.Signature); err != nil {
		return fmt.Errorf("security object signature invalid: %w", err)
	}
	return nil
}

func (s *SecurityObject) checkMessageDigestAttr() error {
	signerDigest, err := digestForOID(s.signer.DigestAlgorithm.Algorithm)
	if err != nil {
		return err
	}

	rest := s.signer.SignedAttrs.Bytes
	for len(rest) > 0 {
		var attr cmsAttribute
		rest2, err := asn1.Unmarshal(rest, &attr)
		if err != nil {
			return fmt.Errorf("signed attribute: %w", err)
		}
		rest = rest2

		if !attr.Type.Equal(oidMessageDigestAttr) {
			continue
		}

		var md []byte
		if _, err := asn1.Unmarshal(attr.Values.Bytes, &md); err != nil {
			return fmt.Errorf("messageDigest attribute: %w", err)
		}

		h := signerDigest.New()
		h.Write(s.eContent)
		if !bytes.Equal(h.Sum(nil), md) {
			return fmt.Errorf("messageDigest attribute does not match encapsulated content")
		}
		return nil
	}
	return fmt.Errorf("signed attributes lack a messageDigest")
}

// Wipe clears the hash table and retained encodings.
func (s *SecurityObject) Wipe() {
	for n, h := range s.Hashes {
		for i := range h {
			h[i] = 0
		}
		delete(s.Hashes, n)
	}
	for i := range s.eContent {
		s.eContent[i] = 0
	}
	s.eContent = nil
	s.signedAttrs = nil
	s.Signer = nil
}

func digestForOID(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(oidSHA1):
		return crypto.SHA1, nil
	case oid.Equal(oidSHA224):
		return crypto.SHA224, nil
	case oid.Equal(oidSHA256):
		return crypto.SHA256, nil
	case oid.Equal(oidSHA384):
		return crypto.SHA384, nil
	case oid.Equal(oidSHA512):
		return crypto.SHA512, nil
	}
	return 0, fmt.Errorf("unsupported digest algorithm %v", oid)
}

func signatureAlgorithm(digest, sig pkix.AlgorithmIdentifier) (x509.SignatureAlgorithm, error) {
	switch {
	case sig.Algorithm.Equal(oidSHA1WithRSA):
		return x509.SHA1WithRSA, nil
	case sig.Algorithm.Equal(oidSHA256WithRSA):
		return x509.SHA256WithRSA, nil
	case sig.Algorithm.Equal(oidSHA384WithRSA):
		return x509.SHA384WithRSA, nil
	case sig.Algorithm.Equal(oidSHA512WithRSA):
		return x509.SHA512WithRSA, nil
	case sig.Algorithm.Equal(oidECDSAWithSHA1):
		return x509.ECDSAWithSHA1, nil
	case sig.Algorithm.Equal(oidECDSAWithSHA256):
		return x509.ECDSAWithSHA256, nil
	case sig.Algorithm.Equal(oidECDSAWithSHA384):
		return x509.ECDSAWithSHA384, nil
	case sig.Algorithm.Equal(oidECDSAWithSHA512):
		return x509.ECDSAWithSHA512, nil
	}

	// Bare key-type algorithms pick the hash from the digest identifier.
	digestHash, err := digestForOID(digest.Algorithm)
	if err != nil {
		return 0, err
	}

	if sig.Algorithm.Equal(oidRSAEncryption) {
		switch digestHash {
		case crypto.SHA1:
			return x509.SHA1WithRSA, nil
		case crypto.SHA256:
			return x509.SHA256WithRSA, nil
		case crypto.SHA384:
			return x509.SHA384WithRSA, nil
		case crypto.SHA512:
			return x509.SHA512WithRSA, nil
		}
	}
	if sig.Algorithm.Equal(oidRSASSAPSS) {
		switch digestHash {
		case crypto.SHA256:
			return x509.SHA256WithRSAPSS, nil
		case crypto.SHA384:
			return x509.SHA384WithRSAPSS, nil
		case crypto.SHA512:
			return x509.SHA512WithRSAPSS, nil
		}
	}
	return 0, fmt.Errorf("unsupported signature algorithm %v with digest %v", sig.Algorithm, digest.Algorithm)
}
