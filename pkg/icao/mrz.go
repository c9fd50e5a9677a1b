// Package icao implements the ICAO Doc 9303 data structures that surround
// the access-control protocols: MRZ key material, LDS file identifiers,
// SecurityInfo sets announced by the chip, the standard domain-parameter
// table, and the Document Security Object.
package icao

import (
	"crypto/sha1"
	"fmt"
)

// MRZ KEY MATERIAL (Doc 9303 part 11):
//
// The Basic Access Control and PACE keys are derived from three fields of
// the machine-readable zone: document number, date of birth and date of
// expiry, each followed by its check digit. The concatenation is hashed
// with SHA-1 and the first 16 bytes form the key seed.
//
// Check digits use the 7-3-1 weighting scheme over the MRZ character set:
// digits keep their value, letters map to 10..35, and the filler '<' is 0.

var checkDigitWeights = [3]int{7, 3, 1}

// CheckDigit computes the Doc 9303 check digit over an MRZ field.
func CheckDigit(field string) (byte, error) {
	sum := 0
	for i := 0; i < len(field); i++ {
		v, err := mrzCharValue(field[i])
		if err != nil {
			return 0, err
		}
		sum += v * checkDigitWeights[i%3]
	}
	return byte('0' + sum%10), nil
}

func mrzCharValue(c byte) (int, error) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), nil
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10, nil
	case c == '<':
		return 0, nil
	default:
		return 0, fmt.Errorf("character %q is not in the MRZ character set", c)
	}
}

// MRZKeySeed computes the 16-byte access-key seed from the document number,
// date of birth (YYMMDD) and date of expiry (YYMMDD). Check digits are
// computed here; the caller passes the bare field values. Document numbers
// shorter than nine characters are padded with '<' as they appear in the
// MRZ. The intermediate buffer holding the MRZ information is zeroized
// before returning.
func MRZKeySeed(documentNumber, dateOfBirth, dateOfExpiry string) ([]byte, error) {
	if len(dateOfBirth) != 6 || len(dateOfExpiry) != 6 {
		return nil, fmt.Errorf("dates must be six characters (YYMMDD)")
	}
	for len(documentNumber) < 9 {
		documentNumber += "<"
	}

	info := make([]byte, 0, len(documentNumber)+15)
	for _, field := range []string{documentNumber, dateOfBirth, dateOfExpiry} {
		cd, err := CheckDigit(field)
		if err != nil {
			return nil, err
		}
		info = append(info, field...)
		info = append(info, cd)
	}

	h := sha1.Sum(info)
	for i := range info {
		info[i] = 0
	}

	seed := make([]byte, 16)
	copy(seed, h[:16])
	return seed, nil
}
