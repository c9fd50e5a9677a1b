package mrtd

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gregLibert/mrtd/pkg/icao"
)

// PASSIVE AUTHENTICATION (Doc 9303 part 11, section 5):
//
// The document signer vouches for the data groups by signing a table of
// their hashes (EF.SOD). Verification is all or nothing: the signature
// must check out and every data group that was read must hash to its
// table entry. One mismatch rejects the whole document.

// performPassiveAuthentication verifies the security object signature and
// the hash of every read data group. files maps data group number to the
// complete encoded file content.
func performPassiveAuthentication(so *icao.SecurityObject, files map[int][]byte) error {
	if err := so.VerifySignature(); err != nil {
		return &SecurityError{Check: "sod-signature", Message: "security object signature invalid", Cause: err}
	}

	var bad []int
	for _, dg := range sortedKeys(files) {
		expected, ok := so.Hashes[dg]
		if !ok {
			return &SecurityError{Check: "dg-hash",
				Message: fmt.Sprintf("security object lists no hash for data group %d", dg)}
		}
		h := so.Digest.New()
		h.Write(files[dg])
		actual := h.Sum(nil)
		if subtle.ConstantTimeCompare(actual, expected) != 1 {
			bad = append(bad, dg)
		}
	}
	if len(bad) > 0 {
		return &SecurityError{Check: "dg-hash",
			Message: fmt.Sprintf("hash mismatch for data groups %v", bad)}
	}

	slog.Info("passive authentication passed", "data_groups", len(files))
	return nil
}

func sortedKeys(m map[int][]byte) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
