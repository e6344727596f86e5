package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

func Normalize(s string) string {
	return norm.NFKC.String(s)
}

// NormalizeIdentity canonicalises a user-supplied identity (usually an
// email address) so that visually equivalent spellings count as the same
// identity: NFKC composition, Unicode case folding, surrounding space removed.
func NormalizeIdentity(s string) string {
	// A Caser carries state, so one is built per call.
	return strings.TrimSpace(cases.Fold().String(Normalize(s)))
}

// LookupID returns the hex SHA-256 of s. Used wherever a secret value must
// serve as a storage key without being stored itself.
func LookupID(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
