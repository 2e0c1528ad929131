package crypto

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

const (
	// RangePrefixLength is the number of leading hash characters sent to the range API.
	RangePrefixLength = 5
	// RangeSuffixLength is the number of trailing hash characters that never leave the client.
	RangeSuffixLength = sha1.Size*2 - RangePrefixLength
)

// SHA1Hex returns the upper-case hexadecimal SHA-1 digest of secret.
func SHA1Hex(secret string) string {
	sum := sha1.Sum([]byte(secret))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// RangeHash hashes secret and splits the digest into the k-anonymity prefix and suffix.
func RangeHash(secret string) (prefix, suffix string) {
	digest := SHA1Hex(secret)
	return digest[:RangePrefixLength], digest[RangePrefixLength:]
}
