package breach

import (
	"strconv"
	"strings"
)

const (
	// PrefixLength is the number of hash characters submitted to the range API.
	PrefixLength = 5
	// SuffixLength is the number of hash characters returned for each breached hash.
	SuffixLength = 35
)

// Prefix is a 5-character upper-case hexadecimal hash prefix.
type Prefix string

func (p Prefix) String() string { return string(p) }

// ParsePrefix normalises raw to upper case and checks it is exactly five hex digits.
// Surrounding whitespace is rejected, not trimmed.
func ParsePrefix(raw string) (Prefix, error) {
	value := strings.ToUpper(raw)
	if err := checkHex("prefix", value, PrefixLength); err != nil {
		return "", err
	}
	return Prefix(value), nil
}

// NormalizeSuffix upper-cases raw and checks it is exactly 35 hex digits.
func NormalizeSuffix(raw string) (string, error) {
	value := strings.ToUpper(raw)
	if err := checkHex("suffix", value, SuffixLength); err != nil {
		return "", err
	}
	return value, nil
}

func checkHex(field, value string, length int) error {
	if len(value) != length {
		return &ValidationError{Field: field, Value: value, Reason: "must be " + strconv.Itoa(length) + " hex characters"}
	}
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if (ch < '0' || ch > '9') && (ch < 'A' || ch > 'F') {
			return &ValidationError{Field: field, Value: value, Reason: "must contain only 0-9A-F"}
		}
	}
	return nil
}
