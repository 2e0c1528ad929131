package breach

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
)

// SuffixRecord is one breached hash suffix and the number of times it was observed.
// Field order is part of the cache wire format.
type SuffixRecord struct {
	Suffix string `json:"suffix"`
	Count  int    `json:"count"`
}

// RangeResult is the ordered record set the range API returned for one prefix.
type RangeResult []SuffixRecord

// Encode serialises the result as a JSON array of {suffix, count} objects.
func (r RangeResult) Encode() ([]byte, error) {
	if r == nil {
		r = RangeResult{}
	}
	return json.Marshal(r)
}

// DecodeRange parses a cached payload produced by Encode.
func DecodeRange(raw []byte) (RangeResult, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("breach: decode range: empty payload")
	}
	var result RangeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("breach: decode range: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("breach: decode range: null payload")
	}
	for i, rec := range result {
		if rec.Suffix == "" || rec.Count < 0 {
			return nil, fmt.Errorf("breach: decode range: invalid record at index %d", i)
		}
	}
	return result, nil
}

// MatchSuffix reports whether suffix appears in the result and its count.
// Every record is compared with a constant-time primitive and the scan never stops early,
// so the time taken does not reveal where (or whether) a match occurred.
func MatchSuffix(result RangeResult, suffix string) (found bool, count int) {
	candidate := []byte(suffix)
	matched := 0
	for _, rec := range result {
		eq := subtle.ConstantTimeCompare([]byte(rec.Suffix), candidate)
		count = subtle.ConstantTimeSelect(eq&^matched, rec.Count, count)
		matched |= eq
	}
	return matched == 1, count
}
