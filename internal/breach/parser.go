package breach

import (
	"errors"
	"strconv"
	"strings"
)

var errNegativeCount = errors.New("negative count")

// Parse converts a range API body of SUFFIX:COUNT lines into records, keeping input order.
// Lines without a colon are skipped; an unparseable count aborts the whole parse.
func Parse(raw string) (RangeResult, error) {
	lines := strings.Split(raw, "\n")
	result := make(RangeResult, 0, len(lines))

	for i, line := range lines {
		suffix, rawCount, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		count, err := strconv.Atoi(strings.TrimSpace(rawCount))
		if err == nil && count < 0 {
			err = errNegativeCount
		}
		if err != nil {
			return nil, &ParseError{Line: i + 1, Text: strings.TrimSpace(line), Err: err}
		}

		result = append(result, SuffixRecord{
			Suffix: strings.ToUpper(strings.TrimSpace(suffix)),
			Count:  count,
		})
	}

	return result, nil
}
