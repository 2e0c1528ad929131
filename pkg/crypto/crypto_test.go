package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSHA1Hex(t *testing.T) {
	require.Equal(t, "5BAA61E4C9B93F3F0682250B6CF8331B7EE68FD8", SHA1Hex("password"))
}

func TestRangeHashSplitsDigest(t *testing.T) {
	prefix, suffix := RangeHash("password")

	require.Equal(t, "5BAA6", prefix)
	require.Equal(t, "1E4C9B93F3F0682250B6CF8331B7EE68FD8", suffix)
	require.Len(t, prefix, RangePrefixLength)
	require.Len(t, suffix, RangeSuffixLength)
}
