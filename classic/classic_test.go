package classic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksumIsXorOfUID(t *testing.T) {
	cases := []struct {
		uid  [4]byte
		want byte
	}{
		{[4]byte{0x00, 0x00, 0x00, 0x00}, 0x00},
		{[4]byte{0x01, 0x02, 0x03, 0x04}, 0x04},
		{[4]byte{0xDE, 0xAD, 0xBE, 0xEF}, 0xDE ^ 0xAD ^ 0xBE ^ 0xEF},
		{[4]byte{0xFF, 0xFF, 0xFF, 0xFF}, 0x00},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Checksum(tc.uid), "uid %X", tc.uid)
	}
}

func TestSectorGeometry(t *testing.T) {
	require.Equal(t, byte(3), GetSectorTrailerBlock(0))
	require.Equal(t, byte(63), GetSectorTrailerBlock(15))
	require.Equal(t, byte(20), FirstBlock(5))
	require.Equal(t, 5, SectorOf(23))
	require.True(t, IsTrailer(7))
	require.False(t, IsTrailer(4))
	require.Equal(t, 1024, Capacity)
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("a0:a1:a2 a3-a4a5")
	require.NoError(t, err)
	require.Equal(t, Key{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}, k)
	require.Equal(t, "A0A1A2A3A4A5", k.String())

	_, err = ParseKey("FFFF")
	require.Error(t, err)
	_, err = ParseKey("GGGGGGGGGGGG")
	require.Error(t, err)
}

func TestDictionaryDeduplicatesKeepingFirstPosition(t *testing.T) {
	a := Key{1, 1, 1, 1, 1, 1}
	b := Key{2, 2, 2, 2, 2, 2}
	c := Key{3, 3, 3, 3, 3, 3}
	d := NewDictionary(a, b, a, c, b)
	require.Equal(t, []Key{a, b, c}, d.Keys())
	require.Equal(t, 3, d.Builtin())

	ext := d.Extend(c, Key{4, 4, 4, 4, 4, 4})
	require.Equal(t, 4, ext.Len())
	require.Equal(t, 3, ext.Builtin())
	require.Equal(t, 3, d.Len(), "Extend must not mutate the receiver")
}

func TestDefaultDictionaryStartsWithFactoryKey(t *testing.T) {
	d := DefaultDictionary()
	require.Equal(t, DefaultKey, d.Keys()[0])
	require.True(t, d.Contains(Key{0, 0, 0, 0, 0, 0}))
	require.Equal(t, len(DefaultKeys), d.Len(), "built-in list has no repeats")
}

func TestParseKeyList(t *testing.T) {
	input := `
# vendor keys
FFFFFFFFFFFF
a0a1a2a3a4a5   # MAD

d3f7d3f7d3f7
`
	keys, err := ParseKeyList(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, keys, 3)
	require.Equal(t, Key{0xD3, 0xF7, 0xD3, 0xF7, 0xD3, 0xF7}, keys[2])

	_, err = ParseKeyList(strings.NewReader("FFFFFFFFFFFF\nnothex\n"))
	require.ErrorContains(t, err, "line 2")
}
