package magnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMagnet(t *testing.T) {
	uri := "magnet:?xt=urn:btih:dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c&dn=Big+Buck+Bunny&tr=http%3A%2F%2Ftracker.example.com%2Fannounce"

	link, err := Parse(uri)
	require.NoError(t, err)

	assert.Equal(t, "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c", link.InfoHashHex())
	assert.Equal(t, "Big Buck Bunny", link.DisplayName)
	require.Len(t, link.Trackers, 1)
	assert.Equal(t, "http://tracker.example.com/announce", link.Trackers[0])
}

func TestParseMagnetMissingPrefix(t *testing.T) {
	_, err := Parse("urn:btih:dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c")
	assert.Error(t, err)
}

func TestParseMagnetMissingXt(t *testing.T) {
	_, err := Parse("magnet:?dn=NoHash")
	assert.Error(t, err)
}

func TestParseMagnetRefusesV2Multihash(t *testing.T) {
	_, err := Parse("magnet:?xt=urn:btmh:1220dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c00000000")
	assert.ErrorContains(t, err, "not supported")
}

func TestBase32Decode(t *testing.T) {
	decoded, err := base32Decode("JBSWY3DP")
	require.NoError(t, err)
	assert.Equal(t, []byte("Hello"), decoded)
}

func TestParseMagnetMultipleTrackers(t *testing.T) {
	uri := "magnet:?xt=urn:btih:dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c&tr=http://a.example&tr=http://b.example"
	link, err := Parse(uri)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"http://a.example", "http://b.example"}, link.Trackers)
}
