package piece

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPieceBlocks(t *testing.T) {
	var hash [20]byte
	p := New(0, 32768, hash) // 2 blocks

	assert.False(t, p.IsComplete())

	begin, length, ok := p.NextBlockToRequest()
	require.True(t, ok)
	assert.Equal(t, 0, begin)
	assert.Equal(t, 16384, length)

	p.AddBlock(0, make([]byte, 16384))

	begin, length, ok = p.NextBlockToRequest()
	require.True(t, ok)
	assert.Equal(t, 16384, begin)
	assert.Equal(t, 16384, length)

	p.AddBlock(16384, make([]byte, 16384))
	assert.True(t, p.IsComplete())

	_, _, ok = p.NextBlockToRequest()
	assert.False(t, ok)
}

func TestPieceVerifyDetectsTamper(t *testing.T) {
	data := []byte("hello world, this is a test piece of data")
	hash := sha1.Sum(data)
	p := New(0, len(data), hash)

	p.AddBlock(0, data)
	assert.True(t, p.IsComplete())
	assert.True(t, p.Verify())

	tampered := New(0, len(data), hash)
	corrupt := append([]byte(nil), data...)
	corrupt[0] ^= 0xFF
	tampered.AddBlock(0, corrupt)
	assert.False(t, tampered.Verify())
}

func TestAddBlockOutOfRangeRejected(t *testing.T) {
	var hash [20]byte
	p := New(0, 16384, hash)
	assert.False(t, p.AddBlock(16384, []byte{1}))
}

func TestResetRequestedReissuesUnfilledBlocks(t *testing.T) {
	var hash [20]byte
	p := New(0, 32768, hash) // 2 blocks

	_, _, ok := p.NextBlockToRequest()
	require.True(t, ok)
	_, _, ok = p.NextBlockToRequest()
	require.True(t, ok)
	_, _, ok = p.NextBlockToRequest()
	require.False(t, ok) // both in flight

	p.AddBlock(0, make([]byte, 16384))
	p.ResetRequested()

	// only the unfilled second block becomes requestable again
	begin, _, ok := p.NextBlockToRequest()
	require.True(t, ok)
	assert.Equal(t, 16384, begin)
	_, _, ok = p.NextBlockToRequest()
	require.False(t, ok)
}

func TestMarkCompleteReleasesMemoryButStaysComplete(t *testing.T) {
	var hash [20]byte
	p := New(0, 16384, hash)
	p.AddBlock(0, make([]byte, 16384))
	require.True(t, p.IsComplete())

	p.MarkComplete()
	assert.True(t, p.IsComplete())
	assert.False(t, p.InProgress)
}
