package metainfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leech/internal/bencode"
)

func TestParseSingleFileTorrent(t *testing.T) {
	info := bencode.Dict(map[string]bencode.Value{
		"name":         bencode.String([]byte("test.txt")),
		"piece length": bencode.Integer(16384),
		"length":       bencode.Integer(1024),
		"pieces":       bencode.String(make([]byte, 20)),
	})
	root := bencode.Dict(map[string]bencode.Value{
		"announce": bencode.String([]byte("http://tracker.example.com/announce")),
		"info":     info,
	})

	mi, err := FromBytes(bencode.Encode(root))
	require.NoError(t, err)

	assert.Equal(t, "http://tracker.example.com/announce", mi.Announce)
	assert.Equal(t, "test.txt", mi.Info.Name)
	assert.EqualValues(t, 16384, mi.Info.PieceLength)
	assert.EqualValues(t, 1024, mi.Info.TotalLength)
	require.Len(t, mi.Info.Files, 1)
	assert.Equal(t, []string{"test.txt"}, mi.Info.Files[0].Path)
}

func TestParseMultiFileTorrent(t *testing.T) {
	files := bencode.List([]bencode.Value{
		bencode.Dict(map[string]bencode.Value{
			"length": bencode.Integer(10),
			"path":   bencode.List([]bencode.Value{bencode.String([]byte("a.txt"))}),
		}),
		bencode.Dict(map[string]bencode.Value{
			"length": bencode.Integer(6),
			"path":   bencode.List([]bencode.Value{bencode.String([]byte("sub")), bencode.String([]byte("b.txt"))}),
		}),
	})
	info := bencode.Dict(map[string]bencode.Value{
		"name":         bencode.String([]byte("bundle")),
		"piece length": bencode.Integer(16),
		"pieces":       bencode.String(make([]byte, 20)),
		"files":        files,
	})
	root := bencode.Dict(map[string]bencode.Value{
		"announce": bencode.String([]byte("http://tracker.example.com/announce")),
		"info":     info,
	})

	mi, err := FromBytes(bencode.Encode(root))
	require.NoError(t, err)
	assert.EqualValues(t, 16, mi.Info.TotalLength)
	require.Len(t, mi.Info.Files, 2)
	assert.Equal(t, []string{"sub", "b.txt"}, mi.Info.Files[1].Path)
}

func TestInvalidLastPieceLengthRejected(t *testing.T) {
	info := bencode.Dict(map[string]bencode.Value{
		"name":         bencode.String([]byte("test.txt")),
		"piece length": bencode.Integer(10),
		"length":       bencode.Integer(25),
		"pieces":       bencode.String(make([]byte, 40)), // claims 2 pieces, but 25 needs 3
	})
	root := bencode.Dict(map[string]bencode.Value{
		"announce": bencode.String([]byte("http://tracker.example.com/announce")),
		"info":     info,
	})
	_, err := FromBytes(bencode.Encode(root))
	assert.Error(t, err)
}

func TestPieceLengthAccountsForLastPiece(t *testing.T) {
	info := bencode.Dict(map[string]bencode.Value{
		"name":         bencode.String([]byte("test.txt")),
		"piece length": bencode.Integer(10),
		"length":       bencode.Integer(25),
		"pieces":       bencode.String(make([]byte, 60)), // 3 pieces
	})
	root := bencode.Dict(map[string]bencode.Value{
		"announce": bencode.String([]byte("http://tracker.example.com/announce")),
		"info":     info,
	})
	mi, err := FromBytes(bencode.Encode(root))
	require.NoError(t, err)
	assert.EqualValues(t, 10, mi.PieceLength(0))
	assert.EqualValues(t, 10, mi.PieceLength(1))
	assert.EqualValues(t, 5, mi.PieceLength(2))
}
