package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"leech/internal/metainfo"
)

func multiFileMetainfo() *metainfo.Metainfo {
	return &metainfo.Metainfo{
		Info: metainfo.Info{
			Name:        "pack",
			PieceLength: 10,
			Files: []metainfo.File{
				{Path: []string{"a.txt"}, Length: 6},
				{Path: []string{"sub", "b.txt"}, Length: 14},
			},
			TotalLength: 20,
		},
	}
}

func TestWritePieceSpansMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	mi := multiFileMetainfo()

	st, err := New(mi, dir)
	require.NoError(t, err)

	piece0 := make([]byte, 10)
	for i := range piece0 {
		piece0[i] = byte('A' + i)
	}
	require.NoError(t, st.WritePiece(0, piece0))

	piece1 := make([]byte, 10)
	for i := range piece1 {
		piece1[i] = byte('a' + i)
	}
	require.NoError(t, st.WritePiece(1, piece1))
	require.NoError(t, st.Close())

	a, err := os.ReadFile(filepath.Join(dir, "pack", "a.txt"))
	require.NoError(t, err)
	require.Equal(t, piece0[:6], a)

	b, err := os.ReadFile(filepath.Join(dir, "pack", "sub", "b.txt"))
	require.NoError(t, err)
	want := append(append([]byte{}, piece0[6:10]...), piece1...)
	require.Equal(t, want, b)
}

func TestNewPreSizesFiles(t *testing.T) {
	dir := t.TempDir()
	mi := multiFileMetainfo()

	st, err := New(mi, dir)
	require.NoError(t, err)
	defer st.Close()

	info, err := os.Stat(filepath.Join(dir, "pack", "a.txt"))
	require.NoError(t, err)
	require.EqualValues(t, 6, info.Size())
}
