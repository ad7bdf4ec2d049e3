// Package metainfo parses .torrent files into the Metainfo data model:
// announce URL(s), info-hash, and the single- or multi-file layout.
package metainfo

import (
	"crypto/sha1"
	"fmt"
	"os"

	"leech/internal/bencode"
)

const hashSize = 20

// File describes one file within a (possibly multi-file) torrent, and the
// path components relative to the torrent's name directory.
type File struct {
	Path   []string
	Length int64
}

// Info is the parsed "info" dictionary.
type Info struct {
	Name        string
	PieceLength int64
	Pieces      [][hashSize]byte
	Files       []File
	TotalLength int64
	Private     bool
}

// Metainfo is a fully parsed .torrent file.
type Metainfo struct {
	Announce     string
	AnnounceList [][]string
	Comment      string
	CreationDate int64
	Encoding     string
	InfoHash     [hashSize]byte
	Info         Info
}

// FromFile reads and parses a .torrent file from disk.
func FromFile(path string) (*Metainfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metainfo: read torrent file: %w", err)
	}
	return FromBytes(data)
}

// FromBytes parses a .torrent file already read into memory.
func FromBytes(data []byte) (*Metainfo, error) {
	root, err := bencode.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("metainfo: decode torrent file: %w", err)
	}

	announce, ok := stringField(root, "announce")
	if !ok {
		return nil, fmt.Errorf("metainfo: missing or invalid announce URL")
	}

	infoValue, ok := root.Get("info")
	if !ok {
		return nil, fmt.Errorf("metainfo: missing info dictionary")
	}
	infoEncoded := bencode.Encode(infoValue)
	infoHash := sha1.Sum(infoEncoded)

	info, err := parseInfo(infoValue)
	if err != nil {
		return nil, err
	}

	mi := &Metainfo{
		Announce:     announce,
		AnnounceList: parseAnnounceList(root),
		Comment:      optionalString(root, "comment"),
		CreationDate: optionalInt(root, "creation date"),
		Encoding:     optionalString(root, "encoding"),
		InfoHash:     infoHash,
		Info:         info,
	}
	return mi, nil
}

func parseInfo(infoValue bencode.Value) (Info, error) {
	name, ok := stringField(infoValue, "name")
	if !ok {
		return Info{}, fmt.Errorf("metainfo: missing or invalid name")
	}

	pieceLengthVal, ok := infoValue.Get("piece length")
	if !ok {
		return Info{}, fmt.Errorf("metainfo: missing piece length")
	}
	pieceLength, ok := pieceLengthVal.Integer64()
	if !ok || pieceLength <= 0 {
		return Info{}, fmt.Errorf("metainfo: invalid piece length")
	}

	piecesVal, ok := infoValue.Get("pieces")
	if !ok {
		return Info{}, fmt.Errorf("metainfo: missing pieces")
	}
	piecesBytes, ok := piecesVal.Bytes()
	if !ok {
		return Info{}, fmt.Errorf("metainfo: invalid pieces field")
	}
	if len(piecesBytes)%hashSize != 0 {
		return Info{}, fmt.Errorf("metainfo: pieces length must be a multiple of %d", hashSize)
	}
	numPieces := len(piecesBytes) / hashSize
	pieces := make([][hashSize]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		copy(pieces[i][:], piecesBytes[i*hashSize:(i+1)*hashSize])
	}

	files, totalLength, err := parseFiles(infoValue, name)
	if err != nil {
		return Info{}, err
	}

	private := false
	if pv, ok := infoValue.Get("private"); ok {
		if n, ok := pv.Integer64(); ok && n != 0 {
			private = true
		}
	}

	if err := validateLengths(pieceLength, int64(numPieces), totalLength); err != nil {
		return Info{}, err
	}

	return Info{
		Name:        name,
		PieceLength: pieceLength,
		Pieces:      pieces,
		Files:       files,
		TotalLength: totalLength,
		Private:     private,
	}, nil
}

// validateLengths checks the invariant that total_length equals
// (num_pieces-1)*piece_length + last_piece_length, with the last piece
// length in [1, piece_length].
func validateLengths(pieceLength, numPieces, totalLength int64) error {
	if numPieces == 0 {
		if totalLength != 0 {
			return fmt.Errorf("metainfo: zero pieces but nonzero total length")
		}
		return nil
	}
	lastPieceLength := totalLength - (numPieces-1)*pieceLength
	if lastPieceLength < 1 || lastPieceLength > pieceLength {
		return fmt.Errorf("metainfo: total length %d inconsistent with %d pieces of length %d",
			totalLength, numPieces, pieceLength)
	}
	return nil
}

func parseFiles(infoValue bencode.Value, name string) ([]File, int64, error) {
	if lengthVal, ok := infoValue.Get("length"); ok {
		length, ok := lengthVal.Integer64()
		if !ok || length < 0 {
			return nil, 0, fmt.Errorf("metainfo: invalid file length")
		}
		return []File{{Path: []string{name}, Length: length}}, length, nil
	}

	filesVal, ok := infoValue.Get("files")
	if !ok {
		return nil, 0, fmt.Errorf("metainfo: torrent must have either 'length' or 'files'")
	}
	filesList, ok := filesVal.Items()
	if !ok {
		return nil, 0, fmt.Errorf("metainfo: files must be a list")
	}

	files := make([]File, 0, len(filesList))
	var total int64
	for _, fv := range filesList {
		lengthVal, ok := fv.Get("length")
		if !ok {
			return nil, 0, fmt.Errorf("metainfo: missing file length")
		}
		length, ok := lengthVal.Integer64()
		if !ok || length < 0 {
			return nil, 0, fmt.Errorf("metainfo: invalid file length")
		}
		pathVal, ok := fv.Get("path")
		if !ok {
			return nil, 0, fmt.Errorf("metainfo: missing file path")
		}
		pathItems, ok := pathVal.Items()
		if !ok {
			return nil, 0, fmt.Errorf("metainfo: file path must be a list")
		}
		path := make([]string, 0, len(pathItems))
		for _, pv := range pathItems {
			s, ok := pv.Text()
			if !ok {
				return nil, 0, fmt.Errorf("metainfo: path component must be a string")
			}
			path = append(path, s)
		}
		files = append(files, File{Path: path, Length: length})
		total += length
	}
	return files, total, nil
}

func parseAnnounceList(root bencode.Value) [][]string {
	alv, ok := root.Get("announce-list")
	if !ok {
		return nil
	}
	tiers, ok := alv.Items()
	if !ok {
		return nil
	}
	out := make([][]string, 0, len(tiers))
	for _, tier := range tiers {
		urls, ok := tier.Items()
		if !ok {
			continue
		}
		tierOut := make([]string, 0, len(urls))
		for _, u := range urls {
			if s, ok := u.Text(); ok {
				tierOut = append(tierOut, s)
			}
		}
		out = append(out, tierOut)
	}
	return out
}

func stringField(v bencode.Value, key string) (string, bool) {
	child, ok := v.Get(key)
	if !ok {
		return "", false
	}
	return child.Text()
}

func optionalString(v bencode.Value, key string) string {
	s, _ := stringField(v, key)
	return s
}

func optionalInt(v bencode.Value, key string) int64 {
	child, ok := v.Get(key)
	if !ok {
		return 0
	}
	n, _ := child.Integer64()
	return n
}

// InfoHashHex returns the info hash as a lowercase hex string.
func (m *Metainfo) InfoHashHex() string {
	return fmt.Sprintf("%x", m.InfoHash)
}

// NumPieces returns the number of pieces in the torrent.
func (m *Metainfo) NumPieces() int {
	return len(m.Info.Pieces)
}

// PieceHash returns the expected SHA-1 hash for piece index, or ok=false
// if index is out of range.
func (m *Metainfo) PieceHash(index int) (hash [hashSize]byte, ok bool) {
	if index < 0 || index >= len(m.Info.Pieces) {
		return hash, false
	}
	return m.Info.Pieces[index], true
}

// PieceLength returns the length in bytes of the piece at index, accounting
// for the final, possibly-shorter piece.
func (m *Metainfo) PieceLength(index int) int64 {
	numPieces := int64(m.NumPieces())
	if int64(index) == numPieces-1 {
		return m.Info.TotalLength - (numPieces-1)*m.Info.PieceLength
	}
	return m.Info.PieceLength
}
