// Package storage maps piece writes onto the on-disk file layout for
// single- and multi-file torrents.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"leech/internal/metainfo"
)

type file struct {
	f      *os.File
	offset int64 // this file's starting byte within the torrent's global byte stream
	length int64
}

// Storage owns the open file handles for one torrent's output and maps
// global (piece_index * piece_length + begin) byte ranges onto them.
type Storage struct {
	files       []*file
	pieceLength int64
}

// New creates (or opens) every file in metainfo's file table under
// outputDir/<name>/..., pre-sizing each to its final length.
func New(mi *metainfo.Metainfo, outputDir string) (*Storage, error) {
	files := make([]*file, 0, len(mi.Info.Files))
	var offset int64

	for _, fi := range mi.Info.Files {
		parts := append([]string{outputDir, mi.Info.Name}, fi.Path...)
		path := filepath.Join(parts...)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("storage: create output directory: %w", err)
		}

		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("storage: open %s: %w", path, err)
		}
		if err := f.Truncate(fi.Length); err != nil {
			f.Close()
			return nil, fmt.Errorf("storage: size %s: %w", path, err)
		}

		files = append(files, &file{f: f, offset: offset, length: fi.Length})
		offset += fi.Length
	}

	return &Storage{files: files, pieceLength: mi.Info.PieceLength}, nil
}

// WritePiece writes data (one verified piece's bytes) at pieceIndex,
// splitting it across every file it overlaps and flushing each touched
// file immediately so a crash doesn't silently lose acknowledged pieces.
func (s *Storage) WritePiece(pieceIndex int, data []byte) error {
	pieceOffset := int64(pieceIndex) * s.pieceLength
	dataLen := int64(len(data))
	var dataOffset int64

	for _, sf := range s.files {
		fileStart := sf.offset
		fileEnd := sf.offset + sf.length

		if pieceOffset >= fileEnd || pieceOffset+dataLen <= fileStart {
			continue // no overlap with this file
		}

		writeStart := int64(0)
		if pieceOffset > fileStart {
			writeStart = pieceOffset - fileStart
		}
		writeEnd := writeStart + dataLen - dataOffset
		if writeEnd > sf.length {
			writeEnd = sf.length
		}
		writeLen := writeEnd - writeStart

		if _, err := sf.f.Seek(writeStart, 0); err != nil {
			return fmt.Errorf("storage: seek: %w", err)
		}
		if _, err := sf.f.Write(data[dataOffset : dataOffset+writeLen]); err != nil {
			return fmt.Errorf("storage: write: %w", err)
		}
		if err := sf.f.Sync(); err != nil {
			return fmt.Errorf("storage: flush: %w", err)
		}

		dataOffset += writeLen
		if dataOffset >= dataLen {
			break
		}
	}
	return nil
}

// Close closes every open file handle.
func (s *Storage) Close() error {
	var firstErr error
	for _, sf := range s.files {
		if err := sf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
