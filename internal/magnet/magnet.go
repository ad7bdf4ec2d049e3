// Package magnet parses magnet: URIs into info-hash, display name, and
// tracker list.
package magnet

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const hashSize = 20

// Link is a parsed magnet URI.
type Link struct {
	InfoHash    [hashSize]byte
	DisplayName string
	Trackers    []string
	Size        int64 // 0 if not present (xl)
}

// Parse parses a "magnet:?..." URI.
func Parse(uri string) (*Link, error) {
	if !strings.HasPrefix(uri, "magnet:?") {
		return nil, fmt.Errorf("magnet: invalid magnet link, must start with 'magnet:?'")
	}

	query := uri[len("magnet:?"):]
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("magnet: invalid query string: %w", err)
	}

	xt := values.Get("xt")
	if xt == "" {
		return nil, fmt.Errorf("magnet: missing 'xt' (exact topic) parameter")
	}
	infoHash, err := parseInfoHash(xt)
	if err != nil {
		return nil, err
	}

	link := &Link{
		InfoHash:    infoHash,
		DisplayName: values.Get("dn"),
		Trackers:    values["tr"],
	}
	if xl := values.Get("xl"); xl != "" {
		if n, err := strconv.ParseInt(xl, 10, 64); err == nil {
			link.Size = n
		}
	}
	return link, nil
}

// InfoHashHex returns the info hash as lowercase hex.
func (l *Link) InfoHashHex() string {
	return hex.EncodeToString(l.InfoHash[:])
}

func parseInfoHash(xt string) ([hashSize]byte, error) {
	var hash [hashSize]byte

	hashStr, ok := strings.CutPrefix(xt, "urn:btih:")
	if !ok {
		if strings.HasPrefix(xt, "urn:btmh:") {
			return hash, fmt.Errorf("magnet: v2 multihash (urn:btmh:) info hashes are not supported")
		}
		return hash, fmt.Errorf("magnet: invalid xt format, must be 'urn:btih:HASH'")
	}

	switch len(hashStr) {
	case 40:
		decoded, err := hex.DecodeString(hashStr)
		if err != nil {
			return hash, fmt.Errorf("magnet: invalid hex in info hash: %w", err)
		}
		copy(hash[:], decoded)
	case 32:
		decoded, err := base32Decode(hashStr)
		if err != nil {
			return hash, err
		}
		if len(decoded) < hashSize {
			return hash, fmt.Errorf("magnet: base32 info hash too short")
		}
		copy(hash[:], decoded)
	default:
		return hash, fmt.Errorf("magnet: invalid info hash length: expected 40 hex or 32 base32 chars")
	}
	return hash, nil
}

const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// base32Decode implements the RFC 4648 base32 alphabet without padding,
// which magnet info-hashes never carry.
func base32Decode(s string) ([]byte, error) {
	s = strings.ToUpper(s)
	var bits uint64
	var bitCount uint
	var result []byte

	for i := 0; i < len(s); i++ {
		value := strings.IndexByte(base32Alphabet, s[i])
		if value < 0 {
			return nil, fmt.Errorf("magnet: invalid base32 character %q", s[i])
		}
		bits = (bits << 5) | uint64(value)
		bitCount += 5
		if bitCount >= 8 {
			bitCount -= 8
			result = append(result, byte(bits>>bitCount))
		}
	}
	return result, nil
}
