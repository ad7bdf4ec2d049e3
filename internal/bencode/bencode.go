// Package bencode implements a minimal bencode decoder and encoder that
// exposes the decoded tree as a tagged Value rather than unmarshaling onto
// Go structs. Metainfo needs the raw, canonically-ordered byte
// representation of the "info" dictionary to recompute its SHA-1 hash, and
// a reflection-based marshaler gives no way to get that back out.
package bencode

import (
	"fmt"
	"sort"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindList
	KindDict
)

// Value is a decoded bencode node. Exactly one of the Str/Int/List/Dict
// fields is meaningful, selected by Kind.
type Value struct {
	Kind Kind
	Str  []byte
	Int  int64
	List []Value
	Dict map[string]Value
}

// String constructs a bencode byte-string value.
func String(s []byte) Value { return Value{Kind: KindString, Str: s} }

// Integer constructs a bencode integer value.
func Integer(i int64) Value { return Value{Kind: KindInteger, Int: i} }

// List constructs a bencode list value.
func List(items []Value) Value { return Value{Kind: KindList, List: items} }

// Dict constructs a bencode dictionary value.
func Dict(entries map[string]Value) Value { return Value{Kind: KindDict, Dict: entries} }

// Bytes returns the raw bytes of a string value, or ok=false otherwise.
func (v Value) Bytes() ([]byte, bool) {
	if v.Kind != KindString {
		return nil, false
	}
	return v.Str, true
}

// Text returns a string value interpreted as UTF-8 text.
func (v Value) Text() (string, bool) {
	b, ok := v.Bytes()
	if !ok {
		return "", false
	}
	return string(b), true
}

// Integer64 returns an integer value.
func (v Value) Integer64() (int64, bool) {
	if v.Kind != KindInteger {
		return 0, false
	}
	return v.Int, true
}

// Items returns a list value's elements.
func (v Value) Items() ([]Value, bool) {
	if v.Kind != KindList {
		return nil, false
	}
	return v.List, true
}

// Entries returns a dict value's key/value map.
func (v Value) Entries() (map[string]Value, bool) {
	if v.Kind != KindDict {
		return nil, false
	}
	return v.Dict, true
}

// Get looks up key in a dict value.
func (v Value) Get(key string) (Value, bool) {
	entries, ok := v.Entries()
	if !ok {
		return Value{}, false
	}
	child, ok := entries[key]
	return child, ok
}

// Decode parses a single bencoded value from data. Trailing bytes after
// the value are ignored.
func Decode(data []byte) (Value, error) {
	v, _, err := decodeValue(data)
	return v, err
}

func decodeValue(data []byte) (Value, []byte, error) {
	if len(data) == 0 {
		return Value{}, nil, fmt.Errorf("bencode: unexpected end of data")
	}
	switch {
	case data[0] == 'i':
		return decodeInteger(data)
	case data[0] == 'l':
		return decodeList(data)
	case data[0] == 'd':
		return decodeDict(data)
	case data[0] >= '0' && data[0] <= '9':
		return decodeString(data)
	default:
		return Value{}, nil, fmt.Errorf("bencode: invalid leading byte %q", data[0])
	}
}

func decodeInteger(data []byte) (Value, []byte, error) {
	end := indexByte(data, 'e')
	if end < 0 {
		return Value{}, nil, fmt.Errorf("bencode: integer not terminated")
	}
	n, err := strconv.ParseInt(string(data[1:end]), 10, 64)
	if err != nil {
		return Value{}, nil, fmt.Errorf("bencode: invalid integer: %w", err)
	}
	return Integer(n), data[end+1:], nil
}

func decodeString(data []byte) (Value, []byte, error) {
	colon := indexByte(data, ':')
	if colon < 0 {
		return Value{}, nil, fmt.Errorf("bencode: string length separator not found")
	}
	length, err := strconv.Atoi(string(data[:colon]))
	if err != nil || length < 0 {
		return Value{}, nil, fmt.Errorf("bencode: invalid string length")
	}
	start := colon + 1
	end := start + length
	if end > len(data) {
		return Value{}, nil, fmt.Errorf("bencode: string length exceeds data")
	}
	s := make([]byte, length)
	copy(s, data[start:end])
	return String(s), data[end:], nil
}

func decodeList(data []byte) (Value, []byte, error) {
	remaining := data[1:]
	var items []Value
	for len(remaining) > 0 && remaining[0] != 'e' {
		v, rest, err := decodeValue(remaining)
		if err != nil {
			return Value{}, nil, err
		}
		items = append(items, v)
		remaining = rest
	}
	if len(remaining) == 0 {
		return Value{}, nil, fmt.Errorf("bencode: list not terminated")
	}
	return List(items), remaining[1:], nil
}

func decodeDict(data []byte) (Value, []byte, error) {
	remaining := data[1:]
	entries := make(map[string]Value)
	for len(remaining) > 0 && remaining[0] != 'e' {
		keyVal, rest, err := decodeValue(remaining)
		if err != nil {
			return Value{}, nil, err
		}
		keyBytes, ok := keyVal.Bytes()
		if !ok {
			return Value{}, nil, fmt.Errorf("bencode: dictionary key must be a string")
		}
		val, rest2, err := decodeValue(rest)
		if err != nil {
			return Value{}, nil, err
		}
		entries[string(keyBytes)] = val
		remaining = rest2
	}
	if len(remaining) == 0 {
		return Value{}, nil, fmt.Errorf("bencode: dictionary not terminated")
	}
	return Dict(entries), remaining[1:], nil
}

func indexByte(data []byte, b byte) int {
	for i, c := range data {
		if c == b {
			return i
		}
	}
	return -1
}

// Encode canonically re-encodes a Value, sorting dictionary keys by raw
// byte order. Canonical ordering is what makes the info-hash stable.
func Encode(v Value) []byte {
	var out []byte
	out = appendValue(out, v)
	return out
}

func appendValue(out []byte, v Value) []byte {
	switch v.Kind {
	case KindInteger:
		out = append(out, 'i')
		out = strconv.AppendInt(out, v.Int, 10)
		out = append(out, 'e')
	case KindString:
		out = strconv.AppendInt(out, int64(len(v.Str)), 10)
		out = append(out, ':')
		out = append(out, v.Str...)
	case KindList:
		out = append(out, 'l')
		for _, item := range v.List {
			out = appendValue(out, item)
		}
		out = append(out, 'e')
	case KindDict:
		out = append(out, 'd')
		keys := make([]string, 0, len(v.Dict))
		for k := range v.Dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = appendValue(out, String([]byte(k)))
			out = appendValue(out, v.Dict[k])
		}
		out = append(out, 'e')
	}
	return out
}
