package bencode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInteger(t *testing.T) {
	v, err := Decode([]byte("i42e"))
	require.NoError(t, err)
	assert.Equal(t, Integer(42), v)
}

func TestDecodeString(t *testing.T) {
	v, err := Decode([]byte("5:hello"))
	require.NoError(t, err)
	assert.Equal(t, String([]byte("hello")), v)
}

func TestDecodeList(t *testing.T) {
	v, err := Decode([]byte("li42e5:helloe"))
	require.NoError(t, err)
	items, ok := v.Items()
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, Integer(42), items[0])
	assert.Equal(t, String([]byte("hello")), items[1])
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := Dict(map[string]Value{
		"num": Integer(123),
		"str": String([]byte("test")),
	})
	encoded := Encode(original)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestEncodeSortsDictKeys(t *testing.T) {
	v := Dict(map[string]Value{
		"zebra": Integer(1),
		"apple": Integer(2),
	})
	assert.Equal(t, "d5:applei2e5:zebrai1ee", string(Encode(v)))
}

func TestDecodeTruncatedStringErrors(t *testing.T) {
	_, err := Decode([]byte("10:short"))
	assert.Error(t, err)
}

func TestDecodeUnterminatedListErrors(t *testing.T) {
	_, err := Decode([]byte("li1e"))
	assert.Error(t, err)
}
