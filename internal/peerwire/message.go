// Package peerwire implements the BitTorrent peer wire protocol's
// handshake and length-prefixed message framing.
package peerwire

import (
	"encoding/binary"
	"fmt"
)

// ID identifies a wire message's type.
type ID byte

const (
	MsgChoke ID = iota
	MsgUnchoke
	MsgInterested
	MsgNotInterested
	MsgHave
	MsgBitfield
	MsgRequest
	MsgPiece
	MsgCancel
)

// Message is a single peer wire protocol message. KeepAlive is represented
// by a nil *Message rather than its own ID, mirroring the zero-length wire
// frame that carries no message id at all.
type Message struct {
	ID      ID
	Payload []byte
}

// Serialize encodes msg (or a keep-alive if msg is nil) to its wire form:
// a 4-byte big-endian length prefix followed by the id byte and payload.
func Serialize(msg *Message) []byte {
	if msg == nil {
		return []byte{0, 0, 0, 0}
	}
	length := uint32(len(msg.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(msg.ID)
	copy(buf[5:], msg.Payload)
	return buf
}

// Decode attempts to pull one complete message out of the front of data.
// It returns the message (nil for keep-alive), the number of bytes
// consumed, and ok=false when data doesn't yet hold a full frame -
// callers should read more bytes and retry rather than treating this as
// an error.
func Decode(data []byte) (msg *Message, consumed int, ok bool, err error) {
	if len(data) < 4 {
		return nil, 0, false, nil
	}
	length := binary.BigEndian.Uint32(data[0:4])
	if length == 0 {
		return nil, 4, true, nil
	}
	total := 4 + int(length)
	if len(data) < total {
		return nil, 0, false, nil
	}
	id := ID(data[4])
	payload := append([]byte(nil), data[5:total]...)
	if err := validatePayload(id, payload); err != nil {
		return nil, 0, false, err
	}
	return &Message{ID: id, Payload: payload}, total, true, nil
}

func validatePayload(id ID, payload []byte) error {
	switch id {
	case MsgChoke, MsgUnchoke, MsgInterested, MsgNotInterested:
		// no payload expected; extra bytes are tolerated rather than
		// rejected
	case MsgHave:
		if len(payload) != 4 {
			return fmt.Errorf("peerwire: have message must carry 4 bytes, got %d", len(payload))
		}
	case MsgBitfield:
		// any length is valid
	case MsgRequest, MsgCancel:
		if len(payload) != 12 {
			return fmt.Errorf("peerwire: request/cancel message must carry 12 bytes, got %d", len(payload))
		}
	case MsgPiece:
		if len(payload) < 8 {
			return fmt.Errorf("peerwire: piece message must carry at least 8 bytes, got %d", len(payload))
		}
	default:
		return fmt.Errorf("peerwire: unknown message id %d", id)
	}
	return nil
}

// NewHave builds a Have message.
func NewHave(index uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return &Message{ID: MsgHave, Payload: payload}
}

// NewBitfield builds a Bitfield message.
func NewBitfield(bitfield []byte) *Message {
	return &Message{ID: MsgBitfield, Payload: bitfield}
}

// NewRequest builds a Request message.
func NewRequest(index, begin, length uint32) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return &Message{ID: MsgRequest, Payload: payload}
}

// NewCancel builds a Cancel message.
func NewCancel(index, begin, length uint32) *Message {
	m := NewRequest(index, begin, length)
	m.ID = MsgCancel
	return m
}

// NewPiece builds a Piece message.
func NewPiece(index, begin uint32, data []byte) *Message {
	payload := make([]byte, 8+len(data))
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	copy(payload[8:], data)
	return &Message{ID: MsgPiece, Payload: payload}
}

// ParsePiece extracts (index, begin, block) from a Piece message.
func ParsePiece(msg *Message) (index, begin uint32, block []byte, err error) {
	if msg == nil || msg.ID != MsgPiece {
		return 0, 0, nil, fmt.Errorf("peerwire: expected piece message")
	}
	if len(msg.Payload) < 8 {
		return 0, 0, nil, fmt.Errorf("peerwire: piece payload too short")
	}
	index = binary.BigEndian.Uint32(msg.Payload[0:4])
	begin = binary.BigEndian.Uint32(msg.Payload[4:8])
	return index, begin, msg.Payload[8:], nil
}

// ParseHave extracts the piece index from a Have message.
func ParseHave(msg *Message) (uint32, error) {
	if msg == nil || msg.ID != MsgHave {
		return 0, fmt.Errorf("peerwire: expected have message")
	}
	if len(msg.Payload) != 4 {
		return 0, fmt.Errorf("peerwire: have payload must be 4 bytes")
	}
	return binary.BigEndian.Uint32(msg.Payload), nil
}

const (
	protocolName   = "BitTorrent protocol"
	HandshakeLen   = 49 + len(protocolName)
	reservedLength = 8
)

// Handshake is the fixed-length preamble exchanged before any messages.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// Serialize encodes the 68-byte handshake.
func (h Handshake) Serialize() []byte {
	buf := make([]byte, HandshakeLen)
	buf[0] = byte(len(protocolName))
	offset := 1
	offset += copy(buf[offset:], protocolName)
	offset += reservedLength // reserved bytes left zeroed
	offset += copy(buf[offset:], h.InfoHash[:])
	copy(buf[offset:], h.PeerID[:])
	return buf
}

// ParseHandshake validates and decodes a 68-byte handshake.
func ParseHandshake(data []byte) (Handshake, error) {
	if len(data) < HandshakeLen {
		return Handshake{}, fmt.Errorf("peerwire: handshake too short, got %d bytes", len(data))
	}
	pstrlen := int(data[0])
	if pstrlen != len(protocolName) {
		return Handshake{}, fmt.Errorf("peerwire: unexpected protocol name length %d", pstrlen)
	}
	if string(data[1:1+pstrlen]) != protocolName {
		return Handshake{}, fmt.Errorf("peerwire: unexpected protocol name")
	}
	var h Handshake
	offset := 1 + pstrlen + reservedLength
	copy(h.InfoHash[:], data[offset:offset+20])
	copy(h.PeerID[:], data[offset+20:offset+40])
	return h, nil
}
