// Package peerconn manages a single TCP session with one remote peer:
// handshake, message send/receive, and the choke/bitfield state a peer
// announces about itself.
package peerconn

import (
	"fmt"
	"net"
	"time"

	"leech/internal/bitfield"
	"leech/internal/peerwire"
)

const (
	connectTimeout    = 30 * time.Second
	handshakeDeadline = 10 * time.Second
	initialBufSize    = 128 * 1024
	readChunkSize     = 64 * 1024
)

// Connection is a live, handshaken session with one remote peer.
type Connection struct {
	conn net.Conn
	addr net.Addr

	buf []byte // unparsed bytes read off the wire, trimmed as messages are decoded

	peerChoking  bool
	amInterested bool
	peerBitfield bitfield.Bitfield
}

// Connect dials addr, exchanges handshakes, and verifies the peer's
// info-hash matches ours. It does not wait for a bitfield: Bitfield is an
// optional first message, so HasPiece simply reports false until a
// Bitfield or Have arrives.
func Connect(addr net.Addr, infoHash, peerID [20]byte) (*Connection, error) {
	conn, err := net.DialTimeout("tcp", addr.String(), connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("peerconn: dial %s: %w", addr, err)
	}

	c := &Connection{
		conn:        conn,
		addr:        addr,
		buf:         make([]byte, 0, initialBufSize),
		peerChoking: true,
	}

	if err := c.handshake(infoHash, peerID); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Connection) handshake(infoHash, peerID [20]byte) error {
	c.conn.SetDeadline(time.Now().Add(handshakeDeadline))
	defer c.conn.SetDeadline(time.Time{})

	out := peerwire.Handshake{InfoHash: infoHash, PeerID: peerID}
	if _, err := c.conn.Write(out.Serialize()); err != nil {
		return fmt.Errorf("peerconn: send handshake: %w", err)
	}

	resp := make([]byte, peerwire.HandshakeLen)
	if _, err := readFull(c.conn, resp); err != nil {
		return fmt.Errorf("peerconn: read handshake: %w", err)
	}
	in, err := peerwire.ParseHandshake(resp)
	if err != nil {
		return fmt.Errorf("peerconn: parse handshake: %w", err)
	}
	if in.InfoHash != infoHash {
		return fmt.Errorf("peerconn: info hash mismatch, got %x want %x", in.InfoHash, infoHash)
	}
	return nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Send writes msg (or a keep-alive if msg is nil) to the peer.
func (c *Connection) Send(msg *peerwire.Message) error {
	_, err := c.conn.Write(peerwire.Serialize(msg))
	if err != nil {
		return fmt.Errorf("peerconn: send message: %w", err)
	}
	return nil
}

// SendInterested sends Interested and records internally that we've
// expressed interest.
func (c *Connection) SendInterested() error {
	if err := c.Send(&peerwire.Message{ID: peerwire.MsgInterested}); err != nil {
		return err
	}
	c.amInterested = true
	return nil
}

// Receive blocks until one full message (or keep-alive, represented as a
// nil *Message with no error) has been parsed out of the connection,
// growing the internal buffer with 64 KiB reads as needed. It applies
// deadline to bound how long it will wait.
func (c *Connection) Receive(deadline time.Duration) (*peerwire.Message, error) {
	if deadline > 0 {
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		defer c.conn.SetReadDeadline(time.Time{})
	}

	for {
		msg, consumed, ok, err := peerwire.Decode(c.buf)
		if err != nil {
			return nil, fmt.Errorf("peerconn: protocol violation: %w", err)
		}
		if ok {
			c.buf = c.buf[consumed:]
			c.applyState(msg)
			return msg, nil
		}

		chunk := make([]byte, readChunkSize)
		n, err := c.conn.Read(chunk)
		if n > 0 {
			c.buf = append(c.buf, chunk[:n]...)
		}
		if err != nil {
			return nil, err
		}
	}
}

func (c *Connection) applyState(msg *peerwire.Message) {
	if msg == nil {
		return
	}
	switch msg.ID {
	case peerwire.MsgChoke:
		c.peerChoking = true
	case peerwire.MsgUnchoke:
		c.peerChoking = false
	case peerwire.MsgBitfield:
		c.peerBitfield = bitfield.Bitfield(msg.Payload)
	case peerwire.MsgHave:
		if index, err := peerwire.ParseHave(msg); err == nil {
			if c.peerBitfield == nil {
				c.peerBitfield = bitfield.Bitfield{}
			}
			growBitfield(&c.peerBitfield, int(index))
			c.peerBitfield.SetPiece(int(index))
		}
	}
}

func growBitfield(bf *bitfield.Bitfield, index int) {
	need := index/8 + 1
	if len(*bf) >= need {
		return
	}
	grown := make(bitfield.Bitfield, need)
	copy(grown, *bf)
	*bf = grown
}

// IsChoking reports whether the peer is currently choking us.
func (c *Connection) IsChoking() bool { return c.peerChoking }

// HasPiece reports whether the peer has announced piece index via
// Bitfield or Have.
func (c *Connection) HasPiece(index int) bool {
	return c.peerBitfield.HasPiece(index)
}

// RequestPiece asks the peer for one block. Returns an error if we are
// currently choked, since sending a request while choked is a protocol
// violation the peer is entitled to ignore or punish.
func (c *Connection) RequestPiece(index, begin, length uint32) error {
	if c.peerChoking {
		return fmt.Errorf("peerconn: peer is choking us")
	}
	return c.Send(peerwire.NewRequest(index, begin, length))
}

// Addr returns the remote peer's address.
func (c *Connection) Addr() net.Addr { return c.addr }

// Close tears down the underlying TCP connection.
func (c *Connection) Close() error { return c.conn.Close() }
