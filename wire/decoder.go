package wire

import (
	"bytes"
	"encoding/binary"
)

// Decoder turns an arriving byte stream into messages. It consumes exactly
// one handshake first, then length-prefixed frames; partial input waits for
// more bytes.
type Decoder struct {
	buf       bytes.Buffer
	handshake *Handshake
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Handshake returns the decoded handshake, or nil until it has arrived.
func (d *Decoder) Handshake() *Handshake {
	return d.handshake
}

// Feed appends incoming bytes and returns every message completed by them.
func (d *Decoder) Feed(p []byte) ([]*Message, error) {
	d.buf.Write(p)

	if d.handshake == nil {
		if d.buf.Len() < HANDSHAKE_LEN {
			return nil, nil
		}
		hs, err := DecodeHandshake(d.buf.Bytes()[:HANDSHAKE_LEN])
		if err != nil {
			return nil, err
		}
		d.handshake = hs
		d.buf.Next(HANDSHAKE_LEN)
	}

	var msgs []*Message
	for {
		if d.buf.Len() < 4 {
			return msgs, nil
		}
		length := int(binary.BigEndian.Uint32(d.buf.Bytes()[:4]))
		if d.buf.Len() < 4+length {
			return msgs, nil
		}
		d.buf.Next(4)
		body := make([]byte, length)
		d.buf.Read(body)
		m, err := DecodePayload(body)
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, m)
	}
}
