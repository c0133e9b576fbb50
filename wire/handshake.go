package wire

import (
	"fmt"
)

const (
	protocolName  = "BitTorrent protocol"
	HANDSHAKE_LEN = 68
	extensionBit  = 0x10 // reserved[5], BEP-10
)

// Handshake is the fixed 68-byte prelude of every peer connection.
type Handshake struct {
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake builds an outbound handshake with the extension bit set.
func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	h := &Handshake{InfoHash: infoHash, PeerID: peerID}
	h.Reserved[5] |= extensionBit
	return h
}

func (h *Handshake) SupportsExtended() bool {
	return h.Reserved[5]&extensionBit != 0
}

func (h *Handshake) Encode() []byte {
	out := make([]byte, 0, HANDSHAKE_LEN)
	out = append(out, byte(len(protocolName)))
	out = append(out, protocolName...)
	out = append(out, h.Reserved[:]...)
	out = append(out, h.InfoHash[:]...)
	out = append(out, h.PeerID[:]...)
	return out
}

func DecodeHandshake(data []byte) (*Handshake, error) {
	if len(data) < HANDSHAKE_LEN {
		return nil, fmt.Errorf("wire: short handshake: %d bytes", len(data))
	}
	if data[0] != byte(len(protocolName)) || string(data[1:20]) != protocolName {
		return nil, fmt.Errorf("wire: bad handshake protocol string")
	}
	h := &Handshake{}
	copy(h.Reserved[:], data[20:28])
	copy(h.InfoHash[:], data[28:48])
	copy(h.PeerID[:], data[48:68])
	return h, nil
}
