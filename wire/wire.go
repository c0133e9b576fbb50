// Package wire implements the BEP-3 peer wire protocol: handshake and
// framed message codecs plus the per-connection TCP transport.
package wire

import (
	"encoding/binary"
	"io"
	"net"
	"time"
)

// Wire is one TCP peer connection. Reads and writes carry a deadline; a
// stalled peer surfaces as an I/O error and is dropped by the manager.
type Wire interface {
	// Reading
	ReadHandshake() (*Handshake, error)
	ReadMessage() (*Message, error)

	// Writing
	SendHandshake(infoHash, peerID [20]byte) error
	SendKeepAlive() error
	SendChoke() error
	SendUnchoke() error
	SendInterested() error
	SendUnInterested() error
	SendHave(pieceIndex int) error
	SendBitField(bitfield []byte) error
	SendRequest(pieceIndex, begin, length int) error
	SendCancel(pieceIndex, begin, length int) error
	SendBlock(pieceIndex, begin int, block []byte) error
	SendPort(port uint16) error
	SendExtended(extID byte, payload []byte) error

	GetLastMessageSent() time.Time
	Close()
}

type tcpWire struct {
	conn            net.Conn
	timeoutDuration time.Duration
	lastMessageSent time.Time
}

func NewWire(conn net.Conn, timeoutDuration time.Duration) Wire {
	return &tcpWire{
		conn:            conn,
		timeoutDuration: timeoutDuration,
	}
}

func (w *tcpWire) GetLastMessageSent() time.Time {
	return w.lastMessageSent
}

func (w *tcpWire) Close() {
	w.conn.Close()
}

func (w *tcpWire) ReadHandshake() (*Handshake, error) {
	w.conn.SetReadDeadline(time.Now().Add(w.timeoutDuration))
	data := make([]byte, HANDSHAKE_LEN)
	if _, err := io.ReadFull(w.conn, data); err != nil {
		return nil, err
	}
	return DecodeHandshake(data)
}

func (w *tcpWire) ReadMessage() (*Message, error) {
	w.conn.SetReadDeadline(time.Now().Add(w.timeoutDuration))

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(w.conn, lenBuf); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf)
	body := make([]byte, length)
	if _, err := io.ReadFull(w.conn, body); err != nil {
		return nil, err
	}
	return DecodePayload(body)
}

func (w *tcpWire) SendHandshake(infoHash, peerID [20]byte) error {
	return w.send(NewHandshake(infoHash, peerID).Encode())
}

func (w *tcpWire) SendKeepAlive() error {
	return w.send((&Message{KeepAlive: true}).Encode())
}

func (w *tcpWire) SendChoke() error {
	return w.send((&Message{ID: CHOKE}).Encode())
}

func (w *tcpWire) SendUnchoke() error {
	return w.send((&Message{ID: UNCHOKE}).Encode())
}

func (w *tcpWire) SendInterested() error {
	return w.send((&Message{ID: INTERESTED}).Encode())
}

func (w *tcpWire) SendUnInterested() error {
	return w.send((&Message{ID: NOT_INTERESTED}).Encode())
}

func (w *tcpWire) SendHave(pieceIndex int) error {
	return w.send((&Message{ID: HAVE, Index: pieceIndex}).Encode())
}

func (w *tcpWire) SendBitField(bitfield []byte) error {
	return w.send((&Message{ID: BITFIELD, Bitfield: bitfield}).Encode())
}

func (w *tcpWire) SendRequest(pieceIndex, begin, length int) error {
	return w.send((&Message{ID: REQUEST, Index: pieceIndex, Begin: begin, Length: length}).Encode())
}

func (w *tcpWire) SendCancel(pieceIndex, begin, length int) error {
	return w.send((&Message{ID: CANCEL, Index: pieceIndex, Begin: begin, Length: length}).Encode())
}

func (w *tcpWire) SendBlock(pieceIndex, begin int, block []byte) error {
	return w.send((&Message{ID: BLOCK, Index: pieceIndex, Begin: begin, Block: block}).Encode())
}

func (w *tcpWire) SendPort(port uint16) error {
	return w.send((&Message{ID: PORT, Port: port}).Encode())
}

func (w *tcpWire) SendExtended(extID byte, payload []byte) error {
	return w.send((&Message{ID: EXTENDED, ExtID: extID, ExtPayload: payload}).Encode())
}

func (w *tcpWire) send(frame []byte) error {
	w.lastMessageSent = time.Now()
	w.conn.SetWriteDeadline(time.Now().Add(w.timeoutDuration))
	_, err := w.conn.Write(frame)
	return err
}
