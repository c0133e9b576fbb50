package peer

import (
	"bytes"
	"net"
	"time"

	"github.com/warppipe/swift-torrent/torrent"
	"github.com/warppipe/swift-torrent/wire"
)

const (
	DIAL_TIMEOUT        = 2 * time.Second
	PEER_TIMEOUT        = 120 * time.Second
	KEEP_ALIVE_INTERVAL = time.Minute
)

var newWire = wire.NewWire

type transportCallbacks struct {
	onConnect    func(key string, hs *wire.Handshake)
	onMessage    func(key string, msg *wire.Message)
	onDisconnect func(key string)
}

// transport is one peer connection's read loop. It never reaches back into
// the manager directly; decoded messages and the disconnect are delivered
// through the registered callbacks.
type transport struct {
	key       string
	infoHash  [20]byte
	wire      wire.Wire
	handshake *wire.Handshake
	callbacks transportCallbacks
	closed    bool
}

// newTransport wraps an accepted connection, or dials when conn is nil.
func newTransport(key string, conn net.Conn, infoHash [20]byte, callbacks transportCallbacks) *transport {
	t := &transport{
		key:       key,
		infoHash:  infoHash,
		callbacks: callbacks,
	}
	if conn != nil {
		t.wire = newWire(conn, PEER_TIMEOUT)
	}
	return t
}

func (t *transport) Key() string {
	return t.key
}

func (t *transport) Wire() wire.Wire {
	return t.wire
}

func (t *transport) Handshake() *wire.Handshake {
	return t.handshake
}

func (t *transport) Stop() {
	t.closed = true
	if t.wire != nil {
		t.wire.Close()
	}
	t.callbacks.onDisconnect(t.key)
}

func (t *transport) Start() {
	if t.wire == nil {
		conn, err := net.DialTimeout("tcp4", t.key, DIAL_TIMEOUT)
		if err != nil {
			t.callbacks.onDisconnect(t.key)
			return
		}
		t.wire = newWire(conn, PEER_TIMEOUT)
	}

	if err := t.wire.SendHandshake(t.infoHash, torrent.PEER_ID); err != nil {
		t.Stop()
		return
	}
	hs, err := t.wire.ReadHandshake()
	if err != nil || !bytes.Equal(hs.InfoHash[:], t.infoHash[:]) {
		t.Stop()
		return
	}
	t.handshake = hs
	t.callbacks.onConnect(t.key, hs)

	go t.keepAlive()

	for {
		msg, err := t.wire.ReadMessage()
		if t.closed {
			return
		}
		if err != nil {
			t.Stop()
			return
		}
		if msg.KeepAlive {
			continue
		}
		t.callbacks.onMessage(t.key, msg)
	}
}

func (t *transport) keepAlive() {
	for {
		now := <-time.After(KEEP_ALIVE_INTERVAL)
		if t.closed {
			return
		}
		if t.wire.GetLastMessageSent().Before(now.Add(-KEEP_ALIVE_INTERVAL)) {
			if err := t.wire.SendKeepAlive(); err != nil {
				return
			}
		}
	}
}
