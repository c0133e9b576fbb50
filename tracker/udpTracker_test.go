package tracker

import (
	"encoding/binary"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warppipe/swift-torrent/stats"
)

// fakeTracker answers one connect and one announce on a loopback socket.
func fakeTracker(t *testing.T, peers [][6]byte) (*net.UDPConn, string) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	go func() {
		buf := make([]byte, 4096)

		// connect request: magic(8) action(4) txid(4)
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil || n < 16 {
			return
		}
		txid := buf[12:16]
		resp := make([]byte, 16)
		copy(resp[4:8], txid)
		binary.BigEndian.PutUint64(resp[8:16], 0xDEADBEEF)
		conn.WriteToUDP(resp, raddr)

		// announce request
		n, raddr, err = conn.ReadFromUDP(buf)
		if err != nil || n < 98 {
			return
		}
		txid = buf[12:16]
		out := make([]byte, 20+6*len(peers))
		binary.BigEndian.PutUint32(out[0:4], actionAnnounce)
		copy(out[4:8], txid)
		binary.BigEndian.PutUint32(out[8:12], 1800) // interval
		binary.BigEndian.PutUint32(out[12:16], 3)   // leechers
		binary.BigEndian.PutUint32(out[16:20], 7)   // seeders
		for i, p := range peers {
			copy(out[20+6*i:], p[:])
		}
		conn.WriteToUDP(out, raddr)
	}()

	return conn, fmt.Sprintf("udp://%s", conn.LocalAddr().String())
}

func TestUDPAnnounce(t *testing.T) {
	peers := [][6]byte{
		{10, 0, 0, 1, 0x1A, 0xE1}, // 10.0.0.1:6881
		{10, 0, 0, 2, 0x1A, 0xE2}, // 10.0.0.2:6882
	}
	server, url := fakeTracker(t, peers)
	defer server.Close()

	var got []string
	addPeer := func(addr string, port int) {
		got = append(got, fmt.Sprintf("%s:%d", addr, port))
	}
	st := stats.NewStats(0, 0, 1000)
	tr := NewTracker(nil, [20]byte{}, st, addPeer, 6881).(*tracker)

	require.NoError(t, tr.announce(url, STARTED))
	assert.Equal(t, []string{"10.0.0.1:6881", "10.0.0.2:6882"}, got)
	assert.Equal(t, int32(1800), tr.interval)
	leechers, seeders := tr.Swarm()
	assert.Equal(t, int32(3), leechers)
	assert.Equal(t, int32(7), seeders)
}

func TestUDPConnectBadAction(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	go func() {
		buf := make([]byte, 4096)
		_, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		resp := make([]byte, 16)
		binary.BigEndian.PutUint32(resp[0:4], 3) // error action
		copy(resp[4:8], buf[12:16])
		conn.WriteToUDP(resp, raddr)
	}()

	st := stats.NewStats(0, 0, 1000)
	tr := NewTracker(nil, [20]byte{}, st, func(string, int) {}, 6881).(*tracker)
	err = tr.announce(fmt.Sprintf("udp://%s", conn.LocalAddr().String()), STARTED)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}
