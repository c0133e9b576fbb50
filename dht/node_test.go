package dht

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loopbackNode(t *testing.T) *Node {
	t.Helper()
	n, err := NewNode(Config{Port: 0})
	require.NoError(t, err)
	t.Cleanup(n.Close)
	return n
}

func addrOf(n *Node) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: n.Port()}
}

func TestPingInsertsSender(t *testing.T) {
	a := loopbackNode(t)
	b := loopbackNode(t)

	require.NoError(t, a.Ping(addrOf(b)))
	// b answered, so a learned b's id; b saw a's query and learned a
	assert.Equal(t, 1, a.Table().NumNodes())
	assert.Equal(t, 1, b.Table().NumNodes())
}

func TestFindNodeReturnsKnownNodes(t *testing.T) {
	a := loopbackNode(t)
	b := loopbackNode(t)

	// b knows one extra node
	extra := &NodeEntry{ID: GenerateNodeID(), Addr: net.IPv4(10, 0, 0, 9), Port: 6889}
	b.Table().Insert(extra)

	nodes, err := a.FindNode(addrOf(b), a.ID())
	require.NoError(t, err)
	found := false
	for _, n := range nodes {
		if n.ID == extra.ID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestGetPeersAndAnnounce(t *testing.T) {
	a := loopbackNode(t)
	b := loopbackNode(t)
	var infoHash [20]byte
	infoHash[0] = 0x42

	// nothing stored yet: nodes + token come back
	peers, _, token, err := a.GetPeers(addrOf(b), infoHash)
	require.NoError(t, err)
	assert.Empty(t, peers)
	require.NotEmpty(t, token)

	require.NoError(t, a.AnnouncePeer(addrOf(b), infoHash, 7000, token))

	peers, _, _, err = a.GetPeers(addrOf(b), infoHash)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, 7000, peers[0].Port)
}

func TestAnnounceBadTokenRejected(t *testing.T) {
	a := loopbackNode(t)
	b := loopbackNode(t)
	var infoHash [20]byte

	err := a.AnnouncePeer(addrOf(b), infoHash, 7000, []byte("bogus"))
	assert.Error(t, err)

	peers, _, _, err := a.GetPeers(addrOf(b), infoHash)
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestLookupPeersFindsAnnouncement(t *testing.T) {
	a := loopbackNode(t)
	b := loopbackNode(t)
	var infoHash [20]byte
	infoHash[5] = 0x07

	// b already stores a peer for the hash
	b.storage.AddPeer(infoHash, net.IPv4(10, 0, 0, 3), 6999)

	// a only knows b
	a.Table().Insert(&NodeEntry{ID: b.ID(), Addr: net.IPv4(127, 0, 0, 1), Port: b.Port()})

	peers := a.LookupPeers(infoHash, 0)
	require.Len(t, peers, 1)
	assert.Equal(t, 6999, peers[0].Port)
}
