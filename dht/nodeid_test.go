package dht

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceSymmetry(t *testing.T) {
	a := GenerateNodeID()
	b := GenerateNodeID()
	assert.Equal(t, a.Distance(b), b.Distance(a))
	assert.Equal(t, NodeID{}, a.Distance(a))
}

func TestBucketIndex(t *testing.T) {
	var a NodeID
	assert.Equal(t, 0, a.BucketIndex(a))

	var top NodeID
	top[0] = 0x80 // flipped top bit
	assert.Equal(t, 159, a.BucketIndex(top))

	var low NodeID
	low[19] = 0x01
	assert.Equal(t, 0, a.BucketIndex(low))

	var mid NodeID
	mid[19] = 0x02
	assert.Equal(t, 1, a.BucketIndex(mid))

	var b NodeID
	b[0] = 0x01 // bit 152
	assert.Equal(t, 152, a.BucketIndex(b))
}

func TestCompactNodeRoundTrip(t *testing.T) {
	id := GenerateNodeID()
	entry := &NodeEntry{ID: id, Addr: net.IPv4(192, 168, 1, 10), Port: 6881}
	data := entry.Compact()
	require.Len(t, data, 26)

	nodes := ParseCompactNodes(data)
	require.Len(t, nodes, 1)
	assert.Equal(t, id, nodes[0].ID)
	assert.True(t, nodes[0].Addr.Equal(entry.Addr))
	assert.Equal(t, 6881, nodes[0].Port)

	// trailing garbage is dropped
	nodes = ParseCompactNodes(append(data, 0x01, 0x02))
	assert.Len(t, nodes, 1)
}

func TestCompactPeerRoundTrip(t *testing.T) {
	data := CompactPeer(net.IPv4(10, 1, 2, 3), 51413)
	require.Len(t, data, 6)
	addr, port, err := ParseCompactPeer(data)
	require.NoError(t, err)
	assert.True(t, addr.Equal(net.IPv4(10, 1, 2, 3)))
	assert.Equal(t, 51413, port)

	_, _, err = ParseCompactPeer(data[:5])
	assert.Error(t, err)
}
