package dht

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryWithPrefix(prefix byte, suffix byte) *NodeEntry {
	var id NodeID
	id[0] = prefix
	id[19] = suffix
	return &NodeEntry{ID: id, Addr: net.IPv4(10, 0, 0, suffix), Port: 6881}
}

func TestInsertAndTouch(t *testing.T) {
	rt := NewRoutingTable(NodeID{})
	e := entryWithPrefix(0x80, 1)
	require.True(t, rt.Insert(e))
	firstSeen := e.LastSeen
	assert.Equal(t, 1, rt.NumNodes())

	// same id again: touch, not a second entry
	dup := entryWithPrefix(0x80, 1)
	require.True(t, rt.Insert(dup))
	assert.Equal(t, 1, rt.NumNodes())
	assert.GreaterOrEqual(t, e.LastSeen, firstSeen)
}

func TestBucketCapacity(t *testing.T) {
	rt := NewRoutingTable(NodeID{})
	// ids sharing the top bit land in bucket 159
	for i := 0; i < K; i++ {
		assert.True(t, rt.Insert(entryWithPrefix(0x80, byte(i))))
	}
	assert.False(t, rt.Insert(entryWithPrefix(0x80, byte(K))))
	assert.Equal(t, K, rt.NumNodes())

	// a different bucket still accepts
	assert.True(t, rt.Insert(entryWithPrefix(0x40, 0)))
}

func TestClosestNodesSorted(t *testing.T) {
	rt := NewRoutingTable(NodeID{})
	for i := 1; i <= 5; i++ {
		var id NodeID
		id[19] = byte(i)
		rt.Insert(&NodeEntry{ID: id, Addr: net.IPv4(10, 0, 0, byte(i)), Port: 6881})
	}
	var target NodeID // zero
	nodes := rt.ClosestNodes(target, 3)
	require.Len(t, nodes, 3)
	for i := 1; i < len(nodes); i++ {
		prev := nodes[i-1].ID.Distance(target)
		cur := nodes[i].ID.Distance(target)
		assert.True(t, prev.Less(cur) || prev == cur)
	}
	assert.Equal(t, byte(1), nodes[0].ID[19])
}

func TestRemoveStaleNodes(t *testing.T) {
	rt := NewRoutingTable(NodeID{})
	rt.Insert(entryWithPrefix(0x80, 1))
	rt.Insert(entryWithPrefix(0x40, 2))
	require.Equal(t, 2, rt.NumNodes())

	rt.RemoveStaleNodes(time.Hour)
	assert.Equal(t, 2, rt.NumNodes())

	rt.RemoveStaleNodes(0)
	assert.Equal(t, 0, rt.NumNodes())
}
