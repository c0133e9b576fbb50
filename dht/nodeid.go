// Package dht implements the BitTorrent DHT protocol (BEP 5): node
// identifiers, k-bucket routing, the bencoded KRPC transport and the
// iterative Kademlia lookups.
package dht

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
)

const (
	// IDLength is the length of a node ID in bytes (160 bits).
	IDLength = 20
	// K is the bucket capacity.
	K = 8
)

type NodeID [IDLength]byte

func GenerateNodeID() NodeID {
	var id NodeID
	rand.Read(id[:])
	return id
}

func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != IDLength {
		return id, fmt.Errorf("dht: node id is %d bytes, want %d", len(b), IDLength)
	}
	copy(id[:], b)
	return id, nil
}

func (id NodeID) Hex() string {
	return hex.EncodeToString(id[:])
}

// Distance returns the XOR metric between two ids.
func (id NodeID) Distance(other NodeID) NodeID {
	var dist NodeID
	for i := range id {
		dist[i] = id[i] ^ other[i]
	}
	return dist
}

// Less orders ids (and distances) as big-endian integers.
func (id NodeID) Less(other NodeID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// BucketIndex is the zero-based position of the highest-order set bit of
// the XOR distance: 0 for equal ids, 159 for a flipped top bit.
func (id NodeID) BucketIndex(other NodeID) int {
	dist := id.Distance(other)
	for i, b := range dist {
		if b == 0 {
			continue
		}
		for j := 7; j >= 0; j-- {
			if b&(1<<uint(j)) != 0 {
				return (IDLength-1-i)*8 + j
			}
		}
	}
	return 0
}

// NodeEntry is one known node with its network address.
type NodeEntry struct {
	ID       NodeID
	Addr     net.IP
	Port     int
	LastSeen int64
}

// Compact encodes the entry in the 26-byte wire form: id + IPv4 + port.
func (n *NodeEntry) Compact() []byte {
	buf := make([]byte, 26)
	copy(buf[:20], n.ID[:])
	if ip4 := n.Addr.To4(); ip4 != nil {
		copy(buf[20:24], ip4)
	}
	binary.BigEndian.PutUint16(buf[24:26], uint16(n.Port))
	return buf
}

// CompactNodes concatenates the compact form of every entry.
func CompactNodes(nodes []*NodeEntry) []byte {
	out := make([]byte, 0, 26*len(nodes))
	for _, n := range nodes {
		out = append(out, n.Compact()...)
	}
	return out
}

// ParseCompactNodes splits a response's nodes string into entries;
// malformed trailing bytes are dropped.
func ParseCompactNodes(data []byte) []*NodeEntry {
	var nodes []*NodeEntry
	for i := 0; i+26 <= len(data); i += 26 {
		var id NodeID
		copy(id[:], data[i:i+20])
		nodes = append(nodes, &NodeEntry{
			ID:   id,
			Addr: net.IPv4(data[i+20], data[i+21], data[i+22], data[i+23]),
			Port: int(binary.BigEndian.Uint16(data[i+24 : i+26])),
		})
	}
	return nodes
}

// CompactPeer encodes addr:port in the 6-byte peer form.
func CompactPeer(addr net.IP, port int) []byte {
	buf := make([]byte, 6)
	if ip4 := addr.To4(); ip4 != nil {
		copy(buf[:4], ip4)
	}
	binary.BigEndian.PutUint16(buf[4:6], uint16(port))
	return buf
}

// ParseCompactPeer decodes one 6-byte peer value.
func ParseCompactPeer(data []byte) (net.IP, int, error) {
	if len(data) != 6 {
		return nil, 0, fmt.Errorf("dht: compact peer is %d bytes, want 6", len(data))
	}
	return net.IPv4(data[0], data[1], data[2], data[3]), int(binary.BigEndian.Uint16(data[4:6])), nil
}
