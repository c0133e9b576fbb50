package dht

import (
	"sort"
	"sync"
	"time"
)

// RoutingTable is the 160-bucket Kademlia table keyed by the bucket index
// of the XOR distance to our own id. Buckets cap at K entries and are not
// split.
type RoutingTable struct {
	sync.Mutex
	ownID   NodeID
	buckets [IDLength * 8][]*NodeEntry
}

func NewRoutingTable(ownID NodeID) *RoutingTable {
	return &RoutingTable{ownID: ownID}
}

// Insert adds or refreshes a node. A known id only touches its LastSeen; a
// fresh id joins a non-full bucket; a full bucket rejects.
func (rt *RoutingTable) Insert(entry *NodeEntry) bool {
	rt.Lock()
	defer rt.Unlock()

	index := rt.ownID.BucketIndex(entry.ID)
	bucket := rt.buckets[index]
	for _, n := range bucket {
		if n.ID == entry.ID {
			n.LastSeen = time.Now().Unix()
			n.Addr = entry.Addr
			n.Port = entry.Port
			return true
		}
	}
	if len(bucket) >= K {
		return false
	}
	entry.LastSeen = time.Now().Unix()
	rt.buckets[index] = append(bucket, entry)
	return true
}

// ClosestNodes returns up to n known nodes sorted by XOR distance to
// target, ascending.
func (rt *RoutingTable) ClosestNodes(target NodeID, n int) []*NodeEntry {
	rt.Lock()
	defer rt.Unlock()

	all := make([]*NodeEntry, 0)
	for _, bucket := range rt.buckets {
		all = append(all, bucket...)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].ID.Distance(target).Less(all[j].ID.Distance(target))
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

func (rt *RoutingTable) NumNodes() int {
	rt.Lock()
	defer rt.Unlock()

	total := 0
	for _, bucket := range rt.buckets {
		total += len(bucket)
	}
	return total
}

// RemoveStaleNodes drops every entry whose LastSeen is older than maxAge.
func (rt *RoutingTable) RemoveStaleNodes(maxAge time.Duration) {
	rt.Lock()
	defer rt.Unlock()

	cutoff := time.Now().Add(-maxAge).Unix()
	for i, bucket := range rt.buckets {
		kept := bucket[:0]
		for _, n := range bucket {
			if n.LastSeen > cutoff {
				kept = append(kept, n)
			}
		}
		rt.buckets[i] = kept
	}
}
