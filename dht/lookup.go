package dht

import (
	"fmt"
	"net"
	"sort"
	"sync"
)

const (
	// ALPHA is the lookup concurrency width.
	ALPHA = 3
	// MAX_PEER_ROUNDS bounds a get_peers traversal.
	MAX_PEER_ROUNDS = 10
)

type lookupState struct {
	sync.Mutex
	target  NodeID
	closest []*NodeEntry
	queried map[string]bool
}

func entryKey(e *NodeEntry) string {
	return fmt.Sprintf("%s:%d", e.Addr, e.Port)
}

func newLookupState(target NodeID, seed []*NodeEntry) *lookupState {
	ls := &lookupState{
		target:  target,
		queried: make(map[string]bool),
	}
	ls.merge(seed)
	return ls
}

// merge folds found nodes into the closest set, keeping the K nearest.
func (ls *lookupState) merge(nodes []*NodeEntry) {
	ls.Lock()
	defer ls.Unlock()

	seen := make(map[string]bool, len(ls.closest))
	for _, e := range ls.closest {
		seen[entryKey(e)] = true
	}
	for _, e := range nodes {
		if !seen[entryKey(e)] {
			seen[entryKey(e)] = true
			ls.closest = append(ls.closest, e)
		}
	}
	sort.Slice(ls.closest, func(i, j int) bool {
		return ls.closest[i].ID.Distance(ls.target).Less(ls.closest[j].ID.Distance(ls.target))
	})
	if len(ls.closest) > K {
		ls.closest = ls.closest[:K]
	}
}

// nextRound claims up to ALPHA un-queried nodes from the closest set.
func (ls *lookupState) nextRound() []*NodeEntry {
	ls.Lock()
	defer ls.Unlock()

	var batch []*NodeEntry
	for _, e := range ls.closest {
		if len(batch) >= ALPHA {
			break
		}
		if !ls.queried[entryKey(e)] {
			ls.queried[entryKey(e)] = true
			batch = append(batch, e)
		}
	}
	return batch
}

func (ls *lookupState) nearest() *NodeEntry {
	ls.Lock()
	defer ls.Unlock()

	if len(ls.closest) == 0 {
		return nil
	}
	return ls.closest[0]
}

func (ls *lookupState) result() []*NodeEntry {
	ls.Lock()
	defer ls.Unlock()

	out := make([]*NodeEntry, len(ls.closest))
	copy(out, ls.closest)
	return out
}

// LookupNode runs the iterative find_node traversal: query ALPHA un-queried
// nodes per round, merge what they return, stop when a full round leaves
// the nearest node unchanged.
func (n *Node) LookupNode(target NodeID) []*NodeEntry {
	ls := newLookupState(target, n.table.ClosestNodes(target, K))

	for {
		before := ls.nearest()
		batch := ls.nextRound()
		if len(batch) == 0 {
			return ls.result()
		}

		var wg sync.WaitGroup
		for _, e := range batch {
			wg.Add(1)
			go func(e *NodeEntry) {
				defer wg.Done()
				raddr := &net.UDPAddr{IP: e.Addr, Port: e.Port}
				// per-query timeouts never fail the whole lookup
				nodes, err := n.FindNode(raddr, target)
				if err != nil {
					return
				}
				ls.merge(nodes)
			}(e)
		}
		wg.Wait()

		after := ls.nearest()
		if before != nil && after != nil && before.ID == after.ID {
			return ls.result()
		}
	}
}

// LookupPeers runs the iterative get_peers traversal, terminating as soon
// as any peer surfaces or after MAX_PEER_ROUNDS. With announcePort > 0 the
// k closest responders are sent announce_peer with their tokens.
func (n *Node) LookupPeers(infoHash [20]byte, announcePort int) []PeerAddr {
	var target NodeID
	copy(target[:], infoHash[:])
	ls := newLookupState(target, n.table.ClosestNodes(target, K))

	var mu sync.Mutex
	found := make([]PeerAddr, 0)
	tokens := make(map[string][]byte)

	for round := 0; round < MAX_PEER_ROUNDS; round++ {
		batch := ls.nextRound()
		if len(batch) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, e := range batch {
			wg.Add(1)
			go func(e *NodeEntry) {
				defer wg.Done()
				raddr := &net.UDPAddr{IP: e.Addr, Port: e.Port}
				peers, nodes, token, err := n.GetPeers(raddr, infoHash)
				if err != nil {
					return
				}
				mu.Lock()
				found = append(found, peers...)
				if token != nil {
					tokens[entryKey(e)] = token
				}
				mu.Unlock()
				ls.merge(nodes)
			}(e)
		}
		wg.Wait()

		mu.Lock()
		done := len(found) > 0
		mu.Unlock()
		if done {
			break
		}
	}

	if announcePort > 0 {
		for _, e := range ls.result() {
			token, ok := tokens[entryKey(e)]
			if !ok {
				continue
			}
			raddr := &net.UDPAddr{IP: e.Addr, Port: e.Port}
			n.AnnouncePeer(raddr, infoHash, announcePort, token)
		}
	}
	return found
}
