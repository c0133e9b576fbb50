package dht

import (
	"net"
	"sync"
	"time"
)

const (
	MAX_PEERS_PER_HASH = 100
	PEER_EXPIRY        = 30 * time.Minute
)

// AnnouncedPeer is one address announced for an info-hash.
type AnnouncedPeer struct {
	Addr    net.IP
	Port    int
	AddedAt time.Time
}

// Storage is the transient info-hash to announced-peer map every DHT node
// carries. Entries expire after thirty minutes; each key keeps its newest
// hundred peers.
type Storage struct {
	sync.Mutex
	peers map[[20]byte][]*AnnouncedPeer
}

func NewStorage() *Storage {
	return &Storage{
		peers: make(map[[20]byte][]*AnnouncedPeer),
	}
}

func (s *Storage) AddPeer(infoHash [20]byte, addr net.IP, port int) {
	s.Lock()
	defer s.Unlock()

	list := s.peers[infoHash]
	for _, p := range list {
		if p.Addr.Equal(addr) && p.Port == port {
			p.AddedAt = time.Now()
			return
		}
	}
	list = append(list, &AnnouncedPeer{Addr: addr, Port: port, AddedAt: time.Now()})
	if len(list) > MAX_PEERS_PER_HASH {
		// keep newest
		list = list[len(list)-MAX_PEERS_PER_HASH:]
	}
	s.peers[infoHash] = list
}

// Peers returns the unexpired announcements for infoHash.
func (s *Storage) Peers(infoHash [20]byte) []*AnnouncedPeer {
	s.Lock()
	defer s.Unlock()

	cutoff := time.Now().Add(-PEER_EXPIRY)
	list := s.peers[infoHash]
	kept := make([]*AnnouncedPeer, 0, len(list))
	for _, p := range list {
		if p.AddedAt.After(cutoff) {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		delete(s.peers, infoHash)
		return nil
	}
	s.peers[infoHash] = kept
	return kept
}
