// Package peer owns the per-torrent connection pool: per-peer wire state,
// the TCP transports, the orchestrating manager and the choking loop.
package peer

import (
	"sync"
	"time"

	"github.com/warppipe/swift-torrent/bitfield"
)

var (
	MAX_PIPELINE_DEPTH = 5
	REQUEST_TIMEOUT    = 30 * time.Second
)

// BlockRequest identifies one outstanding 16 KiB (or final short) block.
type BlockRequest struct {
	Index  int
	Begin  int
	Length int
}

// State is the BEP-3 view of a single connection: both sides start choked
// and uninterested, and at most MAX_PIPELINE_DEPTH requests ride the wire.
type State struct {
	sync.Mutex

	amChoking      bool
	amInterested   bool
	peerChoking    bool
	peerInterested bool

	peerBitfield *bitfield.Bitfield
	pending      map[BlockRequest]time.Time
}

func NewState(numPieces int) *State {
	return &State{
		amChoking:    true,
		peerChoking:  true,
		peerBitfield: bitfield.New(numPieces),
		pending:      make(map[BlockRequest]time.Time),
	}
}

func (s *State) AmChoking() bool {
	s.Lock()
	defer s.Unlock()
	return s.amChoking
}

func (s *State) SetAmChoking(v bool) {
	s.Lock()
	defer s.Unlock()
	s.amChoking = v
}

func (s *State) AmInterested() bool {
	s.Lock()
	defer s.Unlock()
	return s.amInterested
}

func (s *State) SetAmInterested(v bool) {
	s.Lock()
	defer s.Unlock()
	s.amInterested = v
}

func (s *State) PeerChoking() bool {
	s.Lock()
	defer s.Unlock()
	return s.peerChoking
}

// SetPeerChoking records a choke/unchoke from the peer. A choke voids every
// pending request per BEP-3; the forfeited requests are returned.
func (s *State) SetPeerChoking(v bool) []BlockRequest {
	s.Lock()
	defer s.Unlock()

	s.peerChoking = v
	if !v {
		return nil
	}
	cleared := make([]BlockRequest, 0, len(s.pending))
	for r := range s.pending {
		cleared = append(cleared, r)
	}
	s.pending = make(map[BlockRequest]time.Time)
	return cleared
}

func (s *State) PeerInterested() bool {
	s.Lock()
	defer s.Unlock()
	return s.peerInterested
}

func (s *State) SetPeerInterested(v bool) {
	s.Lock()
	defer s.Unlock()
	s.peerInterested = v
}

func (s *State) Bitfield() *bitfield.Bitfield {
	s.Lock()
	defer s.Unlock()
	return s.peerBitfield
}

func (s *State) SetBitfield(bf *bitfield.Bitfield) {
	s.Lock()
	defer s.Unlock()
	s.peerBitfield = bf
}

func (s *State) SetHave(pieceIndex int) {
	s.Lock()
	defer s.Unlock()
	s.peerBitfield.Set(pieceIndex)
}

// CanRequest reports whether another request may be pipelined.
func (s *State) CanRequest() bool {
	s.Lock()
	defer s.Unlock()
	return !s.peerChoking && len(s.pending) < MAX_PIPELINE_DEPTH
}

// AddRequest enqueues r unless the pipeline is full, the peer is choking,
// or the exact triple is already pending.
func (s *State) AddRequest(r BlockRequest, now time.Time) bool {
	s.Lock()
	defer s.Unlock()

	if s.peerChoking || len(s.pending) >= MAX_PIPELINE_DEPTH {
		return false
	}
	if _, ok := s.pending[r]; ok {
		return false
	}
	s.pending[r] = now
	return true
}

func (s *State) HasRequest(r BlockRequest) bool {
	s.Lock()
	defer s.Unlock()

	_, ok := s.pending[r]
	return ok
}

// CompleteRequest removes the pending entry matched by an arriving block.
func (s *State) CompleteRequest(r BlockRequest) bool {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.pending[r]; !ok {
		return false
	}
	delete(s.pending, r)
	return true
}

func (s *State) PendingCount() int {
	s.Lock()
	defer s.Unlock()
	return len(s.pending)
}

// TimedOutRequests removes and returns requests enqueued before
// now - timeout; the picker will re-offer their pieces.
func (s *State) TimedOutRequests(now time.Time, timeout time.Duration) []BlockRequest {
	s.Lock()
	defer s.Unlock()

	var out []BlockRequest
	for r, at := range s.pending {
		if now.Sub(at) >= timeout {
			out = append(out, r)
			delete(s.pending, r)
		}
	}
	return out
}
