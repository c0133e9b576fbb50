// Package piece holds the per-torrent piece state: rarest-first selection,
// block assembly with hash verification, and the BEP-9 metadata exchange.
package piece

import (
	"sort"
	"sync"

	"github.com/warppipe/swift-torrent/bitfield"
)

// Picker tracks swarm availability per piece and selects the next piece to
// download, rarest first. It is a pure predicate: completed and in-progress
// filtering is layered by the caller.
type Picker interface {
	AddPeerBitfield(bf *bitfield.Bitfield)
	RemovePeerBitfield(bf *bitfield.Bitfield)
	AddHave(pieceIndex int)
	Availability(pieceIndex int) int
	Pick(myHave, peerHas *bitfield.Bitfield) int
	PickMultiple(myHave, peerHas *bitfield.Bitfield, n int) []int
}

type rarestFirst struct {
	sync.Mutex
	availability []int
}

func NewPicker(numPieces int) Picker {
	return &rarestFirst{
		availability: make([]int, numPieces),
	}
}

func (p *rarestFirst) AddPeerBitfield(bf *bitfield.Bitfield) {
	p.Lock()
	defer p.Unlock()

	for i := 0; i < len(p.availability) && i < bf.Count(); i++ {
		if bf.Get(i) {
			p.availability[i]++
		}
	}
}

func (p *rarestFirst) RemovePeerBitfield(bf *bitfield.Bitfield) {
	p.Lock()
	defer p.Unlock()

	for i := 0; i < len(p.availability) && i < bf.Count(); i++ {
		if bf.Get(i) && p.availability[i] > 0 {
			p.availability[i]--
		}
	}
}

func (p *rarestFirst) AddHave(pieceIndex int) {
	p.Lock()
	defer p.Unlock()

	if pieceIndex < 0 || pieceIndex >= len(p.availability) {
		return
	}
	p.availability[pieceIndex]++
}

func (p *rarestFirst) Availability(pieceIndex int) int {
	p.Lock()
	defer p.Unlock()

	if pieceIndex < 0 || pieceIndex >= len(p.availability) {
		return 0
	}
	return p.availability[pieceIndex]
}

// Pick returns the rarest piece the peer has and we lack, smallest index on
// ties, or -1 when nothing qualifies.
func (p *rarestFirst) Pick(myHave, peerHas *bitfield.Bitfield) int {
	picks := p.PickMultiple(myHave, peerHas, 1)
	if len(picks) == 0 {
		return -1
	}
	return picks[0]
}

func (p *rarestFirst) PickMultiple(myHave, peerHas *bitfield.Bitfield, n int) []int {
	p.Lock()
	defer p.Unlock()

	candidates := make([]int, 0)
	for i := 0; i < len(p.availability); i++ {
		if !myHave.Get(i) && peerHas.Get(i) {
			candidates = append(candidates, i)
		}
	}
	// stable keeps the smallest-index ordering within equal availability
	sort.SliceStable(candidates, func(i, j int) bool {
		return p.availability[candidates[i]] < p.availability[candidates[j]]
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}
