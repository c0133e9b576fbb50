package piece

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set"

	"github.com/warppipe/swift-torrent/bitfield"
	"github.com/warppipe/swift-torrent/torrent"
)

const BLOCK_SIZE = 16384

type VerifyResult int

const (
	Verified VerifyResult = iota
	Corrupt
)

// Assembler buffers in-progress pieces and verifies them against the
// metainfo hashes. A piece is absent, in progress or complete, never two at
// once: verification failure returns it to absent.
type Assembler interface {
	StartPiece(pieceIndex int)
	InProgress(pieceIndex int) bool
	AddBlock(id string, pieceIndex, begin int, data []byte)
	// HasBlock reports whether a block starting at begin has already
	// arrived for an in-progress piece.
	HasBlock(pieceIndex, begin int) bool
	BufferLength(pieceIndex int) int
	ExpectedPieceSize(pieceIndex int) int
	// CompletePiece hashes the buffer; on a match the piece data is returned
	// and the piece is marked complete. The contributor set is returned on
	// either outcome.
	CompletePiece(pieceIndex int) (VerifyResult, []byte, mapset.Set, error)
	HasPiece(pieceIndex int) bool
	Bitfield() *bitfield.Bitfield
	MarkComplete(pieceIndex int)
	Progress() float64
	IsComplete() bool
}

type inProgressPiece struct {
	buffer       []byte
	received     map[int]bool
	contributors mapset.Set
}

type assembler struct {
	sync.Mutex
	tor        *torrent.TorrentInfo
	inProgress map[int]*inProgressPiece
	completed  *bitfield.Bitfield
}

func NewAssembler(tor *torrent.TorrentInfo) Assembler {
	return &assembler{
		tor:        tor,
		inProgress: make(map[int]*inProgressPiece),
		completed:  bitfield.New(tor.NumPieces()),
	}
}

// StartPiece is idempotent; starting a completed piece is a no-op.
func (a *assembler) StartPiece(pieceIndex int) {
	a.Lock()
	defer a.Unlock()

	if a.completed.Get(pieceIndex) {
		return
	}
	if _, ok := a.inProgress[pieceIndex]; !ok {
		a.inProgress[pieceIndex] = &inProgressPiece{
			received:     make(map[int]bool),
			contributors: mapset.NewSet(),
		}
	}
}

func (a *assembler) InProgress(pieceIndex int) bool {
	a.Lock()
	defer a.Unlock()

	_, ok := a.inProgress[pieceIndex]
	return ok
}

// AddBlock grows the buffer to cover begin+len(data), zero-padding any gap,
// and overwrites that range. Blocks for pieces not in progress are dropped.
func (a *assembler) AddBlock(id string, pieceIndex, begin int, data []byte) {
	a.Lock()
	defer a.Unlock()

	p, ok := a.inProgress[pieceIndex]
	if !ok {
		return
	}
	need := begin + len(data)
	if need > len(p.buffer) {
		p.buffer = append(p.buffer, make([]byte, need-len(p.buffer))...)
	}
	copy(p.buffer[begin:need], data)
	p.received[begin] = true
	p.contributors.Add(id)
}

func (a *assembler) HasBlock(pieceIndex, begin int) bool {
	a.Lock()
	defer a.Unlock()

	p, ok := a.inProgress[pieceIndex]
	if !ok {
		return false
	}
	return p.received[begin]
}

func (a *assembler) BufferLength(pieceIndex int) int {
	a.Lock()
	defer a.Unlock()

	if p, ok := a.inProgress[pieceIndex]; ok {
		return len(p.buffer)
	}
	return 0
}

func (a *assembler) ExpectedPieceSize(pieceIndex int) int {
	return a.tor.PieceSize(pieceIndex)
}

func (a *assembler) CompletePiece(pieceIndex int) (VerifyResult, []byte, mapset.Set, error) {
	a.Lock()
	defer a.Unlock()

	p, ok := a.inProgress[pieceIndex]
	if !ok {
		return Corrupt, nil, nil, fmt.Errorf("piece %d is not in progress", pieceIndex)
	}
	expected := a.tor.PieceSize(pieceIndex)
	if len(p.buffer) < expected {
		return Corrupt, nil, nil, fmt.Errorf("piece %d buffer is %d bytes, want %d", pieceIndex, len(p.buffer), expected)
	}

	data := p.buffer[:expected]
	checksum := sha1.Sum(data)
	delete(a.inProgress, pieceIndex)
	if !bytes.Equal(checksum[:], a.tor.PieceHash(pieceIndex)) {
		// back to absent, eligible for re-selection
		return Corrupt, nil, p.contributors, nil
	}
	a.completed.Set(pieceIndex)
	return Verified, data, p.contributors, nil
}

func (a *assembler) HasPiece(pieceIndex int) bool {
	a.Lock()
	defer a.Unlock()

	return a.completed.Get(pieceIndex)
}

func (a *assembler) Bitfield() *bitfield.Bitfield {
	a.Lock()
	defer a.Unlock()

	return a.completed.Copy()
}

// MarkComplete records a piece verified outside the assembler, e.g. found
// on disk during a resume scan.
func (a *assembler) MarkComplete(pieceIndex int) {
	a.Lock()
	defer a.Unlock()

	delete(a.inProgress, pieceIndex)
	a.completed.Set(pieceIndex)
}

func (a *assembler) Progress() float64 {
	a.Lock()
	defer a.Unlock()

	if a.tor.NumPieces() == 0 {
		return 0
	}
	return float64(a.completed.Popcount()) / float64(a.tor.NumPieces())
}

func (a *assembler) IsComplete() bool {
	a.Lock()
	defer a.Unlock()

	return a.completed.All()
}
