package peer

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"

	"github.com/warppipe/swift-torrent/bitfield"
	"github.com/warppipe/swift-torrent/piece"
	"github.com/warppipe/swift-torrent/stats"
	"github.com/warppipe/swift-torrent/storage"
	"github.com/warppipe/swift-torrent/torrent"
	"github.com/warppipe/swift-torrent/wire"
)

const (
	MAX_CONNECTIONS = 50
	SWEEP_INTERVAL  = 5 * time.Second
)

var ErrNotConnected = fmt.Errorf("peer: not connected")

// PeerView is the per-connection snapshot handed to the choking loop.
type PeerView struct {
	Key   string
	State *State
	Wire  wire.Wire
}

// Manager owns every connection of one torrent. It routes decoded messages
// into the assembler, picker, storage and metadata exchange, and drives
// request pipelining and the HAVE broadcast. All map mutations are
// serialized behind its mutex.
type Manager interface {
	AddPeer(addr string, port int)
	AddIncoming(conn net.Conn)
	RemovePeer(key string)
	NumPeers() int
	BroadcastHave(pieceIndex int)
	PeerList() []*PeerView
	// Install wires the download stack in once metadata is known.
	Install(tor *torrent.TorrentInfo, asm piece.Assembler, picker piece.Picker, store storage.Storage)
	OnPieceFinished(fn func(pieceIndex int))
	OnMetadata(fn func(info *torrent.TorrentInfo))
	Start()
	Stop()
}

type manager struct {
	sync.RWMutex

	infoHash [20]byte
	tor      *torrent.TorrentInfo
	asm      piece.Assembler
	picker   piece.Picker
	store    storage.Storage
	mdx      piece.MetadataExchange
	st       stats.Stats

	transports  map[string]*transport
	states      map[string]*State
	bannedPeers mapset.Set

	pieceFinished func(int)
	metadataDone  func(*torrent.TorrentInfo)
	quit          chan int
}

func NewManager(
	infoHash [20]byte,
	mdx piece.MetadataExchange,
	st stats.Stats) Manager {

	return &manager{
		infoHash:    infoHash,
		mdx:         mdx,
		st:          st,
		transports:  make(map[string]*transport),
		states:      make(map[string]*State),
		bannedPeers: mapset.NewSet(),
		quit:        make(chan int),
	}
}

func (m *manager) Install(tor *torrent.TorrentInfo, asm piece.Assembler, picker piece.Picker, store storage.Storage) {
	m.Lock()
	m.tor = tor
	m.asm = asm
	m.picker = picker
	m.store = store
	states := make([]*State, 0, len(m.states))
	for _, s := range m.states {
		states = append(states, s)
	}
	m.Unlock()

	// connections made before the metadata arrived carry zero-length
	// bitfields; re-size so HAVE bits land
	for _, s := range states {
		if s.Bitfield().Count() == 0 {
			s.SetBitfield(bitfield.New(tor.NumPieces()))
		}
	}
}

func (m *manager) OnPieceFinished(fn func(int)) {
	m.Lock()
	defer m.Unlock()
	m.pieceFinished = fn
}

func (m *manager) OnMetadata(fn func(*torrent.TorrentInfo)) {
	m.Lock()
	defer m.Unlock()
	m.metadataDone = fn
}

func (m *manager) Start() {
	go m.sweepLoop()
}

func (m *manager) Stop() {
	close(m.quit)
	m.Lock()
	transports := make([]*transport, 0, len(m.transports))
	for _, t := range m.transports {
		transports = append(transports, t)
	}
	m.Unlock()
	for _, t := range transports {
		t.Stop()
	}
}

func (m *manager) AddPeer(addr string, port int) {
	m.addPeer(fmt.Sprintf("%s:%d", addr, port), nil)
}

func (m *manager) AddIncoming(conn net.Conn) {
	m.addPeer(conn.RemoteAddr().String(), conn)
}

func (m *manager) addPeer(key string, conn net.Conn) {
	m.Lock()
	if m.bannedPeers.Contains(key) {
		m.Unlock()
		return
	}
	if len(m.transports) >= MAX_CONNECTIONS {
		m.Unlock()
		return
	}
	if _, ok := m.transports[key]; ok {
		m.Unlock()
		return
	}
	t := newTransport(key, conn, m.infoHash, transportCallbacks{
		onConnect:    m.handleConnect,
		onMessage:    m.handleMessage,
		onDisconnect: m.handleDisconnect,
	})
	m.transports[key] = t
	m.Unlock()

	go t.Start()
}

func (m *manager) RemovePeer(key string) {
	m.RLock()
	t, ok := m.transports[key]
	m.RUnlock()
	if ok {
		t.Stop()
	}
}

func (m *manager) NumPeers() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.transports)
}

func (m *manager) PeerList() []*PeerView {
	m.RLock()
	defer m.RUnlock()

	views := make([]*PeerView, 0, len(m.states))
	for key, s := range m.states {
		if t, ok := m.transports[key]; ok && t.Wire() != nil {
			views = append(views, &PeerView{Key: key, State: s, Wire: t.Wire()})
		}
	}
	return views
}

func (m *manager) BroadcastHave(pieceIndex int) {
	for _, v := range m.PeerList() {
		v.Wire.SendHave(pieceIndex)
	}
}

func (m *manager) handleConnect(key string, hs *wire.Handshake) {
	m.Lock()
	numPieces := 0
	if m.tor != nil {
		numPieces = m.tor.NumPieces()
	}
	s := NewState(numPieces)
	m.states[key] = s
	t := m.transports[key]
	asm := m.asm
	mdx := m.mdx
	m.Unlock()

	if t == nil || t.Wire() == nil {
		return
	}
	w := t.Wire()
	if hs.SupportsExtended() && mdx != nil {
		w.SendExtended(0, mdx.HandshakePayload())
	}
	if asm != nil {
		if bf := asm.Bitfield(); bf.Popcount() > 0 {
			w.SendBitField(bf.Bytes())
		}
	}
	s.SetAmInterested(true)
	w.SendInterested()
}

func (m *manager) handleDisconnect(key string) {
	m.Lock()
	s, hadState := m.states[key]
	delete(m.transports, key)
	delete(m.states, key)
	picker := m.picker
	m.Unlock()

	if hadState && picker != nil {
		picker.RemovePeerBitfield(s.Bitfield())
	}
	m.st.RemovePeer(key)
}

func (m *manager) peer(key string) (*State, wire.Wire) {
	m.RLock()
	defer m.RUnlock()

	s, ok := m.states[key]
	if !ok {
		return nil, nil
	}
	t, ok := m.transports[key]
	if !ok || t.Wire() == nil {
		return nil, nil
	}
	return s, t.Wire()
}

func (m *manager) handleMessage(key string, msg *wire.Message) {
	s, w := m.peer(key)
	if s == nil {
		return
	}

	switch msg.ID {
	case wire.CHOKE:
		s.SetPeerChoking(true)
	case wire.UNCHOKE:
		s.SetPeerChoking(false)
		m.fill(key, s, w)
	case wire.INTERESTED:
		s.SetPeerInterested(true)
	case wire.NOT_INTERESTED:
		s.SetPeerInterested(false)
	case wire.HAVE:
		s.SetHave(msg.Index)
		if m.pickerRef() != nil {
			m.pickerRef().AddHave(msg.Index)
			m.fill(key, s, w)
		}
	case wire.BITFIELD:
		m.handleBitfield(key, s, w, msg.Bitfield)
	case wire.BLOCK:
		m.handleBlock(key, s, w, msg)
	case wire.REQUEST:
		m.handleRequest(key, s, w, msg)
	case wire.EXTENDED:
		m.handleExtended(key, w, msg)
	default:
		// cancel and port carry nothing for us: blocks are served
		// immediately and DHT node discovery runs on the session side
	}
}

func (m *manager) pickerRef() piece.Picker {
	m.RLock()
	defer m.RUnlock()
	return m.picker
}

func (m *manager) handleBitfield(key string, s *State, w wire.Wire, data []byte) {
	m.RLock()
	tor := m.tor
	picker := m.picker
	m.RUnlock()
	if tor == nil {
		return
	}

	bf := bitfield.FromBytes(data, tor.NumPieces())
	s.SetBitfield(bf)
	if picker != nil {
		picker.AddPeerBitfield(bf)
		m.fill(key, s, w)
	}
}

func (m *manager) handleBlock(key string, s *State, w wire.Wire, msg *wire.Message) {
	m.RLock()
	asm := m.asm
	store := m.store
	m.RUnlock()
	if asm == nil {
		return
	}

	s.CompleteRequest(BlockRequest{Index: msg.Index, Begin: msg.Begin, Length: len(msg.Block)})
	asm.AddBlock(key, msg.Index, msg.Begin, msg.Block)
	m.st.UpdatePeer(key, len(msg.Block), 0)

	if asm.BufferLength(msg.Index) >= asm.ExpectedPieceSize(msg.Index) {
		result, data, contributors, err := asm.CompletePiece(msg.Index)
		if err == nil {
			switch result {
			case piece.Verified:
				if store != nil {
					if werr := store.WritePiece(msg.Index, data); werr != nil {
						log.Println("piece write failed:", werr)
					}
				}
				m.BroadcastHave(msg.Index)
				m.RLock()
				fn := m.pieceFinished
				m.RUnlock()
				if fn != nil {
					fn(msg.Index)
				}
			case piece.Corrupt:
				// hash mismatch is a normal event: ban the
				// contributors and let the picker re-offer
				log.Printf("piece %d failed verification", msg.Index)
				m.banPeers(contributors)
				return
			}
		}
	}
	m.fill(key, s, w)
}

func (m *manager) handleRequest(key string, s *State, w wire.Wire, msg *wire.Message) {
	m.RLock()
	store := m.store
	m.RUnlock()
	if store == nil || s.AmChoking() || !s.PeerInterested() {
		return
	}
	block, err := store.ReadBlock(msg.Index, msg.Begin, msg.Length)
	if err != nil {
		return
	}
	if err := w.SendBlock(msg.Index, msg.Begin, block); err == nil {
		m.st.UpdatePeer(key, 0, msg.Length)
	}
}

func (m *manager) handleExtended(key string, w wire.Wire, msg *wire.Message) {
	m.RLock()
	mdx := m.mdx
	m.RUnlock()
	if mdx == nil {
		return
	}

	res := mdx.HandleExtended(msg.ExtID, msg.ExtPayload)
	switch res.Kind {
	case piece.SendMessage, piece.RequestMore:
		for _, out := range res.Messages {
			w.SendExtended(out.ExtID, out.ExtPayload)
		}
	case piece.MetadataComplete:
		m.RLock()
		fn := m.metadataDone
		m.RUnlock()
		if fn != nil {
			fn(res.Info)
		}
	}
}

// fill pipelines requests for one picked piece; deeper pipelining happens as
// arriving blocks free slots and re-trigger it.
func (m *manager) fill(key string, s *State, w wire.Wire) {
	m.RLock()
	asm := m.asm
	picker := m.picker
	m.RUnlock()
	if asm == nil || picker == nil {
		return
	}
	if s.PeerChoking() || !s.CanRequest() {
		return
	}

	pieceIndex := picker.Pick(asm.Bitfield(), s.Bitfield())
	if pieceIndex < 0 {
		return
	}
	if !asm.HasPiece(pieceIndex) && !asm.InProgress(pieceIndex) {
		asm.StartPiece(pieceIndex)
	}

	size := asm.ExpectedPieceSize(pieceIndex)
	for begin := 0; begin < size && s.CanRequest(); begin += piece.BLOCK_SIZE {
		length := piece.BLOCK_SIZE
		if begin+length > size {
			length = size - begin
		}
		if asm.HasBlock(pieceIndex, begin) {
			continue
		}
		r := BlockRequest{Index: pieceIndex, Begin: begin, Length: length}
		if !s.AddRequest(r, time.Now()) {
			continue
		}
		if err := w.SendRequest(r.Index, r.Begin, r.Length); err != nil {
			s.CompleteRequest(r)
			return
		}
	}
}

func (m *manager) banPeers(contributors mapset.Set) {
	if contributors == nil {
		return
	}
	m.Lock()
	m.bannedPeers = m.bannedPeers.Union(contributors)
	m.Unlock()

	for _, item := range contributors.ToSlice() {
		if key, ok := item.(string); ok {
			m.RemovePeer(key)
		}
	}
}

// sweepLoop evicts timed-out requests and refills the affected peers.
func (m *manager) sweepLoop() {
	for {
		select {
		case <-m.quit:
			return
		case <-time.After(SWEEP_INTERVAL):
			now := time.Now()
			for _, v := range m.PeerList() {
				timedOut := v.State.TimedOutRequests(now, REQUEST_TIMEOUT)
				if len(timedOut) > 0 {
					log.Printf("%s: %d requests timed out", v.Key, len(timedOut))
					m.fill(v.Key, v.State, v.Wire)
				}
			}
		}
	}
}
