// Package client wires the subsystems into per-torrent controllers and the
// session that owns the shared DHT node.
package client

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/warppipe/swift-torrent/dht"
	"github.com/warppipe/swift-torrent/peer"
	"github.com/warppipe/swift-torrent/piece"
	"github.com/warppipe/swift-torrent/server"
	"github.com/warppipe/swift-torrent/stats"
	"github.com/warppipe/swift-torrent/storage"
	"github.com/warppipe/swift-torrent/torrent"
	"github.com/warppipe/swift-torrent/tracker"
)

const DHT_LOOKUP_INTERVAL = 5 * time.Minute

var ErrTimeout = fmt.Errorf("client: timed out")

type Config struct {
	DataDir string
	Port    int
	DHT     *dht.Node
}

// Status is a point-in-time snapshot of one torrent.
type Status struct {
	Name      string
	InfoHash  string
	Progress  float64
	NumPeers  int
	Leechers  int32
	Seeders   int32
	Completed bool
	Paused    bool
}

// Torrent is the per-torrent lifecycle controller: it runs the tracker
// announce loop, wires metadata completion into the download stack, and
// exposes wait-for semantics.
type Torrent interface {
	Start() error
	Stop()
	Pause()
	Resume()
	WaitForMetadata(ctx context.Context) (*torrent.TorrentInfo, error)
	WaitForCompletion(ctx context.Context) error
	Status() Status
	InfoHash() [20]byte
	ResumeData() *ResumeData
}

type torrentDownload struct {
	sync.Mutex

	config   Config
	infoHash [20]byte
	name     string
	trackers [][]string

	tor     *torrent.TorrentInfo
	st      stats.Stats
	peerMgr peer.Manager
	asm     piece.Assembler
	store   storage.Storage
	tr      tracker.Tracker
	choke   peer.Choke
	sv      server.Server

	paused        bool
	metadataReady chan int
	completed     chan int
	quit          chan int
}

// NewTorrent starts from a fully parsed metainfo.
func NewTorrent(tor *torrent.TorrentInfo, config Config) Torrent {
	d := newTorrentDownload(config)
	d.tor = tor
	d.infoHash = tor.InfoHash
	d.name = tor.Name
	d.trackers = tor.Tiers()
	return d
}

// NewTorrentFromMagnet starts from a bare info-hash; the metadata exchange
// bootstraps the download stack once a peer supplies the info dictionary.
func NewTorrentFromMagnet(m *torrent.MagnetURI, config Config) Torrent {
	d := newTorrentDownload(config)
	d.infoHash = m.InfoHash
	d.name = m.DisplayName
	if len(m.Trackers) > 0 {
		d.trackers = [][]string{m.Trackers}
	}
	return d
}

func newTorrentDownload(config Config) *torrentDownload {
	return &torrentDownload{
		config:        config,
		metadataReady: make(chan int),
		completed:     make(chan int),
		quit:          make(chan int),
	}
}

func (d *torrentDownload) InfoHash() [20]byte {
	return d.infoHash
}

func (d *torrentDownload) Start() error {
	d.Lock()
	tor := d.tor
	d.Unlock()

	d.st = stats.NewStats(0, 0, 0)

	var mdx piece.MetadataExchange
	if tor == nil {
		mdx = piece.NewMetadataExchange(d.infoHash)
	}
	d.peerMgr = peer.NewManager(d.infoHash, mdx, d.st)
	d.peerMgr.OnMetadata(func(info *torrent.TorrentInfo) {
		if err := d.installStack(info); err != nil {
			log.Println("metadata install failed:", err)
		}
	})
	d.peerMgr.OnPieceFinished(func(pieceIndex int) {
		d.Lock()
		asm := d.asm
		tr := d.tr
		d.Unlock()
		if asm != nil && asm.IsComplete() {
			if tr != nil {
				tr.AnnounceCompleted()
			}
			select {
			case <-d.completed:
			default:
				close(d.completed)
			}
		}
	})

	sv, err := server.NewServer(d.peerMgr, d.config.Port)
	if err != nil {
		return err
	}
	d.sv = sv

	if tor != nil {
		if err := d.installStack(tor); err != nil {
			sv.Stop()
			return err
		}
	}

	d.Lock()
	d.tr = tracker.NewTracker(d.trackers, d.infoHash, d.st, d.peerMgr.AddPeer, sv.Port())
	d.choke = peer.NewChoke(d.peerMgr, d.st, d.seeding)
	d.Unlock()

	d.peerMgr.Start()
	sv.Serve()
	d.tr.Start()
	d.choke.Start()
	if d.config.DHT != nil {
		go d.dhtLoop()
	}
	return nil
}

// installStack builds the assembler/picker/storage stack, folding in any
// pieces already verified on disk, and hands it to the peer manager.
func (d *torrentDownload) installStack(info *torrent.TorrentInfo) error {
	store, err := storage.NewStorage(info, d.config.DataDir)
	if err != nil {
		return err
	}
	asm := piece.NewAssembler(info)
	picker := piece.NewPicker(info.NumPieces())

	left := info.TotalSize
	onDisk, _ := store.CurrentDownloadState()
	for i := 0; i < info.NumPieces(); i++ {
		if onDisk.Get(i) {
			asm.MarkComplete(i)
			left -= info.PieceSize(i)
		}
	}
	d.st.AddLeft(left)

	d.Lock()
	d.tor = info
	d.name = info.Name
	d.asm = asm
	d.store = store
	d.Unlock()

	d.peerMgr.Install(info, asm, picker, store)
	select {
	case <-d.metadataReady:
	default:
		close(d.metadataReady)
	}
	if asm.IsComplete() {
		select {
		case <-d.completed:
		default:
			close(d.completed)
		}
	}
	return nil
}

func (d *torrentDownload) seeding() bool {
	d.Lock()
	defer d.Unlock()
	return d.asm != nil && d.asm.IsComplete()
}

// dhtLoop periodically asks the DHT for swarm peers and announces our port.
func (d *torrentDownload) dhtLoop() {
	for {
		peers := d.config.DHT.LookupPeers(d.infoHash, d.sv.Port())
		for _, p := range peers {
			d.peerMgr.AddPeer(p.Addr.String(), p.Port)
		}
		select {
		case <-d.quit:
			return
		case <-time.After(DHT_LOOKUP_INTERVAL):
		}
	}
}

// Pause cancels the announce loop and choking monitor; peer connections
// and piece state stay live for Resume.
func (d *torrentDownload) Pause() {
	d.Lock()
	if d.paused {
		d.Unlock()
		return
	}
	d.paused = true
	tr := d.tr
	ch := d.choke
	d.Unlock()

	tr.Stop()
	ch.Stop()
}

func (d *torrentDownload) Resume() {
	d.Lock()
	if !d.paused {
		d.Unlock()
		return
	}
	d.paused = false
	tr := tracker.NewTracker(d.trackers, d.infoHash, d.st, d.peerMgr.AddPeer, d.sv.Port())
	ch := peer.NewChoke(d.peerMgr, d.st, d.seeding)
	d.tr = tr
	d.choke = ch
	d.Unlock()

	tr.Start()
	ch.Start()
}

func (d *torrentDownload) Stop() {
	select {
	case <-d.quit:
		return
	default:
	}
	close(d.quit)
	d.Lock()
	paused := d.paused
	store := d.store
	tr := d.tr
	ch := d.choke
	d.Unlock()
	if !paused {
		tr.Stop()
		ch.Stop()
	}
	d.sv.Stop()
	d.peerMgr.Stop()
	if store != nil {
		store.Close()
	}
}

func (d *torrentDownload) WaitForMetadata(ctx context.Context) (*torrent.TorrentInfo, error) {
	select {
	case <-d.metadataReady:
		d.Lock()
		defer d.Unlock()
		return d.tor, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

func (d *torrentDownload) WaitForCompletion(ctx context.Context) error {
	select {
	case <-d.completed:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

func (d *torrentDownload) Status() Status {
	d.Lock()
	defer d.Unlock()

	s := Status{
		Name:     d.name,
		InfoHash: fmt.Sprintf("%x", d.infoHash),
		Paused:   d.paused,
	}
	if d.peerMgr != nil {
		s.NumPeers = d.peerMgr.NumPeers()
	}
	if d.asm != nil {
		s.Progress = d.asm.Progress()
		s.Completed = d.asm.IsComplete()
	}
	if d.tr != nil {
		s.Leechers, s.Seeders = d.tr.Swarm()
	}
	return s
}

func (d *torrentDownload) ResumeData() *ResumeData {
	d.Lock()
	defer d.Unlock()

	rd := &ResumeData{
		InfoHash: d.infoHash,
		SavePath: d.config.DataDir,
	}
	if d.asm != nil {
		rd.CompletedPieces = d.asm.Bitfield().Bytes()
	}
	if d.st != nil {
		rd.Uploaded, rd.Downloaded, _ = d.st.TrackerStats()
	}
	return rd
}
