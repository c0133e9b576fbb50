package client

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/warppipe/swift-torrent/dht"
	"github.com/warppipe/swift-torrent/torrent"
)

type SessionConfig struct {
	DataDir   string
	Port      int
	EnableDHT bool
	DHTConfig dht.Config
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		DataDir:   ".",
		Port:      6881,
		EnableDHT: true,
		DHTConfig: dht.DefaultConfig(),
	}
}

// Session owns the process-wide pieces: the DHT node shared by every
// torrent and the registry of active downloads.
type Session struct {
	sync.Mutex
	config   SessionConfig
	dhtNode  *dht.Node
	torrents map[[20]byte]Torrent
}

func NewSession(config SessionConfig) (*Session, error) {
	s := &Session{
		config:   config,
		torrents: make(map[[20]byte]Torrent),
	}
	if config.EnableDHT {
		node, err := dht.NewNode(config.DHTConfig)
		if err != nil {
			return nil, err
		}
		s.dhtNode = node
		go node.Bootstrap()
	}
	return s, nil
}

func (s *Session) DHT() *dht.Node {
	return s.dhtNode
}

// AddTorrentFile loads a .torrent file and starts the download.
func (s *Session) AddTorrentFile(path string) (Torrent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ti, err := torrent.NewTorrentInfo(raw)
	if err != nil {
		return nil, err
	}
	// private torrents never touch the DHT
	node := s.dhtNode
	if ti.IsPrivate {
		node = nil
	}
	return s.add(ti.InfoHash, NewTorrent(ti, Config{
		DataDir: s.config.DataDir,
		Port:    s.config.Port,
		DHT:     node,
	}))
}

// AddMagnet parses a magnet URI and starts a metadata-first download.
func (s *Session) AddMagnet(uri string) (Torrent, error) {
	m, err := torrent.ParseMagnet(uri)
	if err != nil {
		return nil, err
	}
	return s.add(m.InfoHash, NewTorrentFromMagnet(m, Config{
		DataDir: s.config.DataDir,
		Port:    s.config.Port,
		DHT:     s.dhtNode,
	}))
}

func (s *Session) add(infoHash [20]byte, t Torrent) (Torrent, error) {
	s.Lock()
	if _, ok := s.torrents[infoHash]; ok {
		s.Unlock()
		return nil, fmt.Errorf("client: torrent %x already added", infoHash)
	}
	s.torrents[infoHash] = t
	s.Unlock()

	if err := t.Start(); err != nil {
		s.Lock()
		delete(s.torrents, infoHash)
		s.Unlock()
		return nil, err
	}
	return t, nil
}

func (s *Session) Torrent(infoHash [20]byte) (Torrent, bool) {
	s.Lock()
	defer s.Unlock()
	t, ok := s.torrents[infoHash]
	return t, ok
}

func (s *Session) Torrents() []Torrent {
	s.Lock()
	defer s.Unlock()

	out := make([]Torrent, 0, len(s.torrents))
	for _, t := range s.torrents {
		out = append(out, t)
	}
	return out
}

func (s *Session) Remove(infoHash [20]byte) {
	s.Lock()
	t, ok := s.torrents[infoHash]
	delete(s.torrents, infoHash)
	s.Unlock()
	if ok {
		t.Stop()
	}
}

func (s *Session) Close() {
	for _, t := range s.Torrents() {
		t.Stop()
	}
	if s.dhtNode != nil {
		s.dhtNode.Close()
	}
	log.Println("session closed")
}
