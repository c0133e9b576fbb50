// Package stats keeps rolling per-peer transfer rates for the choking
// ranking and the running totals reported to trackers.
package stats

import (
	"sync"

	underscore "github.com/ahl5esoft/golang-underscore"
)

// Window over which rates are averaged, in ticks.
const PONDERATION_TIME = 10

type Stats interface {
	// UpdatePeer accumulates bytes downloaded from / uploaded to a peer.
	UpdatePeer(id string, downloaded, uploaded int)
	RemovePeer(id string)
	// Tick folds the accumulated counters into the rolling windows and
	// returns the per-peer rates. Call once per rate interval.
	Tick() map[string]*PeerStat
	PeerStats() map[string]*PeerStat
	TrackerStats() (uploaded, downloaded, left int)
	AddLeft(delta int)
}

type stats struct {
	sync.Mutex

	totalUploaded   int
	totalDownloaded int
	left            int
	peerStats       map[string]*PeerStat
}

type PeerStat struct {
	DownloadRate int
	UploadRate   int

	currentDownload  int
	currentUpload    int
	downloadActivity [PONDERATION_TIME]int
	uploadActivity   [PONDERATION_TIME]int
	i                int
}

func NewStats(uploaded, downloaded, left int) Stats {
	return &stats{
		totalUploaded:   uploaded,
		totalDownloaded: downloaded,
		left:            left,
		peerStats:       make(map[string]*PeerStat),
	}
}

func (s *stats) UpdatePeer(id string, downloaded, uploaded int) {
	s.Lock()
	defer s.Unlock()

	ps, ok := s.peerStats[id]
	if !ok {
		ps = &PeerStat{}
		s.peerStats[id] = ps
	}
	ps.currentDownload += downloaded
	ps.currentUpload += uploaded
	s.totalDownloaded += downloaded
	s.totalUploaded += uploaded
	s.left -= downloaded
	if s.left < 0 {
		s.left = 0
	}
}

func (s *stats) RemovePeer(id string) {
	s.Lock()
	defer s.Unlock()

	delete(s.peerStats, id)
}

func sumReduce(acc int, x, _ int) int {
	return acc + x
}

func (s *stats) Tick() map[string]*PeerStat {
	s.Lock()
	defer s.Unlock()

	for _, ps := range s.peerStats {
		ps.downloadActivity[ps.i] = ps.currentDownload
		ps.uploadActivity[ps.i] = ps.currentUpload
		underscore.Chain(ps.downloadActivity[:]).Reduce(0, sumReduce).Value(&ps.DownloadRate)
		ps.DownloadRate /= PONDERATION_TIME
		underscore.Chain(ps.uploadActivity[:]).Reduce(0, sumReduce).Value(&ps.UploadRate)
		ps.UploadRate /= PONDERATION_TIME
		ps.i = (ps.i + 1) % PONDERATION_TIME
		ps.currentDownload = 0
		ps.currentUpload = 0
	}
	return s.peerStats
}

func (s *stats) PeerStats() map[string]*PeerStat {
	s.Lock()
	defer s.Unlock()

	return s.peerStats
}

func (s *stats) TrackerStats() (int, int, int) {
	s.Lock()
	defer s.Unlock()

	return s.totalUploaded, s.totalDownloaded, s.left
}

func (s *stats) AddLeft(delta int) {
	s.Lock()
	defer s.Unlock()

	s.left += delta
	if s.left < 0 {
		s.left = 0
	}
}
