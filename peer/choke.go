package peer

import (
	"sort"
	"time"

	"github.com/warppipe/swift-torrent/stats"
)

const (
	CHOKE_INTERVAL      = 10 * time.Second
	OPTIMISTIC_INTERVAL = 30 * time.Second
	DOWNLOADERS         = 4
)

// Choke runs the per-torrent unchoke rotation: the four fastest interested
// peers stay unchoked, plus one optimistic slot re-drawn every 30 seconds
// from the remainder so new peers get a chance to prove themselves.
type Choke interface {
	Start()
	Stop()
}

type choke struct {
	peerMgr Manager
	st      stats.Stats
	seeding func() bool
	quit    chan int

	optimisticKey    string
	lastOptimisticAt time.Time
}

func NewChoke(peerMgr Manager, st stats.Stats, seeding func() bool) Choke {
	return &choke{
		peerMgr: peerMgr,
		st:      st,
		seeding: seeding,
		quit:    make(chan int),
	}
}

func (c *choke) Start() {
	go func() {
		for {
			select {
			case <-c.quit:
				return
			case <-time.After(CHOKE_INTERVAL):
				c.run(time.Now())
			}
		}
	}()
}

func (c *choke) Stop() {
	close(c.quit)
}

type rankedPeer struct {
	view  *PeerView
	speed int
}

func (c *choke) run(now time.Time) {
	views := c.peerMgr.PeerList()
	peerStats := c.st.Tick()
	seeding := c.seeding()

	ranked := make([]*rankedPeer, 0, len(views))
	for _, v := range views {
		rp := &rankedPeer{view: v}
		if ps, ok := peerStats[v.Key]; ok {
			if seeding {
				rp.speed = ps.UploadRate
			} else {
				rp.speed = ps.DownloadRate
			}
		}
		ranked = append(ranked, rp)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].speed > ranked[j].speed
	})

	shouldUnchoke := make(map[string]bool, len(ranked))
	unchoked := 0
	for _, rp := range ranked {
		if unchoked >= DOWNLOADERS {
			break
		}
		if rp.view.State.PeerInterested() {
			shouldUnchoke[rp.view.Key] = true
			unchoked++
		}
	}

	// the optimistic slot is distinct from the four rate-ranked ones and
	// rotates on its own clock
	if c.optimisticKey != "" {
		if now.Sub(c.lastOptimisticAt) >= OPTIMISTIC_INTERVAL ||
			!c.stillConnected(views, c.optimisticKey) ||
			shouldUnchoke[c.optimisticKey] {
			c.optimisticKey = ""
		}
	}
	if c.optimisticKey == "" {
		for _, rp := range ranked {
			if shouldUnchoke[rp.view.Key] || !rp.view.State.PeerInterested() {
				continue
			}
			c.optimisticKey = rp.view.Key
			c.lastOptimisticAt = now
			break
		}
	}
	if c.optimisticKey != "" {
		shouldUnchoke[c.optimisticKey] = true
	}

	// transitions only
	for _, rp := range ranked {
		s := rp.view.State
		if shouldUnchoke[rp.view.Key] && s.AmChoking() {
			if err := rp.view.Wire.SendUnchoke(); err == nil {
				s.SetAmChoking(false)
			}
		}
		if !shouldUnchoke[rp.view.Key] && !s.AmChoking() {
			if err := rp.view.Wire.SendChoke(); err == nil {
				s.SetAmChoking(true)
			}
		}
	}
}

func (c *choke) stillConnected(views []*PeerView, key string) bool {
	for _, v := range views {
		if v.Key == key {
			return true
		}
	}
	return false
}
