// Package tracker announces the torrent to its UDP trackers (BEP-15) and
// feeds discovered peers back to the caller.
package tracker

import (
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/warppipe/swift-torrent/stats"
)

const (
	NONE      = 0
	COMPLETED = 1
	STARTED   = 2
	STOPPED   = 3
)

const (
	STEP_TIMEOUT     = 5 * time.Second
	DEFAULT_INTERVAL = 30 * time.Minute
	NUM_WANT         = 50
)

var (
	ErrInvalidResponse  = fmt.Errorf("tracker: invalid response")
	ErrConnectionFailed = fmt.Errorf("tracker: connection failed")
)

type Tracker interface {
	Start()
	Stop()
	// AnnounceCompleted tells the working tracker the download finished.
	AnnounceCompleted()
	// Swarm returns the last reported leecher/seeder counts.
	Swarm() (leechers, seeders int32)
}

type tracker struct {
	tiers    [][]string
	infoHash [20]byte
	st       stats.Stats
	addPeer  func(addr string, port int)
	port     uint16
	key      int32

	interval  int32
	leechers  int32
	seeders   int32
	completed chan int
	quit      chan int
}

func NewTracker(
	tiers [][]string,
	infoHash [20]byte,
	st stats.Stats,
	addPeer func(addr string, port int),
	port int) Tracker {

	return &tracker{
		tiers:     tiers,
		infoHash:  infoHash,
		st:        st,
		addPeer:   addPeer,
		port:      uint16(port),
		key:       rand.Int31(),
		completed: make(chan int, 1),
		quit:      make(chan int),
	}
}

func (tr *tracker) Start() {
	go tr.run()
}

func (tr *tracker) Stop() {
	close(tr.quit)
}

func (tr *tracker) AnnounceCompleted() {
	select {
	case tr.completed <- 1:
	default:
	}
}

func (tr *tracker) Swarm() (int32, int32) {
	return tr.leechers, tr.seeders
}

// run walks the announce tiers until one URL answers, then re-announces on
// the reported interval. A failing URL falls through to the next in its
// tier; an exhausted tier falls through to the next tier.
func (tr *tracker) run() {
	for {
		select {
		case <-tr.quit:
			return
		default:
		}
		if err := tr.connectAny(); err != nil {
			log.Println(err)
			select {
			case <-tr.quit:
				return
			case <-time.After(time.Minute):
			}
		}
	}
}

func (tr *tracker) connectAny() error {
	for _, tier := range tr.tiers {
		for _, trackerURL := range tier {
			if !strings.HasPrefix(trackerURL, "udp://") {
				continue
			}
			err := tr.announceLoop(trackerURL)
			if err == nil {
				// clean shutdown
				return nil
			}
			log.Printf("tracker %s: %v", trackerURL, err)
		}
	}
	return ErrConnectionFailed
}

func (tr *tracker) announceLoop(trackerURL string) error {
	if err := tr.announce(trackerURL, STARTED); err != nil {
		return err
	}
	for {
		interval := time.Duration(tr.interval) * time.Second
		if interval <= 0 {
			interval = DEFAULT_INTERVAL
		}
		select {
		case <-tr.quit:
			tr.announce(trackerURL, STOPPED)
			return nil
		case <-tr.completed:
			if err := tr.announce(trackerURL, COMPLETED); err != nil {
				return err
			}
		case <-time.After(interval):
			if err := tr.announce(trackerURL, NONE); err != nil {
				return err
			}
		}
	}
}
