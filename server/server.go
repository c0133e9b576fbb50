// Package server accepts inbound peer connections and hands them to the
// torrent's peer manager.
package server

import (
	"log"
	"net"
	"strconv"

	"github.com/warppipe/swift-torrent/peer"
)

type Server interface {
	Serve()
	Port() int
	Stop()
}

type server struct {
	listener net.Listener
	peerMgr  peer.Manager
	quit     chan int
}

var listen = net.Listen

// NewServer binds a TCP listener; port 0 picks an ephemeral port.
func NewServer(peerMgr peer.Manager, port int) (Server, error) {
	if port < 0 {
		port = 0
	}
	listener, err := listen("tcp4", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	return &server{
		listener: listener,
		peerMgr:  peerMgr,
		quit:     make(chan int),
	}, nil
}

func (sv *server) Port() int {
	return sv.listener.Addr().(*net.TCPAddr).Port
}

func (sv *server) Serve() {
	go func() {
		for {
			conn, err := sv.listener.Accept()
			if err != nil {
				select {
				case <-sv.quit:
					log.Println("peer listener stopped")
				default:
					log.Println("peer listener failed:", err)
				}
				return
			}
			sv.peerMgr.AddIncoming(conn)
		}
	}()
}

func (sv *server) Stop() {
	close(sv.quit)
	sv.listener.Close()
}
