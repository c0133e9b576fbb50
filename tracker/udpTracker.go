package tracker

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/warppipe/swift-torrent/torrent"
)

// BEP 0015 - UDP Tracker Protocol for BitTorrent
const protocolMagic = 0x41727101980

const (
	actionConnect  = 0
	actionAnnounce = 1
)

// announce runs the two-step connect/announce exchange against one tracker
// URL. The hostname is resolved before any socket use.
func (tr *tracker) announce(trackerURL string, event int) error {
	udpAddress := strings.TrimPrefix(trackerURL, "udp://")
	udpAddress = strings.TrimSuffix(udpAddress, "/announce")
	trackerAddr, err := net.ResolveUDPAddr("udp4", udpAddress)
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp4", nil, trackerAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	connectionID, err := tr.connectUDP(conn)
	if err != nil {
		return err
	}
	return tr.announceUDP(conn, connectionID, event)
}

func (tr *tracker) connectUDP(conn *net.UDPConn) (int64, error) {
	transactionID := rand.Int31()

	req := &bytes.Buffer{}
	binary.Write(req, binary.BigEndian, int64(protocolMagic))
	binary.Write(req, binary.BigEndian, int32(actionConnect))
	binary.Write(req, binary.BigEndian, transactionID)
	if _, err := conn.Write(req.Bytes()); err != nil {
		return 0, err
	}

	conn.SetReadDeadline(time.Now().Add(STEP_TIMEOUT))
	data := make([]byte, 16)
	if _, err := io.ReadFull(conn, data); err != nil {
		return 0, err
	}

	resp := bytes.NewBuffer(data)
	var actionResp, transactionIDResp int32
	binary.Read(resp, binary.BigEndian, &actionResp)
	binary.Read(resp, binary.BigEndian, &transactionIDResp)
	if actionResp != actionConnect {
		return 0, fmt.Errorf("%w: action %d is not connect", ErrInvalidResponse, actionResp)
	}
	if transactionIDResp != transactionID {
		return 0, fmt.Errorf("%w: transaction id mismatch", ErrInvalidResponse)
	}
	var connectionID int64
	binary.Read(resp, binary.BigEndian, &connectionID)
	return connectionID, nil
}

func (tr *tracker) announceUDP(conn *net.UDPConn, connectionID int64, event int) error {
	transactionID := rand.Int31()
	uploaded, downloaded, left := tr.st.TrackerStats()

	req := &bytes.Buffer{}
	binary.Write(req, binary.BigEndian, connectionID)
	binary.Write(req, binary.BigEndian, int32(actionAnnounce))
	binary.Write(req, binary.BigEndian, transactionID)
	req.Write(tr.infoHash[:])
	req.Write(torrent.PEER_ID[:])
	binary.Write(req, binary.BigEndian, int64(downloaded))
	binary.Write(req, binary.BigEndian, int64(left))
	binary.Write(req, binary.BigEndian, int64(uploaded))
	binary.Write(req, binary.BigEndian, int32(event))
	binary.Write(req, binary.BigEndian, int32(0)) // ip: default
	binary.Write(req, binary.BigEndian, tr.key)
	binary.Write(req, binary.BigEndian, int32(NUM_WANT))
	binary.Write(req, binary.BigEndian, tr.port)
	if _, err := conn.Write(req.Bytes()); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(STEP_TIMEOUT))
	data := make([]byte, 4096)
	n, err := conn.Read(data)
	if err != nil {
		return err
	}
	if n < 20 {
		return fmt.Errorf("%w: announce response is %d bytes", ErrInvalidResponse, n)
	}

	resp := bytes.NewBuffer(data[:n])
	var actionResp, transactionIDResp int32
	binary.Read(resp, binary.BigEndian, &actionResp)
	binary.Read(resp, binary.BigEndian, &transactionIDResp)
	if actionResp != actionAnnounce {
		return fmt.Errorf("%w: action %d is not announce", ErrInvalidResponse, actionResp)
	}
	if transactionIDResp != transactionID {
		return fmt.Errorf("%w: transaction id mismatch", ErrInvalidResponse)
	}
	binary.Read(resp, binary.BigEndian, &tr.interval)
	binary.Read(resp, binary.BigEndian, &tr.leechers)
	binary.Read(resp, binary.BigEndian, &tr.seeders)

	peerAddrs := resp.Bytes()
	if event != STOPPED {
		for i := 0; i+6 <= len(peerAddrs); i += 6 {
			ip := net.IPv4(peerAddrs[i], peerAddrs[i+1], peerAddrs[i+2], peerAddrs[i+3])
			port := binary.BigEndian.Uint16(peerAddrs[i+4 : i+6])
			tr.addPeer(ip.String(), int(port))
		}
	}
	return nil
}
