package dht

import (
	"crypto/rand"
	"crypto/sha1"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/warppipe/swift-torrent/bencode"
)

const TRANSACTION_TIMEOUT = 5 * time.Second

var ErrTransactionTimeout = fmt.Errorf("dht: transaction timed out")

// Config carries the node's listen port and bootstrap seeds. The seed list
// is configuration, not a constant: callers may swap in their own.
type Config struct {
	Port           int
	BootstrapNodes []string
}

func DefaultConfig() Config {
	return Config{
		Port: 6881,
		BootstrapNodes: []string{
			"router.bittorrent.com:6881",
			"dht.transmissionbt.com:6881",
		},
	}
}

// Node is one DHT participant: a UDP socket, the routing table, the
// announced-peer storage and the outstanding-transaction table.
type Node struct {
	sync.Mutex
	ownID       NodeID
	conn        *net.UDPConn
	table       *RoutingTable
	storage     *Storage
	tokenSecret []byte
	pending     map[string]chan *Message
	config      Config
	closed      bool
	quit        chan int
}

func NewNode(config Config) (*Node, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: config.Port})
	if err != nil {
		return nil, err
	}
	ownID := GenerateNodeID()
	secret := make([]byte, 20)
	rand.Read(secret)
	n := &Node{
		ownID:       ownID,
		conn:        conn,
		table:       NewRoutingTable(ownID),
		storage:     NewStorage(),
		tokenSecret: secret,
		pending:     make(map[string]chan *Message),
		config:      config,
		quit:        make(chan int),
	}
	go n.readLoop()
	return n, nil
}

func (n *Node) ID() NodeID {
	return n.ownID
}

func (n *Node) Table() *RoutingTable {
	return n.table
}

func (n *Node) Port() int {
	return n.conn.LocalAddr().(*net.UDPAddr).Port
}

func (n *Node) Close() {
	n.Lock()
	if n.closed {
		n.Unlock()
		return
	}
	n.closed = true
	n.Unlock()
	close(n.quit)
	n.conn.Close()
}

// Bootstrap contacts the configured seed nodes and walks towards our own
// id to populate the table. Per-host failures are ignored.
func (n *Node) Bootstrap() {
	for _, host := range n.config.BootstrapNodes {
		addr, err := net.ResolveUDPAddr("udp4", host)
		if err != nil {
			continue
		}
		if _, err := n.FindNode(addr, n.ownID); err != nil {
			continue
		}
	}
	n.LookupNode(n.ownID)
}

func (n *Node) readLoop() {
	buf := make([]byte, 65536)
	for {
		count, raddr, err := n.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-n.quit:
				return
			default:
			}
			continue
		}
		data := make([]byte, count)
		copy(data, buf[:count])
		n.handlePacket(data, raddr)
	}
}

func (n *Node) handlePacket(data []byte, raddr *net.UDPAddr) {
	msg, err := DecodeMessage(data)
	if err != nil {
		return
	}
	// every valid message refreshes the sender's table entry
	if id, ok := msg.SenderID(); ok {
		n.table.Insert(&NodeEntry{ID: id, Addr: raddr.IP, Port: raddr.Port})
	}

	switch msg.Y {
	case RESPONSE, ERROR:
		n.Lock()
		sink, ok := n.pending[string(msg.T)]
		delete(n.pending, string(msg.T))
		n.Unlock()
		if ok {
			sink <- msg
		}
	case QUERY:
		n.handleQuery(msg, raddr)
	}
}

func (n *Node) handleQuery(msg *Message, raddr *net.UDPAddr) {
	idEntry := bencode.DictEntry{Key: []byte("id"), Value: bencode.Bytes(n.ownID[:])}

	switch msg.Q {
	case "ping":
		n.reply(raddr, NewResponse(msg.T, idEntry))

	case "find_node":
		closest := n.table.ClosestNodes(n.ownID, K)
		n.reply(raddr, NewResponse(msg.T,
			idEntry,
			bencode.DictEntry{Key: []byte("nodes"), Value: bencode.Bytes(CompactNodes(closest))},
		))

	case "get_peers":
		hashVal, ok := msg.Args.Lookup("info_hash")
		if !ok || len(hashVal.BytesValue()) != 20 {
			n.reply(raddr, NewError(msg.T, 203, "invalid info_hash"))
			return
		}
		var infoHash [20]byte
		copy(infoHash[:], hashVal.BytesValue())
		token := n.token(raddr)

		if peers := n.storage.Peers(infoHash); len(peers) > 0 {
			values := make([]bencode.Value, 0, len(peers))
			for _, p := range peers {
				values = append(values, bencode.Bytes(CompactPeer(p.Addr, p.Port)))
			}
			n.reply(raddr, NewResponse(msg.T,
				idEntry,
				bencode.DictEntry{Key: []byte("token"), Value: bencode.Bytes(token)},
				bencode.DictEntry{Key: []byte("values"), Value: bencode.List(values...)},
			))
			return
		}
		closest := n.table.ClosestNodes(n.ownID, K)
		n.reply(raddr, NewResponse(msg.T,
			idEntry,
			bencode.DictEntry{Key: []byte("token"), Value: bencode.Bytes(token)},
			bencode.DictEntry{Key: []byte("nodes"), Value: bencode.Bytes(CompactNodes(closest))},
		))

	case "announce_peer":
		hashVal, ok := msg.Args.Lookup("info_hash")
		if !ok || len(hashVal.BytesValue()) != 20 {
			n.reply(raddr, NewError(msg.T, 203, "invalid info_hash"))
			return
		}
		tokenVal, ok := msg.Args.Lookup("token")
		if !ok || string(tokenVal.BytesValue()) != string(n.token(raddr)) {
			n.reply(raddr, NewError(msg.T, 203, "bad token"))
			return
		}
		var infoHash [20]byte
		copy(infoHash[:], hashVal.BytesValue())

		// BEP-5: implied_port=1 means use the UDP source port
		port := 0
		if portVal, ok := msg.Args.Lookup("port"); ok {
			port = int(portVal.Int())
		}
		if implied, ok := msg.Args.Lookup("implied_port"); ok && implied.Int() == 1 {
			port = raddr.Port
		}
		if port > 0 {
			n.storage.AddPeer(infoHash, raddr.IP, port)
		}
		n.reply(raddr, NewResponse(msg.T, idEntry))

	default:
		n.reply(raddr, NewError(msg.T, 204, "method unknown"))
	}
}

func (n *Node) reply(raddr *net.UDPAddr, msg *Message) {
	if _, err := n.conn.WriteToUDP(msg.Encode(), raddr); err != nil {
		log.Println("dht: reply failed:", err)
	}
}

// token derives the opaque get_peers token for one querier address; it only
// depends on the address and our secret, so announce_peer can check it
// without per-querier state.
func (n *Node) token(raddr *net.UDPAddr) []byte {
	h := sha1.New()
	h.Write(n.tokenSecret)
	h.Write(raddr.IP)
	return h.Sum(nil)[:8]
}

// sendQuery transmits one query and blocks for its response or timeout.
func (n *Node) sendQuery(raddr *net.UDPAddr, q string, args ...bencode.DictEntry) (*Message, error) {
	sink := make(chan *Message, 1)

	n.Lock()
	var txid string
	for {
		t := make([]byte, 2)
		rand.Read(t)
		txid = string(t)
		if _, taken := n.pending[txid]; !taken {
			break
		}
	}
	n.pending[txid] = sink
	n.Unlock()

	args = append([]bencode.DictEntry{
		{Key: []byte("id"), Value: bencode.Bytes(n.ownID[:])},
	}, args...)
	query := NewQuery([]byte(txid), q, args...)
	if _, err := n.conn.WriteToUDP(query.Encode(), raddr); err != nil {
		n.Lock()
		delete(n.pending, txid)
		n.Unlock()
		return nil, err
	}

	select {
	case msg := <-sink:
		if msg.Y == ERROR {
			return nil, fmt.Errorf("dht: remote error %d: %s", msg.ErrCode, msg.ErrMsg)
		}
		return msg, nil
	case <-time.After(TRANSACTION_TIMEOUT):
		n.Lock()
		delete(n.pending, txid)
		n.Unlock()
		return nil, ErrTransactionTimeout
	}
}

func (n *Node) Ping(raddr *net.UDPAddr) error {
	_, err := n.sendQuery(raddr, "ping")
	return err
}

// FindNode queries one node and returns the compact nodes it knows closest
// to target.
func (n *Node) FindNode(raddr *net.UDPAddr, target NodeID) ([]*NodeEntry, error) {
	resp, err := n.sendQuery(raddr, "find_node",
		bencode.DictEntry{Key: []byte("target"), Value: bencode.Bytes(target[:])},
	)
	if err != nil {
		return nil, err
	}
	nodesVal, _ := resp.Resp.Lookup("nodes")
	return ParseCompactNodes(nodesVal.BytesValue()), nil
}

// PeerAddr is one peer found via get_peers.
type PeerAddr struct {
	Addr net.IP
	Port int
}

// GetPeers queries one node; the response carries either peer values or
// closer nodes, plus the token for a later announce.
func (n *Node) GetPeers(raddr *net.UDPAddr, infoHash [20]byte) ([]PeerAddr, []*NodeEntry, []byte, error) {
	resp, err := n.sendQuery(raddr, "get_peers",
		bencode.DictEntry{Key: []byte("info_hash"), Value: bencode.Bytes(infoHash[:])},
	)
	if err != nil {
		return nil, nil, nil, err
	}
	var token []byte
	if tokenVal, ok := resp.Resp.Lookup("token"); ok {
		token = tokenVal.BytesValue()
	}
	var peers []PeerAddr
	if values, ok := resp.Resp.Lookup("values"); ok {
		for _, v := range values.ListValue() {
			if addr, port, err := ParseCompactPeer(v.BytesValue()); err == nil {
				peers = append(peers, PeerAddr{Addr: addr, Port: port})
			}
		}
	}
	var nodes []*NodeEntry
	if nodesVal, ok := resp.Resp.Lookup("nodes"); ok {
		nodes = ParseCompactNodes(nodesVal.BytesValue())
	}
	return peers, nodes, token, nil
}

func (n *Node) AnnouncePeer(raddr *net.UDPAddr, infoHash [20]byte, port int, token []byte) error {
	_, err := n.sendQuery(raddr, "announce_peer",
		bencode.DictEntry{Key: []byte("info_hash"), Value: bencode.Bytes(infoHash[:])},
		bencode.DictEntry{Key: []byte("port"), Value: bencode.Int(int64(port))},
		bencode.DictEntry{Key: []byte("implied_port"), Value: bencode.Int(0)},
		bencode.DictEntry{Key: []byte("token"), Value: bencode.Bytes(token)},
	)
	return err
}
