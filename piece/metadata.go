package piece

import (
	"bytes"
	"crypto/sha1"
	"sync"

	"github.com/warppipe/swift-torrent/bencode"
	"github.com/warppipe/swift-torrent/torrent"
	"github.com/warppipe/swift-torrent/wire"
)

const (
	METADATA_PIECE_SIZE = 16384
	LOCAL_METADATA_ID   = 1
)

const (
	metadataRequest = 0
	metadataData    = 1
	metadataReject  = 2
)

type ResultKind int

const (
	None ResultKind = iota
	SendMessage
	RequestMore
	MetadataComplete
)

// Result is the tagged outcome of routing one extended message: nothing,
// messages to transmit, or the completed, hash-verified TorrentInfo.
type Result struct {
	Kind     ResultKind
	Messages []*wire.Message
	Info     *torrent.TorrentInfo
}

// MetadataExchange drives BEP-9 against a single torrent: it learns the
// peer's ut_metadata id and metadata size from the extended handshake,
// requests every 16 KiB piece, and assembles + verifies the info dictionary
// against the torrent's info-hash.
type MetadataExchange interface {
	// HandshakePayload is the bencoded body of our extended handshake.
	HandshakePayload() []byte
	HandleExtended(extID byte, payload []byte) Result
	MetadataSize() int
	Done() bool
}

type metadataExchange struct {
	sync.Mutex
	infoHash       [20]byte
	peerMetadataID byte
	metadataSize   int
	totalPieces    int
	pieces         map[int][]byte
	done           bool
}

func NewMetadataExchange(infoHash [20]byte) MetadataExchange {
	return &metadataExchange{
		infoHash: infoHash,
		pieces:   make(map[int][]byte),
	}
}

func (m *metadataExchange) HandshakePayload() []byte {
	return bencode.Encode(bencode.Dict(
		bencode.DictEntry{Key: []byte("m"), Value: bencode.Dict(
			bencode.DictEntry{Key: []byte("ut_metadata"), Value: bencode.Int(LOCAL_METADATA_ID)},
		)},
	))
}

func (m *metadataExchange) MetadataSize() int {
	m.Lock()
	defer m.Unlock()
	return m.metadataSize
}

func (m *metadataExchange) Done() bool {
	m.Lock()
	defer m.Unlock()
	return m.done
}

func (m *metadataExchange) HandleExtended(extID byte, payload []byte) Result {
	m.Lock()
	defer m.Unlock()

	switch extID {
	case 0:
		return m.handleHandshake(payload)
	case LOCAL_METADATA_ID:
		return m.handleMessage(payload)
	default:
		return Result{Kind: None}
	}
}

// handleHandshake digests the peer's extended handshake; once both the
// peer's ut_metadata id and the metadata size are known, every piece is
// requested in one batch.
func (m *metadataExchange) handleHandshake(payload []byte) Result {
	v, err := bencode.Decode(payload)
	if err != nil {
		return Result{Kind: None}
	}
	if mdict, ok := v.Lookup("m"); ok {
		if id, ok := mdict.Lookup("ut_metadata"); ok && id.Kind() == bencode.IntKind {
			m.peerMetadataID = byte(id.Int())
		}
	}
	if size, ok := v.Lookup("metadata_size"); ok && size.Kind() == bencode.IntKind {
		m.metadataSize = int(size.Int())
		m.totalPieces = (m.metadataSize + METADATA_PIECE_SIZE - 1) / METADATA_PIECE_SIZE
	}
	if m.peerMetadataID == 0 || m.totalPieces == 0 || m.done {
		return Result{Kind: None}
	}

	msgs := make([]*wire.Message, 0, m.totalPieces)
	for i := 0; i < m.totalPieces; i++ {
		body := bencode.Encode(bencode.Dict(
			bencode.DictEntry{Key: []byte("msg_type"), Value: bencode.Int(metadataRequest)},
			bencode.DictEntry{Key: []byte("piece"), Value: bencode.Int(int64(i))},
		))
		msgs = append(msgs, &wire.Message{ID: wire.EXTENDED, ExtID: m.peerMetadataID, ExtPayload: body})
	}
	return Result{Kind: RequestMore, Messages: msgs}
}

// handleMessage routes one ut_metadata message: the bencoded prefix is the
// header, any trailing bytes are piece payload.
func (m *metadataExchange) handleMessage(payload []byte) Result {
	header, n, err := bencode.DecodePrefix(payload)
	if err != nil {
		return Result{Kind: None}
	}
	msgType, ok := header.Lookup("msg_type")
	if !ok || msgType.Kind() != bencode.IntKind {
		return Result{Kind: None}
	}
	switch msgType.Int() {
	case metadataData:
		pieceVal, ok := header.Lookup("piece")
		if !ok || pieceVal.Kind() != bencode.IntKind {
			return Result{Kind: None}
		}
		if m.metadataSize == 0 {
			if total, ok := header.Lookup("total_size"); ok && total.Kind() == bencode.IntKind {
				m.metadataSize = int(total.Int())
				m.totalPieces = (m.metadataSize + METADATA_PIECE_SIZE - 1) / METADATA_PIECE_SIZE
			}
		}
		index := int(pieceVal.Int())
		if index < 0 || index >= m.totalPieces {
			return Result{Kind: None}
		}
		m.pieces[index] = append([]byte(nil), payload[n:]...)
		if len(m.pieces) < m.totalPieces {
			return Result{Kind: None}
		}
		return m.finish()
	default:
		// reject and anything else
		return Result{Kind: None}
	}
}

func (m *metadataExchange) finish() Result {
	buf := &bytes.Buffer{}
	for i := 0; i < m.totalPieces; i++ {
		buf.Write(m.pieces[i])
	}
	metadata := buf.Bytes()
	checksum := sha1.Sum(metadata)
	if !bytes.Equal(checksum[:], m.infoHash[:]) {
		// corrupt download, start over
		m.pieces = make(map[int][]byte)
		return Result{Kind: None}
	}
	info, err := torrent.InfoFromBytes(metadata)
	if err != nil {
		m.pieces = make(map[int][]byte)
		return Result{Kind: None}
	}
	m.done = true
	return Result{Kind: MetadataComplete, Info: info}
}
