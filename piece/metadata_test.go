package piece

import (
	"crypto/sha1"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warppipe/swift-torrent/bencode"
	"github.com/warppipe/swift-torrent/wire"
)

func testInfoBytes() []byte {
	pieces := make([]byte, 20)
	return bencode.Encode(bencode.Dict(
		bencode.DictEntry{Key: []byte("name"), Value: bencode.String("meta-test")},
		bencode.DictEntry{Key: []byte("length"), Value: bencode.Int(1000)},
		bencode.DictEntry{Key: []byte("piece length"), Value: bencode.Int(16384)},
		bencode.DictEntry{Key: []byte("pieces"), Value: bencode.Bytes(pieces)},
	))
}

func peerHandshake(metadataID, size int) []byte {
	return bencode.Encode(bencode.Dict(
		bencode.DictEntry{Key: []byte("m"), Value: bencode.Dict(
			bencode.DictEntry{Key: []byte("ut_metadata"), Value: bencode.Int(int64(metadataID))},
		)},
		bencode.DictEntry{Key: []byte("metadata_size"), Value: bencode.Int(int64(size))},
	))
}

func dataMessage(index, totalSize int, data []byte) []byte {
	header := bencode.Encode(bencode.Dict(
		bencode.DictEntry{Key: []byte("msg_type"), Value: bencode.Int(metadataData)},
		bencode.DictEntry{Key: []byte("piece"), Value: bencode.Int(int64(index))},
		bencode.DictEntry{Key: []byte("total_size"), Value: bencode.Int(int64(totalSize))},
	))
	return append(header, data...)
}

func TestHandshakePayload(t *testing.T) {
	m := NewMetadataExchange([20]byte{})
	assert.Equal(t, "d1:md11:ut_metadatai1eee", string(m.HandshakePayload()))
}

func TestMetadataExchangeComplete(t *testing.T) {
	info := testInfoBytes()
	infoHash := sha1.Sum(info)
	m := NewMetadataExchange(infoHash)

	// peer's extended handshake announces ut_metadata=2 and the size
	res := m.HandleExtended(0, peerHandshake(2, len(info)))
	require.Equal(t, RequestMore, res.Kind)
	require.Len(t, res.Messages, 1)
	msg := res.Messages[0]
	assert.Equal(t, byte(wire.EXTENDED), msg.ID)
	assert.Equal(t, byte(2), msg.ExtID)
	assert.Equal(t, "d8:msg_typei0e5:piecei0ee", string(msg.ExtPayload))

	res = m.HandleExtended(LOCAL_METADATA_ID, dataMessage(0, len(info), info))
	require.Equal(t, MetadataComplete, res.Kind)
	require.NotNil(t, res.Info)
	assert.Equal(t, "meta-test", res.Info.Name)
	assert.Equal(t, 1000, res.Info.TotalSize)
	assert.Equal(t, infoHash, res.Info.InfoHash)
	assert.True(t, m.Done())
}

func TestMetadataRequestBatchSize(t *testing.T) {
	size := METADATA_PIECE_SIZE*2 + 100 // three pieces
	m := NewMetadataExchange([20]byte{})

	res := m.HandleExtended(0, peerHandshake(3, size))
	require.Equal(t, RequestMore, res.Kind)
	require.Len(t, res.Messages, 3)
	for i, msg := range res.Messages {
		want := fmt.Sprintf("d8:msg_typei0e5:piecei%dee", i)
		assert.Equal(t, want, string(msg.ExtPayload))
	}
}

func TestMetadataHashMismatchResets(t *testing.T) {
	info := testInfoBytes()
	var wrongHash [20]byte // not the hash of info
	m := NewMetadataExchange(wrongHash)

	res := m.HandleExtended(0, peerHandshake(2, len(info)))
	require.Equal(t, RequestMore, res.Kind)

	res = m.HandleExtended(LOCAL_METADATA_ID, dataMessage(0, len(info), info))
	assert.Equal(t, None, res.Kind)
	assert.False(t, m.Done())

	// pieces were discarded; a fresh correct delivery still completes only
	// when the hash matches, so the exchange keeps waiting
	res = m.HandleExtended(LOCAL_METADATA_ID, dataMessage(0, len(info), info))
	assert.Equal(t, None, res.Kind)
}

func TestMetadataRejectIgnored(t *testing.T) {
	m := NewMetadataExchange([20]byte{})
	reject := bencode.Encode(bencode.Dict(
		bencode.DictEntry{Key: []byte("msg_type"), Value: bencode.Int(metadataReject)},
		bencode.DictEntry{Key: []byte("piece"), Value: bencode.Int(0)},
	))
	res := m.HandleExtended(LOCAL_METADATA_ID, reject)
	assert.Equal(t, None, res.Kind)
}

func TestHandshakeWithoutSizeWaits(t *testing.T) {
	m := NewMetadataExchange([20]byte{})
	payload := bencode.Encode(bencode.Dict(
		bencode.DictEntry{Key: []byte("m"), Value: bencode.Dict(
			bencode.DictEntry{Key: []byte("ut_metadata"), Value: bencode.Int(2)},
		)},
	))
	res := m.HandleExtended(0, payload)
	assert.Equal(t, None, res.Kind)
}
