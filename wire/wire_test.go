package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	msgs := []*Message{
		{ID: CHOKE},
		{ID: UNCHOKE},
		{ID: INTERESTED},
		{ID: NOT_INTERESTED},
		{ID: HAVE, Index: 42},
		{ID: BITFIELD, Bitfield: []byte{0xA0, 0x01}},
		{ID: REQUEST, Index: 3, Begin: 16384, Length: 16384},
		{ID: CANCEL, Index: 3, Begin: 16384, Length: 16384},
		{ID: BLOCK, Index: 7, Begin: 32768, Block: []byte("blockdata")},
		{ID: PORT, Port: 6881},
		{ID: EXTENDED, ExtID: 1, ExtPayload: []byte("d8:msg_typei0ee")},
	}
	for _, m := range msgs {
		frame := m.Encode()
		back, err := DecodePayload(frame[4:])
		require.NoError(t, err, "id %d", m.ID)
		assert.Equal(t, m, back, "id %d", m.ID)
	}
}

func TestKeepAlive(t *testing.T) {
	frame := (&Message{KeepAlive: true}).Encode()
	assert.Equal(t, []byte{0, 0, 0, 0}, frame)
	m, err := DecodePayload(nil)
	require.NoError(t, err)
	assert.True(t, m.KeepAlive)
}

func TestUnknownID(t *testing.T) {
	_, err := DecodePayload([]byte{99, 0, 0})
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestHandshakeRoundTrip(t *testing.T) {
	var infoHash, peerID [20]byte
	copy(infoHash[:], "aaaaaaaaaaaaaaaaaaaa")
	copy(peerID[:], "-ST0001-bbbbbbbbbbbb")

	h := NewHandshake(infoHash, peerID)
	assert.NotZero(t, h.Reserved[5]&0x10)

	data := h.Encode()
	require.Len(t, data, HANDSHAKE_LEN)
	back, err := DecodeHandshake(data)
	require.NoError(t, err)
	assert.Equal(t, infoHash, back.InfoHash)
	assert.Equal(t, peerID, back.PeerID)
	assert.True(t, back.SupportsExtended())
}

func TestHandshakeBadProtocol(t *testing.T) {
	data := NewHandshake([20]byte{}, [20]byte{}).Encode()
	data[1] = 'X'
	_, err := DecodeHandshake(data)
	assert.Error(t, err)
}

func TestDecoderStreaming(t *testing.T) {
	var infoHash, peerID [20]byte
	copy(infoHash[:], "cccccccccccccccccccc")
	copy(peerID[:], "dddddddddddddddddddd")

	stream := NewHandshake(infoHash, peerID).Encode()
	stream = append(stream, (&Message{ID: HAVE, Index: 5}).Encode()...)
	stream = append(stream, (&Message{ID: UNCHOKE}).Encode()...)

	d := NewDecoder()
	var got []*Message
	// feed one byte at a time; partial input must wait
	for _, b := range stream {
		msgs, err := d.Feed([]byte{b})
		require.NoError(t, err)
		got = append(got, msgs...)
	}
	require.NotNil(t, d.Handshake())
	assert.Equal(t, peerID, d.Handshake().PeerID)
	require.Len(t, got, 2)
	assert.Equal(t, byte(HAVE), got[0].ID)
	assert.Equal(t, 5, got[0].Index)
	assert.Equal(t, byte(UNCHOKE), got[1].ID)
}
