package dht

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warppipe/swift-torrent/bencode"
)

func TestPingQueryRoundTrip(t *testing.T) {
	id := bytes.Repeat([]byte{0xAA}, 20)
	q := NewQuery([]byte{0x01, 0x02}, "ping",
		bencode.DictEntry{Key: []byte("id"), Value: bencode.Bytes(id)},
	)
	data := q.Encode()

	back, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, back.T)
	assert.Equal(t, QUERY, back.Y)
	assert.Equal(t, "ping", back.Q)
	sender, ok := back.SenderID()
	require.True(t, ok)
	assert.Equal(t, id, sender[:])
}

func TestResponseRoundTrip(t *testing.T) {
	id := bytes.Repeat([]byte{0xBB}, 20)
	r := NewResponse([]byte("tx"),
		bencode.DictEntry{Key: []byte("id"), Value: bencode.Bytes(id)},
		bencode.DictEntry{Key: []byte("nodes"), Value: bencode.Bytes(make([]byte, 26))},
	)
	back, err := DecodeMessage(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, RESPONSE, back.Y)
	nodes, ok := back.Resp.Lookup("nodes")
	require.True(t, ok)
	assert.Len(t, nodes.BytesValue(), 26)
}

func TestErrorRoundTrip(t *testing.T) {
	e := NewError([]byte("tx"), 204, "Method Unknown")
	back, err := DecodeMessage(e.Encode())
	require.NoError(t, err)
	assert.Equal(t, ERROR, back.Y)
	assert.Equal(t, int64(204), back.ErrCode)
	assert.Equal(t, "Method Unknown", back.ErrMsg)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := []string{
		"not bencode",
		"i42e",                      // not a dict
		"d1:y1:qe",                  // missing t
		"d1:t2:aa1:y1:qe",           // query missing q/a
		"d1:t2:aa1:y1:re",           // response missing r
		"d1:t2:aa1:y1:xe",           // unknown type
		"d1:t2:aa1:y1:e1:eli201eee", // error list too short
	}
	for _, c := range cases {
		_, err := DecodeMessage([]byte(c))
		assert.Error(t, err, "input %q", c)
	}
}
