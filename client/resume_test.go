package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResumeDataRoundTrip(t *testing.T) {
	var hash [20]byte
	copy(hash[:], "aaaaaaaaaaaaaaaaaaaa")
	r := &ResumeData{
		InfoHash:        hash,
		CompletedPieces: []byte{0xA0, 0x01},
		Uploaded:        1234,
		Downloaded:      56789,
		SavePath:        "/downloads",
	}

	back, err := DecodeResumeData(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, r, back)
}

func TestDecodeResumeDataErrors(t *testing.T) {
	_, err := DecodeResumeData([]byte("not bencode"))
	assert.Error(t, err)

	// a dict without an info hash is refused
	_, err = DecodeResumeData([]byte("d8:uploadedi5ee"))
	assert.Error(t, err)
}
