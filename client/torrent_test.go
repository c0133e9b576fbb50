package client

import (
	"bytes"
	"context"
	"crypto/sha1"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warppipe/swift-torrent/storage"
	"github.com/warppipe/swift-torrent/torrent"
)

func smallTorrent() *torrent.TorrentInfo {
	data := bytes.Repeat([]byte{0xEE}, 1000)
	checksum := sha1.Sum(data)
	return &torrent.TorrentInfo{
		Name:        "small",
		PieceLength: 16384,
		Pieces:      checksum[:],
		TotalSize:   1000,
		Files:       []torrent.FileEntry{{Path: "small", Length: 1000, Offset: 0}},
	}
}

func TestStartFromMetainfo(t *testing.T) {
	storage.SetFs(afero.NewMemMapFs())
	d := NewTorrent(smallTorrent(), Config{DataDir: "dl", Port: 0})
	require.NoError(t, d.Start())
	defer d.Stop()

	// metadata is known up front
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	info, err := d.WaitForMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "small", info.Name)

	st := d.Status()
	assert.Equal(t, "small", st.Name)
	assert.Equal(t, 0.0, st.Progress)
	assert.False(t, st.Completed)
}

func TestWaitForCompletionTimesOut(t *testing.T) {
	storage.SetFs(afero.NewMemMapFs())
	d := NewTorrent(smallTorrent(), Config{DataDir: "dl", Port: 0})
	require.NoError(t, d.Start())
	defer d.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.WaitForCompletion(ctx), ErrTimeout)
}

func TestWaitForMetadataOnMagnetTimesOut(t *testing.T) {
	storage.SetFs(afero.NewMemMapFs())
	m, err := torrent.ParseMagnet("magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567&dn=X")
	require.NoError(t, err)

	d := NewTorrentFromMagnet(m, Config{DataDir: "dl", Port: 0})
	require.NoError(t, d.Start())
	defer d.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = d.WaitForMetadata(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestResumeScanSkipsVerifiedPieces(t *testing.T) {
	storage.SetFs(afero.NewMemMapFs())
	tor := smallTorrent()

	// the single piece is already on disk
	pre, err := storage.NewStorage(tor, "dl")
	require.NoError(t, err)
	require.NoError(t, pre.WritePiece(0, bytes.Repeat([]byte{0xEE}, 1000)))
	pre.Close()

	d := NewTorrent(tor, Config{DataDir: "dl", Port: 0})
	require.NoError(t, d.Start())
	defer d.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.WaitForCompletion(ctx))
	st := d.Status()
	assert.True(t, st.Completed)
	assert.Equal(t, 1.0, st.Progress)
}

func TestPauseResume(t *testing.T) {
	storage.SetFs(afero.NewMemMapFs())
	d := NewTorrent(smallTorrent(), Config{DataDir: "dl", Port: 0})
	require.NoError(t, d.Start())
	defer d.Stop()

	d.Pause()
	assert.True(t, d.Status().Paused)
	d.Resume()
	assert.False(t, d.Status().Paused)
}
