// Package storage maps verified pieces onto the torrent's file list over an
// afero filesystem.
package storage

import (
	"github.com/spf13/afero"

	"github.com/warppipe/swift-torrent/bitfield"
	"github.com/warppipe/swift-torrent/torrent"
)

var appFS = afero.NewOsFs()

// SetFs swaps the backing filesystem; tests install a mem-map fs.
func SetFs(fs afero.Fs) {
	appFS = fs
}

// Storage is the disk side the peer manager consumes: whole-piece writes,
// block reads for serving uploads, and a verify scan for resume.
type Storage interface {
	WritePiece(pieceIndex int, data []byte) error
	ReadBlock(pieceIndex, begin, length int) ([]byte, error)
	// CurrentDownloadState re-hashes on-disk pieces and returns the set
	// that verify.
	CurrentDownloadState() (*bitfield.Bitfield, bool)
	Close()
}

var _ Storage = (*randomAccessStorage)(nil)

// NewStorage opens (creating as needed) every file of the torrent under
// baseDir.
func NewStorage(tor *torrent.TorrentInfo, baseDir string) (Storage, error) {
	return newRandomAccessStorage(tor, baseDir)
}
