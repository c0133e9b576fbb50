package storage

import (
	"bytes"
	"crypto/sha1"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/warppipe/swift-torrent/bitfield"
	"github.com/warppipe/swift-torrent/torrent"
)

type randomAccessStorage struct {
	tor       *torrent.TorrentInfo
	files     []afero.File
	fileLocks []*sync.Mutex
}

func newRandomAccessStorage(tor *torrent.TorrentInfo, baseDir string) (*randomAccessStorage, error) {
	s := &randomAccessStorage{tor: tor}
	for _, entry := range tor.Files {
		path := filepath.Join(baseDir, entry.Path)
		if dir := filepath.Dir(path); dir != "." {
			if err := appFS.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}
		file, err := appFS.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return nil, err
		}
		s.files = append(s.files, file)
		s.fileLocks = append(s.fileLocks, &sync.Mutex{})
	}
	return s, nil
}

// fileSlices walks the file list and yields the per-file spans covering
// [offset, offset+length) of the logical content.
func (s *randomAccessStorage) fileSlices(offset, length int, visit func(fileIndex, fileOffset, n int) error) error {
	for i, entry := range s.tor.Files {
		if length == 0 {
			break
		}
		if offset >= entry.Offset+entry.Length {
			continue
		}
		fileOffset := offset - entry.Offset
		n := entry.Length - fileOffset
		if n > length {
			n = length
		}
		if err := visit(i, fileOffset, n); err != nil {
			return err
		}
		offset += n
		length -= n
	}
	return nil
}

func (s *randomAccessStorage) WritePiece(pieceIndex int, data []byte) error {
	offset := pieceIndex * s.tor.PieceLength
	return s.fileSlices(offset, len(data), func(fileIndex, fileOffset, n int) error {
		s.fileLocks[fileIndex].Lock()
		defer s.fileLocks[fileIndex].Unlock()

		_, err := s.files[fileIndex].WriteAt(data[:n], int64(fileOffset))
		data = data[n:]
		return err
	})
}

func (s *randomAccessStorage) ReadBlock(pieceIndex, begin, length int) ([]byte, error) {
	offset := pieceIndex*s.tor.PieceLength + begin
	block := &bytes.Buffer{}
	err := s.fileSlices(offset, length, func(fileIndex, fileOffset, n int) error {
		buf := make([]byte, n)
		s.fileLocks[fileIndex].Lock()
		defer s.fileLocks[fileIndex].Unlock()

		if _, err := s.files[fileIndex].ReadAt(buf, int64(fileOffset)); err != nil {
			return err
		}
		block.Write(buf)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return block.Bytes(), nil
}

func (s *randomAccessStorage) CurrentDownloadState() (*bitfield.Bitfield, bool) {
	completed := bitfield.New(s.tor.NumPieces())
	for i := 0; i < s.tor.NumPieces(); i++ {
		data, err := s.ReadBlock(i, 0, s.tor.PieceSize(i))
		if err != nil {
			continue
		}
		checksum := sha1.Sum(data)
		if bytes.Equal(checksum[:], s.tor.PieceHash(i)) {
			completed.Set(i)
		}
	}
	return completed, completed.All()
}

func (s *randomAccessStorage) Close() {
	for _, f := range s.files {
		f.Close()
	}
}
