// Package torrent holds the immutable torrent descriptors: parsed metainfo,
// magnet references and the client peer id.
package torrent

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
	"log"
	"math/rand"
	"strings"

	bencodego "github.com/jackpal/bencode-go"

	"github.com/warppipe/swift-torrent/bencode"
)

var (
	PEER_ID = [20]byte{}
)

func init() {
	copy(PEER_ID[:8], []byte("-ST0001-"))
	if _, err := rand.Read(PEER_ID[8:]); err != nil {
		log.Fatalln(err)
	}
}

// MetaInfo mirrors the .torrent file layout.
type MetaInfo struct {
	Info         Info
	Announce     string
	AnnounceList [][]string `bencode:"announce-list"`
	CreationDate int        `bencode:"creation date"`
	Comment      string
	CreatedBy    string `bencode:"created by"`
	Encoding     string
}

type Info struct {
	PieceLength int    `bencode:"piece length"`
	Pieces      string
	Private     int
	Name        string
	Length      int
	Files       []File
}

type File struct {
	Length int
	Path   []string
}

// FileEntry is one file of the logical content. Offset is the cumulative
// byte offset of the file within the concatenation.
type FileEntry struct {
	Path   string
	Length int
	Offset int
}

// TorrentInfo is the read-only descriptor everything downstream consumes.
// It is created once, on metainfo parse or metadata-exchange completion.
type TorrentInfo struct {
	InfoHash     [20]byte
	Name         string
	PieceLength  int
	Pieces       []byte
	TotalSize    int
	Files        []FileEntry
	IsPrivate    bool
	Announce     string
	AnnounceList [][]string
}

// NewTorrentInfo parses raw .torrent bytes. The info-hash is the SHA-1 of
// the raw info span located by byte-level skip, so non-canonical sources
// hash the way peers expect.
func NewTorrentInfo(raw []byte) (*TorrentInfo, error) {
	mi := &MetaInfo{}
	if err := bencodego.Unmarshal(bytes.NewReader(raw), mi); err != nil {
		return nil, fmt.Errorf("torrent: malformed metainfo: %w", err)
	}
	start, end, err := bencode.InfoRange(raw)
	if err != nil {
		return nil, err
	}
	ti, err := fromInfo(&mi.Info, sha1.Sum(raw[start:end]))
	if err != nil {
		return nil, err
	}
	ti.Announce = mi.Announce
	ti.AnnounceList = mi.AnnounceList
	return ti, nil
}

// InfoFromBytes builds a TorrentInfo from a bare info dictionary, as
// delivered by the metadata exchange. raw must already be hash-verified.
func InfoFromBytes(raw []byte) (*TorrentInfo, error) {
	info := &Info{}
	if err := bencodego.Unmarshal(bytes.NewReader(raw), info); err != nil {
		return nil, fmt.Errorf("torrent: malformed info dictionary: %w", err)
	}
	return fromInfo(info, sha1.Sum(raw))
}

func fromInfo(info *Info, infoHash [20]byte) (*TorrentInfo, error) {
	if info.PieceLength <= 0 {
		return nil, fmt.Errorf("torrent: bad piece length %d", info.PieceLength)
	}
	if len(info.Pieces)%20 != 0 {
		return nil, fmt.Errorf("torrent: pieces blob is %d bytes, not a multiple of 20", len(info.Pieces))
	}
	ti := &TorrentInfo{
		InfoHash:    infoHash,
		Name:        info.Name,
		PieceLength: info.PieceLength,
		Pieces:      []byte(info.Pieces),
		IsPrivate:   info.Private == 1,
	}
	if len(info.Files) > 0 {
		// multi-file: concatenation in list order, paths rooted at Name
		offset := 0
		for _, f := range info.Files {
			ti.Files = append(ti.Files, FileEntry{
				Path:   strings.Join(append([]string{info.Name}, f.Path...), "/"),
				Length: f.Length,
				Offset: offset,
			})
			offset += f.Length
		}
		ti.TotalSize = offset
	} else {
		ti.Files = []FileEntry{{Path: info.Name, Length: info.Length, Offset: 0}}
		ti.TotalSize = info.Length
	}
	return ti, nil
}

func ReadTorrentInfo(r io.Reader) (*TorrentInfo, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return NewTorrentInfo(raw)
}

func (t *TorrentInfo) NumPieces() int {
	return len(t.Pieces) / 20
}

// PieceSize returns the byte length of piece i; only the final piece may be
// short.
func (t *TorrentInfo) PieceSize(i int) int {
	size := t.TotalSize - i*t.PieceLength
	if size > t.PieceLength {
		return t.PieceLength
	}
	return size
}

func (t *TorrentInfo) PieceHash(i int) []byte {
	return t.Pieces[i*20 : (i+1)*20]
}

// Tiers returns the announce tiers, falling back to the single announce URL.
func (t *TorrentInfo) Tiers() [][]string {
	if len(t.AnnounceList) > 0 {
		return t.AnnounceList
	}
	if t.Announce != "" {
		return [][]string{{t.Announce}}
	}
	return nil
}

func (t *TorrentInfo) InfoHashHex() string {
	return fmt.Sprintf("%x", t.InfoHash)
}
