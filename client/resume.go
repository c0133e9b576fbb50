package client

import (
	"bytes"
	"fmt"

	"github.com/marksamman/bencode"
)

// ResumeData is the bencoded boundary format a caller persists between runs.
type ResumeData struct {
	InfoHash        [20]byte
	CompletedPieces []byte
	Uploaded        int
	Downloaded      int
	SavePath        string
}

func (r *ResumeData) Encode() []byte {
	return bencode.Encode(map[string]interface{}{
		"info_hash":        string(r.InfoHash[:]),
		"completed_pieces": string(r.CompletedPieces),
		"uploaded":         int64(r.Uploaded),
		"downloaded":       int64(r.Downloaded),
		"save_path":        r.SavePath,
	})
}

func DecodeResumeData(data []byte) (*ResumeData, error) {
	dict, err := bencode.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("client: malformed resume data: %w", err)
	}
	r := &ResumeData{}
	hash, ok := dict["info_hash"].(string)
	if !ok || len(hash) != 20 {
		return nil, fmt.Errorf("client: resume data has no info hash")
	}
	copy(r.InfoHash[:], hash)
	if pieces, ok := dict["completed_pieces"].(string); ok {
		r.CompletedPieces = []byte(pieces)
	}
	if uploaded, ok := dict["uploaded"].(int64); ok {
		r.Uploaded = int(uploaded)
	}
	if downloaded, ok := dict["downloaded"].(int64); ok {
		r.Downloaded = int(downloaded)
	}
	if savePath, ok := dict["save_path"].(string); ok {
		r.SavePath = savePath
	}
	return r, nil
}
