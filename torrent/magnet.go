package torrent

import (
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// MagnetURI is a parsed magnet reference. Only the btih form is supported;
// both hex (40 chars) and base32 (32 chars) encodings yield the 20-byte
// v1 info-hash.
type MagnetURI struct {
	InfoHash    [20]byte
	DisplayName string
	Trackers    []string
	WebSeeds    []string
}

func ParseMagnet(raw string) (*MagnetURI, error) {
	if !strings.HasPrefix(strings.ToLower(raw), "magnet:?") {
		return nil, fmt.Errorf("torrent: not a magnet URI")
	}
	values, err := url.ParseQuery(raw[len("magnet:?"):])
	if err != nil {
		return nil, fmt.Errorf("torrent: malformed magnet query: %w", err)
	}

	xts := values["xt"]
	if len(xts) == 0 {
		return nil, fmt.Errorf("torrent: magnet URI missing xt")
	}
	xt := xts[0]
	if !strings.HasPrefix(xt, "urn:btih:") {
		return nil, fmt.Errorf("torrent: unsupported urn %q", xt)
	}
	hashStr := xt[len("urn:btih:"):]

	var hashBytes []byte
	switch len(hashStr) {
	case 40:
		hashBytes, err = hex.DecodeString(hashStr)
		if err != nil {
			return nil, fmt.Errorf("torrent: bad hex info-hash: %w", err)
		}
	case 32:
		hashBytes, err = base32.StdEncoding.DecodeString(strings.ToUpper(hashStr))
		if err != nil {
			return nil, fmt.Errorf("torrent: bad base32 info-hash: %w", err)
		}
	default:
		return nil, fmt.Errorf("torrent: info-hash is %d chars, want 40 or 32", len(hashStr))
	}
	if len(hashBytes) != 20 {
		return nil, fmt.Errorf("torrent: info-hash decodes to %d bytes", len(hashBytes))
	}

	m := &MagnetURI{}
	copy(m.InfoHash[:], hashBytes)
	if dn := values["dn"]; len(dn) > 0 {
		m.DisplayName = dn[0]
	}
	m.Trackers = values["tr"]
	m.WebSeeds = values["ws"]
	return m, nil
}

// String re-emits the URI with the hex info-hash form.
func (m *MagnetURI) String() string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(hex.EncodeToString(m.InfoHash[:]))
	if m.DisplayName != "" {
		b.WriteString("&dn=")
		b.WriteString(url.QueryEscape(m.DisplayName))
	}
	for _, tr := range m.Trackers {
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(tr))
	}
	for _, ws := range m.WebSeeds {
		b.WriteString("&ws=")
		b.WriteString(url.QueryEscape(ws))
	}
	return b.String()
}
