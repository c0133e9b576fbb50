package bencode

import "fmt"

// InfoRange locates the raw byte span of the "info" value inside metainfo
// bytes. The span is found by skipping values at the byte level rather than
// re-encoding, so a non-canonically encoded source still hashes to the
// info-hash peers expect.
func InfoRange(metainfo []byte) (start, end int, err error) {
	if len(metainfo) == 0 || metainfo[0] != 'd' {
		return 0, 0, fmt.Errorf("%w: metainfo is not a dictionary", ErrInvalidFormat)
	}
	pos := 1
	for {
		if pos >= len(metainfo) {
			return 0, 0, ErrUnexpectedEnd
		}
		if metainfo[pos] == 'e' {
			return 0, 0, fmt.Errorf("%w: no info key", ErrInvalidFormat)
		}
		key, next, err := decodeString(metainfo, pos)
		if err != nil {
			return 0, 0, err
		}
		valEnd, err := skipValue(metainfo, next)
		if err != nil {
			return 0, 0, err
		}
		if string(key) == "info" {
			return next, valEnd, nil
		}
		pos = valEnd
	}
}

// skipValue advances over exactly one bencoded value without building it.
func skipValue(data []byte, pos int) (int, error) {
	if pos >= len(data) {
		return pos, ErrUnexpectedEnd
	}
	switch c := data[pos]; {
	case c == 'i':
		for i := pos + 1; i < len(data); i++ {
			if data[i] == 'e' {
				return i + 1, nil
			}
		}
		return pos, ErrUnexpectedEnd
	case c >= '0' && c <= '9':
		_, next, err := decodeString(data, pos)
		return next, err
	case c == 'l':
		pos++
		for {
			if pos >= len(data) {
				return pos, ErrUnexpectedEnd
			}
			if data[pos] == 'e' {
				return pos + 1, nil
			}
			next, err := skipValue(data, pos)
			if err != nil {
				return pos, err
			}
			pos = next
		}
	case c == 'd':
		pos++
		for {
			if pos >= len(data) {
				return pos, ErrUnexpectedEnd
			}
			if data[pos] == 'e' {
				return pos + 1, nil
			}
			_, next, err := decodeString(data, pos)
			if err != nil {
				return pos, err
			}
			pos, err = skipValue(data, next)
			if err != nil {
				return pos, err
			}
		}
	default:
		return pos, fmt.Errorf("%w: unexpected byte %q", ErrInvalidFormat, c)
	}
}
