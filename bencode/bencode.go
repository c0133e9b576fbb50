// Package bencode implements the BitTorrent value encoding with canonical
// output and byte-range tracking on decode.
package bencode

import (
	"bytes"
	"fmt"
	"sort"
)

type Kind int

const (
	IntKind Kind = iota
	BytesKind
	ListKind
	DictKind
)

var (
	ErrUnexpectedEnd       = fmt.Errorf("bencode: unexpected end of input")
	ErrInvalidFormat       = fmt.Errorf("bencode: invalid format")
	ErrInvalidInteger      = fmt.Errorf("bencode: invalid integer")
	ErrInvalidStringLength = fmt.Errorf("bencode: invalid string length")
	ErrInvalidDictKey      = fmt.Errorf("bencode: invalid dictionary key")
)

// Value is one bencoded value: an integer, byte string, list or dictionary.
// Dictionaries preserve their decoded key order; Encode emits keys sorted.
type Value struct {
	kind Kind
	i    int64
	b    []byte
	l    []Value
	d    []DictEntry
}

type DictEntry struct {
	Key   []byte
	Value Value
}

func Int(i int64) Value          { return Value{kind: IntKind, i: i} }
func Bytes(b []byte) Value       { return Value{kind: BytesKind, b: b} }
func String(s string) Value      { return Value{kind: BytesKind, b: []byte(s)} }
func List(vs ...Value) Value     { return Value{kind: ListKind, l: vs} }
func Dict(es ...DictEntry) Value { return Value{kind: DictKind, d: es} }

func (v Value) Kind() Kind         { return v.kind }
func (v Value) Int() int64         { return v.i }
func (v Value) BytesValue() []byte { return v.b }
func (v Value) StringValue() string {
	return string(v.b)
}
func (v Value) ListValue() []Value     { return v.l }
func (v Value) DictValue() []DictEntry { return v.d }

// Lookup scans the dictionary for key. Dicts are small so a linear scan is
// fine; decode order is preserved.
func (v Value) Lookup(key string) (Value, bool) {
	for _, e := range v.d {
		if string(e.Key) == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Decode parses data as exactly one value consuming the full input.
func Decode(data []byte) (Value, error) {
	v, n, err := decodeValue(data, 0)
	if err != nil {
		return Value{}, err
	}
	if n != len(data) {
		return Value{}, fmt.Errorf("%w: trailing bytes after value", ErrInvalidFormat)
	}
	return v, nil
}

// DecodePrefix parses one value from the start of data and returns the
// number of bytes consumed, leaving any trailing bytes to the caller.
func DecodePrefix(data []byte) (Value, int, error) {
	return decodeValue(data, 0)
}

// DecodeWithRange parses one value and returns the byte range it occupied
// within data. Trailing bytes are left untouched.
func DecodeWithRange(data []byte) (Value, int, int, error) {
	v, n, err := decodeValue(data, 0)
	if err != nil {
		return Value{}, 0, 0, err
	}
	return v, 0, n, nil
}

func decodeValue(data []byte, pos int) (Value, int, error) {
	if pos >= len(data) {
		return Value{}, pos, ErrUnexpectedEnd
	}
	switch c := data[pos]; {
	case c == 'i':
		return decodeInt(data, pos)
	case c >= '0' && c <= '9':
		b, next, err := decodeString(data, pos)
		if err != nil {
			return Value{}, pos, err
		}
		return Bytes(b), next, nil
	case c == 'l':
		pos++
		var items []Value
		for {
			if pos >= len(data) {
				return Value{}, pos, ErrUnexpectedEnd
			}
			if data[pos] == 'e' {
				return List(items...), pos + 1, nil
			}
			item, next, err := decodeValue(data, pos)
			if err != nil {
				return Value{}, pos, err
			}
			items = append(items, item)
			pos = next
		}
	case c == 'd':
		pos++
		var entries []DictEntry
		for {
			if pos >= len(data) {
				return Value{}, pos, ErrUnexpectedEnd
			}
			if data[pos] == 'e' {
				return Dict(entries...), pos + 1, nil
			}
			if data[pos] < '0' || data[pos] > '9' {
				return Value{}, pos, ErrInvalidDictKey
			}
			key, next, err := decodeString(data, pos)
			if err != nil {
				return Value{}, pos, err
			}
			val, next2, err := decodeValue(data, next)
			if err != nil {
				return Value{}, pos, err
			}
			entries = append(entries, DictEntry{Key: key, Value: val})
			pos = next2
		}
	default:
		return Value{}, pos, fmt.Errorf("%w: unexpected byte %q", ErrInvalidFormat, c)
	}
}

func decodeInt(data []byte, pos int) (Value, int, error) {
	end := bytes.IndexByte(data[pos:], 'e')
	if end < 0 {
		return Value{}, pos, ErrUnexpectedEnd
	}
	digits := data[pos+1 : pos+end]
	if len(digits) == 0 {
		return Value{}, pos, ErrInvalidInteger
	}
	neg := false
	if digits[0] == '-' {
		neg = true
		digits = digits[1:]
		if len(digits) == 0 {
			return Value{}, pos, ErrInvalidInteger
		}
	}
	// no leading zeros except "0" itself; negative zero is rejected
	if digits[0] == '0' && (neg || len(digits) > 1) {
		return Value{}, pos, ErrInvalidInteger
	}
	var n int64
	for _, c := range digits {
		if c < '0' || c > '9' {
			return Value{}, pos, ErrInvalidInteger
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return Int(n), pos + end + 1, nil
}

func decodeString(data []byte, pos int) ([]byte, int, error) {
	colon := bytes.IndexByte(data[pos:], ':')
	if colon < 0 {
		return nil, pos, ErrUnexpectedEnd
	}
	length := 0
	digits := data[pos : pos+colon]
	if len(digits) == 0 {
		return nil, pos, ErrInvalidStringLength
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return nil, pos, ErrInvalidStringLength
		}
		length = length*10 + int(c-'0')
	}
	start := pos + colon + 1
	if start+length > len(data) {
		return nil, pos, ErrUnexpectedEnd
	}
	return data[start : start+length], start + length, nil
}

// Encode renders v canonically: dictionary keys are emitted in lexicographic
// byte order regardless of insertion order.
func Encode(v Value) []byte {
	buf := &bytes.Buffer{}
	encodeValue(buf, v)
	return buf.Bytes()
}

func encodeValue(buf *bytes.Buffer, v Value) {
	switch v.kind {
	case IntKind:
		fmt.Fprintf(buf, "i%de", v.i)
	case BytesKind:
		fmt.Fprintf(buf, "%d:", len(v.b))
		buf.Write(v.b)
	case ListKind:
		buf.WriteByte('l')
		for _, item := range v.l {
			encodeValue(buf, item)
		}
		buf.WriteByte('e')
	case DictKind:
		entries := make([]DictEntry, len(v.d))
		copy(entries, v.d)
		sort.Slice(entries, func(i, j int) bool {
			return bytes.Compare(entries[i].Key, entries[j].Key) < 0
		})
		buf.WriteByte('d')
		for _, e := range entries {
			fmt.Fprintf(buf, "%d:", len(e.Key))
			buf.Write(e.Key)
			encodeValue(buf, e.Value)
		}
		buf.WriteByte('e')
	}
}
