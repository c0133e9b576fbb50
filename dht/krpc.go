package dht

import (
	"fmt"

	"github.com/warppipe/swift-torrent/bencode"
)

// KRPC envelope kinds.
const (
	QUERY    = "q"
	RESPONSE = "r"
	ERROR    = "e"
)

// Message is one KRPC envelope: a query with its arguments, a response
// with its results, or an error pair.
type Message struct {
	T []byte
	Y string

	// queries
	Q    string
	Args bencode.Value

	// responses
	Resp bencode.Value

	// errors
	ErrCode int64
	ErrMsg  string
}

func NewQuery(t []byte, q string, args ...bencode.DictEntry) *Message {
	return &Message{T: t, Y: QUERY, Q: q, Args: bencode.Dict(args...)}
}

func NewResponse(t []byte, results ...bencode.DictEntry) *Message {
	return &Message{T: t, Y: RESPONSE, Resp: bencode.Dict(results...)}
}

func NewError(t []byte, code int64, msg string) *Message {
	return &Message{T: t, Y: ERROR, ErrCode: code, ErrMsg: msg}
}

func (m *Message) Encode() []byte {
	entries := []bencode.DictEntry{
		{Key: []byte("t"), Value: bencode.Bytes(m.T)},
		{Key: []byte("y"), Value: bencode.String(m.Y)},
	}
	switch m.Y {
	case QUERY:
		entries = append(entries,
			bencode.DictEntry{Key: []byte("q"), Value: bencode.String(m.Q)},
			bencode.DictEntry{Key: []byte("a"), Value: m.Args},
		)
	case RESPONSE:
		entries = append(entries,
			bencode.DictEntry{Key: []byte("r"), Value: m.Resp},
		)
	case ERROR:
		entries = append(entries,
			bencode.DictEntry{Key: []byte("e"), Value: bencode.List(
				bencode.Int(m.ErrCode), bencode.String(m.ErrMsg),
			)},
		)
	}
	return bencode.Encode(bencode.Dict(entries...))
}

func DecodeMessage(data []byte) (*Message, error) {
	v, err := bencode.Decode(data)
	if err != nil {
		return nil, err
	}
	if v.Kind() != bencode.DictKind {
		return nil, fmt.Errorf("dht: krpc message is not a dictionary")
	}
	m := &Message{}
	t, ok := v.Lookup("t")
	if !ok {
		return nil, fmt.Errorf("dht: krpc message has no transaction id")
	}
	m.T = t.BytesValue()
	y, ok := v.Lookup("y")
	if !ok {
		return nil, fmt.Errorf("dht: krpc message has no type")
	}
	m.Y = y.StringValue()

	switch m.Y {
	case QUERY:
		q, ok := v.Lookup("q")
		if !ok {
			return nil, fmt.Errorf("dht: query has no method name")
		}
		m.Q = q.StringValue()
		args, ok := v.Lookup("a")
		if !ok || args.Kind() != bencode.DictKind {
			return nil, fmt.Errorf("dht: query has no arguments")
		}
		m.Args = args
	case RESPONSE:
		resp, ok := v.Lookup("r")
		if !ok || resp.Kind() != bencode.DictKind {
			return nil, fmt.Errorf("dht: response has no results")
		}
		m.Resp = resp
	case ERROR:
		e, ok := v.Lookup("e")
		if !ok || e.Kind() != bencode.ListKind || len(e.ListValue()) < 2 {
			return nil, fmt.Errorf("dht: malformed error message")
		}
		m.ErrCode = e.ListValue()[0].Int()
		m.ErrMsg = e.ListValue()[1].StringValue()
	default:
		return nil, fmt.Errorf("dht: unknown krpc type %q", m.Y)
	}
	return m, nil
}

// SenderID pulls the sending node's id out of a query's arguments or a
// response's results.
func (m *Message) SenderID() (NodeID, bool) {
	var dict bencode.Value
	switch m.Y {
	case QUERY:
		dict = m.Args
	case RESPONSE:
		dict = m.Resp
	default:
		return NodeID{}, false
	}
	idVal, ok := dict.Lookup("id")
	if !ok {
		return NodeID{}, false
	}
	id, err := NodeIDFromBytes(idVal.BytesValue())
	if err != nil {
		return NodeID{}, false
	}
	return id, true
}
