package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/morezero/process-watchers/pkg/watcher"
)

// Msg identifies a request kind. Replies echo the request's Msg and sequence number.
type Msg uint8

const (
	MsgGet     Msg = 16
	MsgSet     Msg = 17
	MsgTell    Msg = 18
	MsgSetTell Msg = 19

	MsgGet2          Msg = 26
	MsgSet2          Msg = 27
	MsgTell2         Msg = 28
	MsgSetTell2      Msg = 29
	MsgChildren2     Msg = 30
	MsgChildrenTell2 Msg = 31
)

// HeaderSize is the size of [msg u8][seq u32].
const HeaderSize = 5

func (m Msg) String() string {
	switch m {
	case MsgGet:
		return "GET"
	case MsgSet:
		return "SET"
	case MsgTell:
		return "TELL"
	case MsgSetTell:
		return "SET_TELL"
	case MsgGet2:
		return "GET2"
	case MsgSet2:
		return "SET2"
	case MsgTell2:
		return "TELL2"
	case MsgSetTell2:
		return "SET_TELL2"
	case MsgChildren2:
		return "CHILDREN2"
	case MsgChildrenTell2:
		return "CHILDREN_TELL2"
	default:
		return fmt.Sprintf("MSG(%d)", uint8(m))
	}
}

// Valid reports whether m is a known message.
func (m Msg) Valid() bool {
	return (m >= MsgGet && m <= MsgSetTell) || (m >= MsgGet2 && m <= MsgChildrenTell2)
}

// Version returns the protocol generation of m: 1 (string) or 2 (typed binary).
func (m Msg) Version() int {
	if m >= MsgGet2 {
		return 2
	}
	return 1
}

// Op returns the tree operation m performs.
func (m Msg) Op() watcher.Op {
	switch m {
	case MsgSet, MsgSetTell, MsgSet2, MsgSetTell2:
		return watcher.OpSet
	case MsgChildren2, MsgChildrenTell2:
		return watcher.OpChildren
	default:
		return watcher.OpGet
	}
}

// Tell reports whether replies to m carry descriptions.
func (m Msg) Tell() bool {
	switch m {
	case MsgTell, MsgSetTell, MsgTell2, MsgSetTell2, MsgChildrenTell2:
		return true
	}
	return false
}

// Request is a decoded inbound request. Text carries the v1 SET payload, Value the v2 one.
type Request struct {
	Msg   Msg
	Seq   uint32
	Path  string
	Text  string
	Value watcher.Value
}

// EncodeRequest serializes req. v1 bodies are NUL-terminated strings; v2 bodies are a
// packed-length path followed, for SET2, by a value frame.
func EncodeRequest(req Request) ([]byte, error) {
	if !req.Msg.Valid() {
		return nil, decodeErr("unknown message %d", req.Msg)
	}
	b := appendHeader(nil, req.Msg, req.Seq)
	if req.Msg.Version() == 1 {
		b = AppendCString(b, req.Path)
		if req.Msg.Op() == watcher.OpSet {
			b = AppendCString(b, req.Text)
		}
		return b, nil
	}
	b, err := AppendString(b, req.Path)
	if err != nil {
		return nil, err
	}
	if req.Msg.Op() == watcher.OpSet {
		if b, err = AppendValue(b, req.Value, watcher.ModeReadWrite); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// DecodeRequest parses a request packet.
func DecodeRequest(b []byte) (Request, error) {
	r := NewReader(b)
	msg, seq, err := readHeader(r)
	if err != nil {
		return Request{}, err
	}
	req := Request{Msg: msg, Seq: seq}
	if msg.Version() == 1 {
		if req.Path, err = r.CString(); err != nil {
			return Request{}, err
		}
		if msg.Op() == watcher.OpSet {
			if req.Text, err = r.CString(); err != nil {
				return Request{}, err
			}
		}
	} else {
		if req.Path, err = r.String(); err != nil {
			return Request{}, err
		}
		if msg.Op() == watcher.OpSet {
			if req.Value, _, err = r.Value(); err != nil {
				return Request{}, err
			}
		}
	}
	if r.Len() != 0 {
		return Request{}, decodeErr("%d trailing bytes in %s request", r.Len(), msg)
	}
	return req, nil
}

// Reply is a reply packet. Body is the message-specific payload.
type Reply struct {
	Msg  Msg
	Seq  uint32
	Body []byte
}

// EncodeReply serializes rep.
func EncodeReply(rep Reply) []byte {
	b := make([]byte, 0, HeaderSize+len(rep.Body))
	b = appendHeader(b, rep.Msg, rep.Seq)
	return append(b, rep.Body...)
}

// DecodeReply parses a reply packet header and returns the body.
func DecodeReply(b []byte) (Reply, error) {
	r := NewReader(b)
	msg, seq, err := readHeader(r)
	if err != nil {
		return Reply{}, err
	}
	body, _ := r.Bytes(r.Len())
	return Reply{Msg: msg, Seq: seq, Body: body}, nil
}

// PeekHeader reads the message and sequence number of a packet without decoding its body.
func PeekHeader(b []byte) (Msg, uint32, error) {
	return readHeader(NewReader(b))
}

func appendHeader(dst []byte, msg Msg, seq uint32) []byte {
	dst = append(dst, byte(msg))
	return binary.LittleEndian.AppendUint32(dst, seq)
}

func readHeader(r *Reader) (Msg, uint32, error) {
	c, err := r.Byte()
	if err != nil {
		return 0, 0, err
	}
	msg := Msg(c)
	if !msg.Valid() {
		return 0, 0, decodeErr("unknown message %d", c)
	}
	seq, err := r.Uint32()
	if err != nil {
		return 0, 0, err
	}
	return msg, seq, nil
}
