package wire

import (
	"encoding/binary"
	"math"

	"github.com/morezero/process-watchers/pkg/watcher"
)

// maxTupleDepth bounds nested tuples on decode.
const maxTupleDepth = 32

// AppendFailure appends the frame every failed GET or SET replies with:
// [UNKNOWN][READ_ONLY][0].
func AppendFailure(dst []byte) []byte {
	return append(dst, byte(watcher.TypeUnknown), byte(watcher.ModeReadOnly), 0)
}

// FailureFrame returns a fresh failure frame.
func FailureFrame() []byte {
	return AppendFailure(nil)
}

// IsFailure reports whether b starts with the failure frame. A children frame never does,
// so callers check this before decoding a CHILDREN reply.
func IsFailure(b []byte) bool {
	return len(b) >= 3 && b[0] == byte(watcher.TypeUnknown) && b[1] == byte(watcher.ModeReadOnly) && b[2] == 0
}

// AppendValue appends the frame [type][mode][packed len][payload] for v.
func AppendValue(dst []byte, v watcher.Value, mode watcher.Mode) ([]byte, error) {
	payload, err := appendPayload(nil, v)
	if err != nil {
		return dst, err
	}
	dst = append(dst, byte(v.Type), byte(mode))
	dst, err = AppendPackedLength(dst, len(payload))
	if err != nil {
		return dst, err
	}
	return append(dst, payload...), nil
}

// EncodeValue returns the frame for v.
func EncodeValue(v watcher.Value, mode watcher.Mode) ([]byte, error) {
	return AppendValue(nil, v, mode)
}

func appendPayload(dst []byte, v watcher.Value) ([]byte, error) {
	switch v.Type {
	case watcher.TypeInt:
		if v.Width == 4 {
			return binary.LittleEndian.AppendUint32(dst, uint32(int32(v.Int))), nil
		}
		return binary.LittleEndian.AppendUint64(dst, uint64(v.Int)), nil
	case watcher.TypeUint:
		if v.Width == 4 {
			return binary.LittleEndian.AppendUint32(dst, uint32(v.Uint)), nil
		}
		return binary.LittleEndian.AppendUint64(dst, v.Uint), nil
	case watcher.TypeFloat:
		if v.Width == 4 {
			return binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(v.Float))), nil
		}
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v.Float)), nil
	case watcher.TypeBool:
		if v.Bool {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case watcher.TypeString:
		if len(v.Str) > MaxPackedLength {
			return dst, decodeErr("string of %d bytes exceeds the frame limit", len(v.Str))
		}
		return append(dst, v.Str...), nil
	case watcher.TypeType:
		return append(dst, byte(v.TypeTag)), nil
	case watcher.TypeTuple:
		dst, err := AppendPackedLength(dst, len(v.Tuple))
		if err != nil {
			return dst, err
		}
		for _, e := range v.Tuple {
			if dst, err = AppendValue(dst, e, watcher.ModeReadOnly); err != nil {
				return dst, err
			}
		}
		return dst, nil
	case watcher.TypeUnknown:
		return dst, nil
	default:
		return dst, decodeErr("cannot encode data type %d", v.Type)
	}
}

// Value reads one value frame.
func (r *Reader) Value() (watcher.Value, watcher.Mode, error) {
	return r.value(0)
}

func (r *Reader) value(depth int) (watcher.Value, watcher.Mode, error) {
	tb, err := r.Byte()
	if err != nil {
		return watcher.Value{}, watcher.ModeInvalid, err
	}
	mb, err := r.Byte()
	if err != nil {
		return watcher.Value{}, watcher.ModeInvalid, err
	}
	dt, mode := watcher.DataType(tb), watcher.Mode(mb)
	if !dt.Valid() {
		return watcher.Value{}, watcher.ModeInvalid, decodeErr("unknown data type %d", tb)
	}
	if mode > watcher.ModeCallable {
		return watcher.Value{}, watcher.ModeInvalid, decodeErr("unknown mode %d", mb)
	}
	n, err := r.PackedLength()
	if err != nil {
		return watcher.Value{}, watcher.ModeInvalid, err
	}
	payload, err := r.Bytes(n)
	if err != nil {
		return watcher.Value{}, watcher.ModeInvalid, err
	}
	v, err := decodePayload(dt, payload, depth)
	if err != nil {
		return watcher.Value{}, watcher.ModeInvalid, err
	}
	return v, mode, nil
}

// decodePayload applies the numeric coercion rule: INT, UINT and FLOAT accept a 4 or 8 byte
// payload and keep the received width; any other size is a DecodeError.
func decodePayload(dt watcher.DataType, p []byte, depth int) (watcher.Value, error) {
	if dt.Numeric() && len(p) != 4 && len(p) != 8 {
		return watcher.Value{}, decodeErr("%s payload of %d bytes", dt, len(p))
	}
	switch dt {
	case watcher.TypeInt:
		if len(p) == 4 {
			return watcher.Int32Value(int32(binary.LittleEndian.Uint32(p))), nil
		}
		return watcher.IntValue(int64(binary.LittleEndian.Uint64(p))), nil
	case watcher.TypeUint:
		if len(p) == 4 {
			return watcher.Uint32Value(binary.LittleEndian.Uint32(p)), nil
		}
		return watcher.UintValue(binary.LittleEndian.Uint64(p)), nil
	case watcher.TypeFloat:
		if len(p) == 4 {
			return watcher.Float32Value(math.Float32frombits(binary.LittleEndian.Uint32(p))), nil
		}
		return watcher.FloatValue(math.Float64frombits(binary.LittleEndian.Uint64(p))), nil
	case watcher.TypeBool:
		if len(p) != 1 {
			return watcher.Value{}, decodeErr("BOOL payload of %d bytes", len(p))
		}
		return watcher.BoolValue(p[0] != 0), nil
	case watcher.TypeString:
		return watcher.StringValue(string(p)), nil
	case watcher.TypeType:
		if len(p) != 1 || !watcher.DataType(p[0]).Valid() {
			return watcher.Value{}, decodeErr("malformed TYPE payload")
		}
		return watcher.TypeValue(watcher.DataType(p[0])), nil
	case watcher.TypeTuple:
		if depth >= maxTupleDepth {
			return watcher.Value{}, decodeErr("tuples nested deeper than %d", maxTupleDepth)
		}
		sub := NewReader(p)
		count, err := sub.PackedLength()
		if err != nil {
			return watcher.Value{}, err
		}
		elems := make([]watcher.Value, 0, min(count, len(p)))
		for i := 0; i < count; i++ {
			e, _, err := sub.value(depth + 1)
			if err != nil {
				return watcher.Value{}, err
			}
			elems = append(elems, e)
		}
		if sub.Len() != 0 {
			return watcher.Value{}, decodeErr("%d trailing bytes in TUPLE", sub.Len())
		}
		return watcher.TupleValue(elems...), nil
	default:
		if len(p) != 0 {
			return watcher.Value{}, decodeErr("UNKNOWN payload of %d bytes", len(p))
		}
		return watcher.Unknown(), nil
	}
}

// DecodeValue decodes a buffer holding exactly one value frame.
func DecodeValue(b []byte) (watcher.Value, watcher.Mode, error) {
	r := NewReader(b)
	v, m, err := r.Value()
	if err != nil {
		return watcher.Value{}, watcher.ModeInvalid, err
	}
	if r.Len() != 0 {
		return watcher.Value{}, watcher.ModeInvalid, decodeErr("%d trailing bytes after value", r.Len())
	}
	return v, m, nil
}

// AppendSetReply appends the reply to a v2 SET: the post-mutation value frame followed by a
// success byte.
func AppendSetReply(dst []byte, v watcher.Value, mode watcher.Mode, ok bool) ([]byte, error) {
	dst, err := AppendValue(dst, v, mode)
	if err != nil {
		return dst, err
	}
	if ok {
		return append(dst, 1), nil
	}
	return append(dst, 0), nil
}

// DecodeSetReply decodes the reply to a v2 SET.
func DecodeSetReply(b []byte) (watcher.Value, watcher.Mode, bool, error) {
	r := NewReader(b)
	v, m, err := r.Value()
	if err != nil {
		return watcher.Value{}, watcher.ModeInvalid, false, err
	}
	ok, err := r.Byte()
	if err != nil {
		return watcher.Value{}, watcher.ModeInvalid, false, err
	}
	return v, m, ok != 0, nil
}
