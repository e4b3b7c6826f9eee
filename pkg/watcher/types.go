// Package watcher implements the path-addressed watcher tree: typed values, node variants,
// path resolution and the registry that owns a rooted tree.
package watcher

import (
	"fmt"
	"strconv"
	"strings"
)

// DataType is the wire tag carried alongside every value.
type DataType uint8

const (
	TypeUnknown DataType = 0
	TypeInt     DataType = 1
	TypeUint    DataType = 2
	TypeFloat   DataType = 3
	TypeBool    DataType = 4
	TypeString  DataType = 5
	TypeTuple   DataType = 6
	TypeType    DataType = 7
)

func (t DataType) String() string {
	switch t {
	case TypeInt:
		return "INT"
	case TypeUint:
		return "UINT"
	case TypeFloat:
		return "FLOAT"
	case TypeBool:
		return "BOOL"
	case TypeString:
		return "STRING"
	case TypeTuple:
		return "TUPLE"
	case TypeType:
		return "TYPE"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether t is one of the known tags.
func (t DataType) Valid() bool {
	return t <= TypeType
}

// Numeric reports whether values of t carry a 4 or 8 byte width.
func (t DataType) Numeric() bool {
	return t == TypeInt || t == TypeUint || t == TypeFloat
}

// Mode classifies a node. It follows from the node kind, never from its current value.
type Mode uint8

const (
	ModeInvalid   Mode = 0
	ModeReadOnly  Mode = 1
	ModeReadWrite Mode = 2
	ModeDirectory Mode = 3
	ModeCallable  Mode = 4
)

func (m Mode) String() string {
	switch m {
	case ModeReadOnly:
		return "READ_ONLY"
	case ModeReadWrite:
		return "READ_WRITE"
	case ModeDirectory:
		return "DIRECTORY"
	case ModeCallable:
		return "CALLABLE"
	default:
		return "INVALID"
	}
}

// DirectoryMarker is the value reported by a GET on any container node.
const DirectoryMarker = "<DIR>"

// Value is a tagged union of the types a watcher can transfer.
// Width is 4 or 8 for INT, UINT and FLOAT values and 0 otherwise.
type Value struct {
	Type    DataType
	Width   int
	Int     int64
	Uint    uint64
	Float   float64
	Bool    bool
	Str     string
	Tuple   []Value
	TypeTag DataType
}

func IntValue(v int64) Value     { return Value{Type: TypeInt, Width: 8, Int: v} }
func Int32Value(v int32) Value   { return Value{Type: TypeInt, Width: 4, Int: int64(v)} }
func UintValue(v uint64) Value   { return Value{Type: TypeUint, Width: 8, Uint: v} }
func Uint32Value(v uint32) Value { return Value{Type: TypeUint, Width: 4, Uint: uint64(v)} }
func FloatValue(v float64) Value { return Value{Type: TypeFloat, Width: 8, Float: v} }
func Float32Value(v float32) Value {
	return Value{Type: TypeFloat, Width: 4, Float: float64(v)}
}
func BoolValue(v bool) Value       { return Value{Type: TypeBool, Bool: v} }
func StringValue(v string) Value   { return Value{Type: TypeString, Str: v} }
func TypeValue(t DataType) Value   { return Value{Type: TypeType, TypeTag: t} }
func TupleValue(vs ...Value) Value { return Value{Type: TypeTuple, Tuple: vs} }

// Unknown is the value reported for anything unavailable.
func Unknown() Value { return Value{Type: TypeUnknown} }

// IsUnknown reports whether v carries no data.
func (v Value) IsUnknown() bool { return v.Type == TypeUnknown }

// Equal compares two values by type and content. Numeric widths are part of the value.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case TypeInt:
		return v.Width == o.Width && v.Int == o.Int
	case TypeUint:
		return v.Width == o.Width && v.Uint == o.Uint
	case TypeFloat:
		return v.Width == o.Width && v.Float == o.Float
	case TypeBool:
		return v.Bool == o.Bool
	case TypeString:
		return v.Str == o.Str
	case TypeType:
		return v.TypeTag == o.TypeTag
	case TypeTuple:
		if len(v.Tuple) != len(o.Tuple) {
			return false
		}
		for i := range v.Tuple {
			if !v.Tuple[i].Equal(o.Tuple[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String renders v the way the v1 protocol transfers it.
func (v Value) String() string {
	switch v.Type {
	case TypeInt:
		return strconv.FormatInt(v.Int, 10)
	case TypeUint:
		return strconv.FormatUint(v.Uint, 10)
	case TypeFloat:
		bits := 64
		if v.Width == 4 {
			bits = 32
		}
		return strconv.FormatFloat(v.Float, 'g', -1, bits)
	case TypeBool:
		return strconv.FormatBool(v.Bool)
	case TypeString:
		return v.Str
	case TypeType:
		return v.TypeTag.String()
	case TypeTuple:
		parts := make([]string, len(v.Tuple))
		for i, e := range v.Tuple {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	default:
		return ""
	}
}

// ParseValue converts a v1 string into a value of the given type and width.
func ParseValue(t DataType, width int, s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch t {
	case TypeInt:
		bits := 64
		if width == 4 {
			bits = 32
		}
		n, err := strconv.ParseInt(s, 10, bits)
		if err != nil {
			return Value{}, typeMismatch(fmt.Sprintf("cannot parse %q as %d-bit INT", s, bits))
		}
		return Value{Type: TypeInt, Width: widthOrDefault(width), Int: n}, nil
	case TypeUint:
		bits := 64
		if width == 4 {
			bits = 32
		}
		n, err := strconv.ParseUint(s, 10, bits)
		if err != nil {
			return Value{}, typeMismatch(fmt.Sprintf("cannot parse %q as %d-bit UINT", s, bits))
		}
		return Value{Type: TypeUint, Width: widthOrDefault(width), Uint: n}, nil
	case TypeFloat:
		bits := 64
		if width == 4 {
			bits = 32
		}
		f, err := strconv.ParseFloat(s, bits)
		if err != nil {
			return Value{}, typeMismatch(fmt.Sprintf("cannot parse %q as FLOAT", s))
		}
		return Value{Type: TypeFloat, Width: widthOrDefault(width), Float: f}, nil
	case TypeBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, typeMismatch(fmt.Sprintf("cannot parse %q as BOOL", s))
		}
		return BoolValue(b), nil
	case TypeString:
		return StringValue(s), nil
	default:
		return Value{}, typeMismatch(fmt.Sprintf("%s values cannot be set from a string", t))
	}
}

func widthOrDefault(w int) int {
	if w == 4 {
		return 4
	}
	return 8
}
