package watcher

import "fmt"

// Scalar lists the Go types a leaf can expose directly.
type Scalar interface {
	int | int32 | int64 | uint | uint32 | uint64 | float32 | float64 | bool | string
}

// DataTypeOf returns the wire tag and width for T.
func DataTypeOf[T Scalar]() (DataType, int) {
	var zero T
	switch any(zero).(type) {
	case int32:
		return TypeInt, 4
	case int, int64:
		return TypeInt, 8
	case uint32:
		return TypeUint, 4
	case uint, uint64:
		return TypeUint, 8
	case float32:
		return TypeFloat, 4
	case float64:
		return TypeFloat, 8
	case bool:
		return TypeBool, 0
	default:
		return TypeString, 0
	}
}

// ValueOf wraps a Go scalar.
func ValueOf[T Scalar](v T) Value {
	switch x := any(v).(type) {
	case int:
		return IntValue(int64(x))
	case int32:
		return Int32Value(x)
	case int64:
		return IntValue(x)
	case uint:
		return UintValue(uint64(x))
	case uint32:
		return Uint32Value(x)
	case uint64:
		return UintValue(x)
	case float32:
		return Float32Value(x)
	case float64:
		return FloatValue(x)
	case bool:
		return BoolValue(x)
	case string:
		return StringValue(x)
	}
	return Unknown()
}

// AsScalar converts v into T. The value must carry the same kind as T; its width may differ
// and an 8-byte value stored into a 4-byte target is truncated.
func AsScalar[T Scalar](v Value) (T, error) {
	var out T
	want, _ := DataTypeOf[T]()
	if v.Type != want {
		return out, typeMismatch(fmt.Sprintf("cannot store %s into %s", v.Type, want))
	}
	var r any
	switch any(out).(type) {
	case int:
		r = int(v.Int)
	case int32:
		r = int32(v.Int)
	case int64:
		r = v.Int
	case uint:
		r = uint(v.Uint)
	case uint32:
		r = uint32(v.Uint)
	case uint64:
		r = v.Uint
	case float32:
		r = float32(v.Float)
	case float64:
		r = v.Float
	case bool:
		r = v.Bool
	case string:
		r = v.Str
	}
	return r.(T), nil
}
