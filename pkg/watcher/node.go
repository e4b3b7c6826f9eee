package watcher

import (
	"fmt"
	"sync/atomic"
)

// Node is one element of the watcher tree. The set of implementations is closed:
// *Leaf, *Directory, *Sequence, *Map, *Dereference, *Callable and *Forwarding.
//
// Nodes are schemas. The value they expose comes from an instance context handed down
// during resolution, so one subtree can serve every element of a collection.
type Node interface {
	Mode() Mode
	Doc() string
	node()
}

// Leaf holds or computes one typed value through bound accessors.
type Leaf struct {
	dataType DataType
	width    int
	doc      string
	get      func(inst any) Value
	set      func(inst any, v Value) error
}

// NewLeaf creates a leaf from raw accessors. A nil set makes the leaf READ_ONLY.
// The setter receives a value already checked against dataType.
func NewLeaf(dt DataType, width int, get func(inst any) Value, set func(inst any, v Value) error) *Leaf {
	return &Leaf{dataType: dt, width: width, get: get, set: set}
}

func (l *Leaf) node() {}

func (l *Leaf) Mode() Mode {
	if l.set != nil {
		return ModeReadWrite
	}
	return ModeReadOnly
}

func (l *Leaf) Doc() string { return l.doc }

// DataType returns the declared wire tag and width.
func (l *Leaf) DataType() (DataType, int) { return l.dataType, l.width }

// WithDoc sets the description reported by __doc__.
func (l *Leaf) WithDoc(doc string) *Leaf {
	l.doc = doc
	return l
}

func (l *Leaf) value(inst any) Value {
	if l.get == nil {
		return Unknown()
	}
	return l.get(inst)
}

func (l *Leaf) store(inst any, v Value) error {
	if v.Type != l.dataType {
		return typeMismatch(fmt.Sprintf("cannot store %s into %s", v.Type, l.dataType))
	}
	return l.set(inst, v)
}

// ReadOnly exposes a getter that ignores the instance context.
func ReadOnly[T Scalar](get func() T) *Leaf {
	dt, w := DataTypeOf[T]()
	return NewLeaf(dt, w, func(any) Value { return ValueOf(get()) }, nil)
}

// ReadWrite exposes a getter/setter pair that ignores the instance context.
func ReadWrite[T Scalar](get func() T, set func(T)) *Leaf {
	dt, w := DataTypeOf[T]()
	return NewLeaf(dt, w,
		func(any) Value { return ValueOf(get()) },
		func(_ any, v Value) error {
			x, err := AsScalar[T](v)
			if err != nil {
				return err
			}
			set(x)
			return nil
		})
}

// Member exposes a value of the instance I. This replaces per-instance offsets: the same
// leaf serves every element of a Sequence or Map. A nil set makes it READ_ONLY.
func Member[I any, T Scalar](get func(I) T, set func(I, T)) *Leaf {
	dt, w := DataTypeOf[T]()
	l := NewLeaf(dt, w, func(inst any) Value {
		i, ok := inst.(I)
		if !ok {
			return Unknown()
		}
		return ValueOf(get(i))
	}, nil)
	if set != nil {
		l.set = func(inst any, v Value) error {
			i, ok := inst.(I)
			if !ok {
				return typeMismatch(fmt.Sprintf("instance is %T", inst))
			}
			x, err := AsScalar[T](v)
			if err != nil {
				return err
			}
			set(i, x)
			return nil
		}
	}
	return l
}

// Atomic32 exposes an atomic counter as a 4-byte INT.
func Atomic32(c *atomic.Int32, writable bool) *Leaf {
	if !writable {
		return ReadOnly(c.Load)
	}
	return ReadWrite(c.Load, c.Store)
}

// Atomic64 exposes an atomic counter as an 8-byte INT.
func Atomic64(c *atomic.Int64, writable bool) *Leaf {
	if !writable {
		return ReadOnly(c.Load)
	}
	return ReadWrite(c.Load, c.Store)
}

// docLeaf is the synthetic READ_ONLY leaf addressed by a trailing __doc__ segment.
func docLeaf(n Node) *Leaf {
	doc := n.Doc()
	return NewLeaf(TypeString, 0, func(any) Value { return StringValue(doc) }, nil).
		WithDoc("description of the parent watcher")
}
