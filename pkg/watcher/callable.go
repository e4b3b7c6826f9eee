package watcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

const callableLogPrefix = "watcher:callable"

// Exposure tells the forwarding layer which peers should run a callable.
// The tree itself never reads it.
type Exposure uint8

const (
	ExposeLocalOnly Exposure = iota
	ExposeAll
	ExposeLeastLoaded
	ExposeOwner
)

func (e Exposure) String() string {
	switch e {
	case ExposeAll:
		return "all"
	case ExposeLeastLoaded:
		return "leastLoaded"
	case ExposeOwner:
		return "owner"
	default:
		return "localOnly"
	}
}

// Call is the invocation handed to a CallFunc. Anything written to Output or logged through
// Logger is returned to the caller as the textual part of the reply.
type Call struct {
	Args   []Value
	Output io.Writer
	Logger *slog.Logger
}

// CallFunc implements a callable watcher.
type CallFunc func(ctx context.Context, call *Call) (Value, error)

// Callable is a node that is invoked rather than read or written.
type Callable struct {
	doc      string
	args     []DataType
	fn       CallFunc
	exposure Exposure
}

// NewCallable creates a callable with the declared argument types.
func NewCallable(fn CallFunc, args ...DataType) *Callable {
	return &Callable{fn: fn, args: args}
}

func (c *Callable) node()       {}
func (c *Callable) Mode() Mode  { return ModeCallable }
func (c *Callable) Doc() string { return c.doc }

// WithDoc sets the description reported by __doc__.
func (c *Callable) WithDoc(doc string) *Callable {
	c.doc = doc
	return c
}

// WithExposure sets the forwarding hint.
func (c *Callable) WithExposure(e Exposure) *Callable {
	c.exposure = e
	return c
}

// Exposure returns the forwarding hint.
func (c *Callable) Exposure() Exposure { return c.exposure }

// Args returns the declared argument types.
func (c *Callable) Args() []DataType {
	out := make([]DataType, len(c.args))
	copy(out, c.args)
	return out
}

// Signature is the value reported by a GET on the callable: a TUPLE of TYPE values.
func (c *Callable) Signature() Value {
	vs := make([]Value, len(c.args))
	for i, a := range c.args {
		vs[i] = TypeValue(a)
	}
	return TupleValue(vs...)
}

// CheckArgs validates a TUPLE of arguments against the declared types.
func (c *Callable) CheckArgs(args Value) error {
	if args.Type != TypeTuple {
		return typeMismatch(fmt.Sprintf("callable arguments must be a TUPLE, got %s", args.Type))
	}
	if len(args.Tuple) != len(c.args) {
		return typeMismatch(fmt.Sprintf("callable takes %d arguments, got %d", len(c.args), len(args.Tuple)))
	}
	for i, a := range args.Tuple {
		if a.Type != c.args[i] {
			return typeMismatch(fmt.Sprintf("argument %d is %s, want %s", i, a.Type, c.args[i]))
		}
	}
	return nil
}

// Invoke runs the callable and returns TUPLE(output, result). A failing call yields UNKNOWN
// as its result; its error text is appended to the output.
func (c *Callable) Invoke(ctx context.Context, args Value) (Value, error) {
	if err := c.CheckArgs(args); err != nil {
		return Value{}, err
	}

	out := &syncBuffer{}
	capture := slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug})
	call := &Call{
		Args:   args.Tuple,
		Output: out,
		Logger: slog.New(teeHandler{capture, slog.Default().Handler()}),
	}

	result, err := c.run(ctx, call)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		result = Unknown()
	}
	return TupleValue(StringValue(out.String()), result), nil
}

func (c *Callable) run(ctx context.Context, call *Call) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - callable panicked: %v", callableLogPrefix, r))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if c.fn == nil {
		return Unknown(), nil
	}
	return c.fn(ctx, call)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// teeHandler sends records to the capture handler and to the process logger.
type teeHandler struct {
	capture slog.Handler
	local   slog.Handler
}

func (h teeHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.capture.Enabled(ctx, l) || h.local.Enabled(ctx, l)
}

func (h teeHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.capture.Handle(ctx, r.Clone())
	if h.local.Enabled(ctx, r.Level) {
		if lerr := h.local.Handle(ctx, r); err == nil {
			err = lerr
		}
	}
	return err
}

func (h teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{h.capture.WithAttrs(attrs), h.local.WithAttrs(attrs)}
}

func (h teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{h.capture.WithGroup(name), h.local.WithGroup(name)}
}
