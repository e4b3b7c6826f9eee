// Package request executes one decoded watcher request against a registry and builds its
// reply. Local resolution completes synchronously; requests that cross a forwarding mount
// complete when the relay answers.
package request

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/process-watchers/pkg/watcher"
	"github.com/morezero/process-watchers/pkg/wire"
)

const logPrefix = "request:request"

// State is the lifecycle position of a PathRequest.
type State uint8

const (
	StateCreated State = iota
	StateGet
	StateSet
	StateChildren
	StateExpanding
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateGet:
		return "GET"
	case StateSet:
		return "SET"
	case StateChildren:
		return "CHILDREN"
	case StateExpanding:
		return "EXPANDING_CHILDREN"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return "CREATED"
	}
}

// Terminal reports whether s is COMPLETE or FAILED.
func (s State) Terminal() bool { return s == StateComplete || s == StateFailed }

// PathRequest is one in-flight query or mutation. It reaches exactly one terminal state and
// Done is closed exactly once, when it does.
type PathRequest struct {
	msg      wire.Msg
	seq      uint32
	origPath string
	text     string
	value    watcher.Value

	mu      sync.Mutex
	path    string
	state   State
	pending int
	body    []byte
	err     error

	done chan struct{}
	once sync.Once

	onSet func(path string, v watcher.Value)
}

// New creates a request from a decoded packet.
func New(req wire.Request) *PathRequest {
	path := watcher.CleanPath(req.Path)
	return &PathRequest{
		msg:      req.Msg,
		seq:      req.Seq,
		origPath: path,
		path:     path,
		text:     req.Text,
		value:    req.Value,
		done:     make(chan struct{}),
	}
}

// OnSet registers a hook run after every successful local SET with the new value.
func (r *PathRequest) OnSet(fn func(path string, v watcher.Value)) *PathRequest {
	r.onSet = fn
	return r
}

// Msg returns the request message.
func (r *PathRequest) Msg() wire.Msg { return r.msg }

// Seq returns the request sequence number.
func (r *PathRequest) Seq() uint32 { return r.seq }

// Path returns the path currently being resolved. During v1 directory expansion this is the
// substituted child path.
func (r *PathRequest) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// State returns the current state.
func (r *PathRequest) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Pending returns the number of outstanding relays.
func (r *PathRequest) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Err returns the error the request failed with, if any.
func (r *PathRequest) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Done is closed when the request reaches COMPLETE or FAILED.
func (r *PathRequest) Done() <-chan struct{} { return r.done }

// Body returns the reply payload. It is only meaningful after Done is closed.
func (r *PathRequest) Body() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body
}

// Reply returns the encoded reply packet.
func (r *PathRequest) Reply() []byte {
	return wire.EncodeReply(wire.Reply{Msg: r.msg, Seq: r.seq, Body: r.Body()})
}

// Wait blocks until the request completes or ctx ends and returns the reply packet.
func (r *PathRequest) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-r.done:
		return r.Reply(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s - waiting for %s seq=%d: %w", logPrefix, r.msg, r.seq, ctx.Err())
	}
}

// Execute resolves the request against reg. It returns once the request is terminal or,
// for relayed requests, once the relay has been dispatched.
func (r *PathRequest) Execute(ctx context.Context, reg *watcher.Registry) {
	op := r.msg.Op()
	switch op {
	case watcher.OpSet:
		r.transition(StateSet)
	case watcher.OpChildren:
		r.transition(StateChildren)
	default:
		r.transition(StateGet)
	}

	if f, rest, ok := reg.Route(r.origPath); ok && (rest != "" || op == watcher.OpSet) {
		r.relay(ctx, f, rest)
		return
	}

	var err error
	switch {
	case op == watcher.OpChildren:
		err = r.children(reg)
	case op == watcher.OpSet && r.msg.Version() == 1:
		err = r.setV1(reg)
	case op == watcher.OpSet:
		err = r.setV2(ctx, reg)
	case r.msg.Version() == 1:
		err = r.getV1(reg)
	default:
		err = r.getV2(reg)
	}
	if err != nil {
		r.fail(err)
	}
}

func (r *PathRequest) transition(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.Terminal() {
		r.state = s
	}
}

// complete sets the reply and the terminal state. Only the first call has any effect.
func (r *PathRequest) complete(body []byte, err error) {
	r.once.Do(func() {
		r.mu.Lock()
		r.body = body
		r.err = err
		if err != nil {
			r.state = StateFailed
		} else {
			r.state = StateComplete
		}
		r.mu.Unlock()
		close(r.done)
	})
}

// Reject fails a request that cannot be executed, such as one whose body did not decode.
func (r *PathRequest) Reject(err error) { r.fail(err) }

// fail completes the request with the well-formed failure reply for its message.
func (r *PathRequest) fail(err error) {
	slog.Debug(fmt.Sprintf("%s - %s %q failed: %v", logPrefix, r.msg, r.origPath, err))
	r.complete(failureBody(r.msg, r.origPath, err), err)
}

func failureBody(msg wire.Msg, path string, err error) []byte {
	if msg.Version() == 1 {
		// Peers relaying a TELL recognise this record by its empty value and coded doc.
		return wire.AppendRecord(nil, wire.Record{Path: path, Doc: watcher.AsError(err).Error()}, msg.Tell())
	}
	b := wire.FailureFrame()
	if msg.Op() == watcher.OpSet {
		b = append(b, 0)
	}
	if msg.Tell() && msg.Op() != watcher.OpChildren {
		b, _ = wire.AppendString(b, "")
	}
	return b
}

func (r *PathRequest) getV2(reg *watcher.Registry) error {
	v, mode, doc, err := reg.Get(r.origPath)
	if err != nil {
		return err
	}
	b, err := wire.AppendValue(nil, v, mode)
	if err != nil {
		return err
	}
	if r.msg.Tell() {
		if b, err = wire.AppendString(b, doc); err != nil {
			return err
		}
	}
	r.complete(b, nil)
	return nil
}

func (r *PathRequest) setV2(ctx context.Context, reg *watcher.Registry) error {
	mode, err := reg.Lookup(r.origPath)
	if err != nil {
		return err
	}

	var v watcher.Value
	var doc string
	if mode == watcher.ModeCallable {
		if v, err = reg.Call(ctx, r.origPath, r.value); err != nil {
			return err
		}
		_, _, doc, _ = reg.Get(r.origPath)
	} else {
		if err := reg.Set(r.origPath, r.value); err != nil {
			return err
		}
		if v, mode, doc, err = reg.Get(r.origPath); err != nil {
			return err
		}
		r.notifySet(v)
	}

	b, err := wire.AppendSetReply(nil, v, mode, true)
	if err != nil {
		return err
	}
	if r.msg.Tell() {
		if b, err = wire.AppendString(b, doc); err != nil {
			return err
		}
	}
	r.complete(b, nil)
	return nil
}

func (r *PathRequest) children(reg *watcher.Registry) error {
	list := &wire.ChildList{}
	if err := reg.Enumerate(r.origPath, list); err != nil {
		return err
	}
	b, err := wire.AppendChildren(nil, list.Children, r.msg.Tell())
	if err != nil {
		return err
	}
	r.complete(b, nil)
	return nil
}

func (r *PathRequest) setV1(reg *watcher.Registry) error {
	if err := reg.SetString(r.origPath, r.text); err != nil {
		return err
	}
	if v, _, _, err := reg.Get(r.origPath); err == nil {
		r.notifySet(v)
	}
	return r.getV1(reg)
}

func (r *PathRequest) notifySet(v watcher.Value) {
	if r.onSet != nil {
		r.onSet(r.origPath, v)
	}
}
