package forwarding

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/morezero/process-watchers/pkg/peers"
	"github.com/morezero/process-watchers/pkg/watcher"
	"github.com/morezero/process-watchers/pkg/wire"
)

const forwarderLogPrefix = "forwarding:forwarder"

// DefaultTimeout bounds a single peer call when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// Caller delivers one request packet to a peer and returns its reply packet.
type Caller interface {
	Call(ctx context.Context, peer peers.Peer, packet []byte) ([]byte, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, peer peers.Peer, packet []byte) ([]byte, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, peer peers.Peer, packet []byte) ([]byte, error) {
	return f(ctx, peer, packet)
}

// Options configures a Forwarder.
type Options struct {
	// Timeout bounds each peer call. Zero means DefaultTimeout.
	Timeout  time.Duration
	TieBreak TieBreak
	// MinProtocol is the lowest watcher protocol version a peer must advertise. Peers that
	// advertise nothing are assumed current. Empty disables the check.
	MinProtocol string
}

// Forwarder relays requests below a forwarding mount to the peers named by the first path
// segment. It implements watcher.Relayer.
type Forwarder struct {
	dir        peers.Directory
	caller     Caller
	tieBreak   TieBreak
	constraint *semver.Constraints
	timeout    atomic.Int64
	seq        atomic.Uint32
}

// NewForwarder creates a forwarder over dir.
func NewForwarder(dir peers.Directory, caller Caller, opts Options) (*Forwarder, error) {
	f := &Forwarder{dir: dir, caller: caller, tieBreak: opts.TieBreak}
	if opts.MinProtocol != "" {
		c, err := semver.NewConstraint(">= " + opts.MinProtocol)
		if err != nil {
			return nil, fmt.Errorf("%s - invalid minimum protocol %q: %w", forwarderLogPrefix, opts.MinProtocol, err)
		}
		f.constraint = c
	}
	f.SetTimeout(opts.Timeout)
	return f, nil
}

// Timeout returns the per-peer call timeout.
func (f *Forwarder) Timeout() time.Duration { return time.Duration(f.timeout.Load()) }

// SetTimeout changes the per-peer call timeout. Non-positive values restore the default.
func (f *Forwarder) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	f.timeout.Store(int64(d))
}

// Relay implements watcher.Relayer. req.Path starts with the selector segment.
func (f *Forwarder) Relay(ctx context.Context, req watcher.RelayRequest) <-chan watcher.RelayResult {
	segment, rest := watcher.SplitPath(req.Path)
	if watcher.IsEmptyPath(rest) {
		return failed(watcher.NewError(watcher.CodeTargetResolutionFailure,
			fmt.Sprintf("nothing to forward after selector %q", segment)))
	}
	sel, err := ParseSelector(segment)
	if err != nil {
		return failed(watcher.NewError(watcher.CodeTargetResolutionFailure, err.Error()))
	}

	targets, warnings := Resolve(f.dir.Peers(), sel, ResolveOptions{TieBreak: f.tieBreak})
	for _, w := range warnings {
		slog.Warn(fmt.Sprintf("%s - selector %s: %s", forwarderLogPrefix, sel, w))
	}
	targets = f.compatible(targets)
	if len(targets) == 0 {
		return failed(watcher.NewError(watcher.CodeTargetResolutionFailure,
			fmt.Sprintf("selector %q names no live peer", segment)))
	}

	slog.Debug(fmt.Sprintf("%s - %s %q to %d peers", forwarderLogPrefix, req.Op, rest, len(targets)))
	req.Path = rest
	return f.dispatch(ctx, req, targets)
}

// compatible drops peers whose advertised protocol is too old or unparsable.
func (f *Forwarder) compatible(ps []peers.Peer) []peers.Peer {
	if f.constraint == nil {
		return ps
	}
	out := make([]peers.Peer, 0, len(ps))
	for _, p := range ps {
		if p.Version == "" {
			out = append(out, p)
			continue
		}
		v, err := semver.NewVersion(p.Version)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - skipping peer %d: bad version %q: %v", forwarderLogPrefix, p.ID, p.Version, err))
			continue
		}
		if !f.constraint.Check(v) {
			slog.Warn(fmt.Sprintf("%s - skipping peer %d: protocol %s is not %s", forwarderLogPrefix, p.ID, v, f.constraint))
			continue
		}
		out = append(out, p)
	}
	return out
}

// dispatch sends req to every target and returns the collector's single result.
func (f *Forwarder) dispatch(ctx context.Context, req watcher.RelayRequest, targets []peers.Peer) <-chan watcher.RelayResult {
	c := NewCollector(req.Op, len(targets))

	msg := messageFor(req)
	seq := f.seq.Add(1)
	packet, err := wire.EncodeRequest(wire.Request{Msg: msg, Seq: seq, Path: req.Path, Text: req.Text, Value: req.Value})
	if err != nil {
		for _, p := range targets {
			c.Deliver(Outcome{Peer: p, Err: err})
		}
		return c.Result()
	}

	timeout := f.Timeout()
	for _, p := range targets {
		go func(p peers.Peer) {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			o := f.call(cctx, p, msg, seq, packet)
			if o.Err != nil && msg.Version() == 1 {
				o.Records = []watcher.Record{{Path: req.Path, Doc: watcher.AsError(o.Err).Error()}}
			}
			c.Deliver(o)
		}(p)
	}
	return c.Result()
}

func (f *Forwarder) call(ctx context.Context, p peers.Peer, msg wire.Msg, seq uint32, packet []byte) Outcome {
	resp, err := f.caller.Call(ctx, p, packet)
	if err != nil {
		return Outcome{Peer: p, Err: watcher.NewError(watcher.CodePeerUnreachable, err.Error())}
	}
	rep, err := wire.DecodeReply(resp)
	if err != nil {
		return Outcome{Peer: p, Err: err}
	}
	if rep.Msg != msg || rep.Seq != seq {
		return Outcome{Peer: p, Err: watcher.NewError(watcher.CodeDecodeError,
			fmt.Sprintf("reply %s #%d does not match request %s #%d", rep.Msg, rep.Seq, msg, seq))}
	}
	o, err := decodeOutcome(msg, rep.Body)
	if err != nil {
		return Outcome{Peer: p, Err: err}
	}
	o.Peer = p
	return o
}

var errPeerRejected = watcher.NewError(watcher.CodeRemote, "peer reported failure")

func decodeOutcome(msg wire.Msg, body []byte) (Outcome, error) {
	switch msg {
	case wire.MsgTell, wire.MsgSetTell:
		return decodeRecords(msg, body)
	case wire.MsgSet2:
		v, mode, ok, err := wire.DecodeSetReply(body)
		if err != nil {
			return Outcome{}, err
		}
		if !ok {
			return Outcome{}, errPeerRejected
		}
		return Outcome{Value: v, Mode: mode, OK: true}, nil
	case wire.MsgChildren2:
		if wire.IsFailure(body) {
			return Outcome{}, errPeerRejected
		}
		children, err := wire.DecodeChildren(body, false)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Children: children, Mode: watcher.ModeDirectory}, nil
	default:
		if wire.IsFailure(body) {
			return Outcome{}, errPeerRejected
		}
		v, mode, err := wire.DecodeValue(body)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Value: v, Mode: mode}, nil
	}
}

// decodeRecords reads a legacy TELL reply. A failed request answers with a single record
// whose value is empty and whose doc holds the peer's error.
func decodeRecords(msg wire.Msg, body []byte) (Outcome, error) {
	records, err := wire.DecodeRecords(body, true)
	if err != nil {
		return Outcome{}, err
	}
	if len(records) == 0 {
		if msg.Op() == watcher.OpSet {
			return Outcome{}, errPeerRejected
		}
		return Outcome{Value: watcher.TupleValue(), Mode: watcher.ModeDirectory}, nil
	}
	if len(records) == 1 && records[0].Value == "" {
		if perr, ok := watcher.ParseError(records[0].Doc); ok {
			return Outcome{}, perr
		}
	}

	o := Outcome{Mode: watcher.ModeReadOnly, OK: msg.Op() == watcher.OpSet}
	if o.OK {
		o.Mode = watcher.ModeReadWrite
	}
	vs := make([]watcher.Value, len(records))
	o.Records = make([]watcher.Record, len(records))
	for i, r := range records {
		vs[i] = watcher.StringValue(r.Value)
		o.Records[i] = watcher.Record{Path: r.Path, Value: r.Value, Doc: r.Doc}
	}
	if len(vs) == 1 {
		o.Value = vs[0]
	} else {
		o.Value = watcher.TupleValue(vs...)
		o.Mode = watcher.ModeDirectory
	}
	return o, nil
}

// messageFor picks the packet a peer receives. Legacy requests stay on v1 TELL messages:
// a SET's text is parsed against the peer's own leaf type, a GET expands directories into
// leaf records, and the doc field carries the peer's error when it fails.
func messageFor(req watcher.RelayRequest) wire.Msg {
	switch {
	case req.Op == watcher.OpChildren:
		return wire.MsgChildren2
	case req.Op == watcher.OpSet && req.Legacy:
		return wire.MsgSetTell
	case req.Op == watcher.OpSet:
		return wire.MsgSet2
	case req.Legacy:
		return wire.MsgTell
	default:
		return wire.MsgGet2
	}
}

func failed(err error) <-chan watcher.RelayResult {
	slog.Warn(fmt.Sprintf("%s - %v", forwarderLogPrefix, err))
	ch := make(chan watcher.RelayResult, 1)
	ch <- watcher.RelayResult{Value: watcher.Unknown(), Mode: watcher.ModeReadOnly, Err: err}
	close(ch)
	return ch
}
