package request

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/morezero/process-watchers/pkg/watcher"
	"github.com/morezero/process-watchers/pkg/wire"
)

// relay hands the part of the request beyond the forwarding mount to its relayer. The
// request stays pending until the relay yields its single result.
func (r *PathRequest) relay(ctx context.Context, f *watcher.Forwarding, rest string) {
	r.mu.Lock()
	r.pending++
	r.mu.Unlock()

	rr := watcher.RelayRequest{
		Op:     r.msg.Op(),
		Path:   rest,
		Value:  r.value,
		Text:   r.text,
		Legacy: r.msg.Version() == 1,
	}
	slog.Debug(fmt.Sprintf("%s - relaying %s %q as %q", logPrefix, r.msg, r.origPath, rest))
	results := f.Relay(ctx, rr)

	go func() {
		var res watcher.RelayResult
		select {
		case res = <-results:
		case <-ctx.Done():
			res = watcher.RelayResult{Err: watcher.ErrPeerUnreachable}
		}
		r.mu.Lock()
		r.pending--
		r.mu.Unlock()
		r.finishRelay(mountOf(r.origPath, rest), res)
	}()
}

// mountOf returns the path of the forwarding node that rest was relayed from.
func mountOf(path, rest string) string {
	return strings.TrimRight(strings.TrimSuffix(path, rest), "/")
}

func (r *PathRequest) finishRelay(mount string, res watcher.RelayResult) {
	if res.Err != nil {
		r.fail(res.Err)
		return
	}

	if r.msg.Version() == 1 {
		r.finishLegacyRelay(mount, res)
		return
	}

	var b []byte
	var err error
	switch r.msg.Op() {
	case watcher.OpChildren:
		b, err = wire.AppendChildren(nil, res.Children, r.msg.Tell())
	case watcher.OpSet:
		b, err = wire.AppendSetReply(nil, res.Value, res.Mode, res.OK)
	default:
		b, err = wire.AppendValue(nil, res.Value, res.Mode)
	}
	if err == nil && r.msg.Tell() && r.msg.Op() != watcher.OpChildren {
		b, err = wire.AppendString(b, "")
	}
	if err != nil {
		r.fail(err)
		return
	}
	r.complete(b, nil)
}

// finishLegacyRelay replies with the peers' leaf records, each addressed from this tree's
// root. A SET that no peer applied fails.
func (r *PathRequest) finishLegacyRelay(mount string, res watcher.RelayResult) {
	if r.msg.Op() == watcher.OpSet && !res.OK {
		r.fail(watcher.NewError(watcher.CodeRemote, "no peer applied the value: "+relayOutput(res)))
		return
	}
	if len(res.Records) == 0 {
		rec := wire.Record{Path: r.origPath, Value: res.Value.String()}
		r.complete(wire.AppendRecord(nil, rec, r.msg.Tell()), nil)
		return
	}
	var b []byte
	for _, rec := range res.Records {
		b = wire.AppendRecord(b, wire.Record{Path: watcher.JoinPath(mount, rec.Path), Value: rec.Value, Doc: rec.Doc}, r.msg.Tell())
	}
	r.complete(b, nil)
}

// relayOutput returns the merged text output of res on one line.
func relayOutput(res watcher.RelayResult) string {
	if res.Value.Type != watcher.TypeTuple || len(res.Value.Tuple) == 0 {
		return ""
	}
	return strings.ReplaceAll(strings.TrimSpace(res.Value.Tuple[0].Str), "\n", "; ")
}
