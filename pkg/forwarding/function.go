package forwarding

import (
	"context"
	"fmt"

	"github.com/morezero/process-watchers/pkg/peers"
	"github.com/morezero/process-watchers/pkg/watcher"
)

// Function mounts a worker callable on the manager. Invoking the returned node runs the
// callable at remotePath on the peers its exposure hint selects. A GET on the node reports
// the argument signature like a local callable does.
func (f *Forwarder) Function(remotePath string, args []watcher.DataType, hint watcher.Exposure) (*watcher.Forwarding, error) {
	if hint == watcher.ExposeLocalOnly {
		return nil, fmt.Errorf("%s - %q is local only and cannot be forwarded", forwarderLogPrefix, remotePath)
	}
	if hint == watcher.ExposeOwner && (len(args) == 0 || args[0] != watcher.TypeString) {
		return nil, fmt.Errorf("%s - owner-routed %q needs a STRING resource as first argument", forwarderLogPrefix, remotePath)
	}
	fr := &functionRelayer{
		fwd:       f,
		path:      watcher.CleanPath(remotePath),
		signature: watcher.NewCallable(nil, args...),
		hint:      hint,
	}
	return watcher.NewForwarding(fr), nil
}

type functionRelayer struct {
	fwd       *Forwarder
	path      string
	signature *watcher.Callable
	hint      watcher.Exposure
}

// Describe implements watcher.Describer.
func (r *functionRelayer) Describe() (watcher.Value, watcher.Mode) {
	return r.signature.Signature(), watcher.ModeCallable
}

func (r *functionRelayer) Relay(ctx context.Context, req watcher.RelayRequest) <-chan watcher.RelayResult {
	if !watcher.IsEmptyPath(req.Path) {
		return failed(watcher.NewError(watcher.CodeNotFound, fmt.Sprintf("callable mount has no child %q", req.Path)))
	}
	if req.Op != watcher.OpSet || req.Legacy {
		return failed(watcher.NewError(watcher.CodeTypeMismatch, "callable mounts are invoked with a typed SET"))
	}
	if err := r.signature.CheckArgs(req.Value); err != nil {
		return failed(err)
	}

	targets, err := r.targets(req.Value)
	if err != nil {
		return failed(err)
	}
	targets = r.fwd.compatible(targets)
	if len(targets) == 0 {
		return failed(watcher.NewError(watcher.CodeTargetResolutionFailure,
			fmt.Sprintf("no live peer for %s call of %q", r.hint, r.path)))
	}
	req.Path = r.path
	return r.fwd.dispatch(ctx, req, targets)
}

func (r *functionRelayer) targets(args watcher.Value) ([]peers.Peer, error) {
	all := r.fwd.dir.Peers()
	switch r.hint {
	case watcher.ExposeAll:
		return all, nil
	case watcher.ExposeLeastLoaded:
		if p, ok := leastLoaded(all, r.fwd.tieBreak); ok {
			return []peers.Peer{p}, nil
		}
		return nil, nil
	case watcher.ExposeOwner:
		resource := args.Tuple[0].Str
		p, ok := peers.Owner(r.fwd.dir, resource)
		if !ok {
			return nil, watcher.NewError(watcher.CodeTargetResolutionFailure, fmt.Sprintf("no peer owns %q", resource))
		}
		return []peers.Peer{p}, nil
	}
	return nil, watcher.NewError(watcher.CodeTargetResolutionFailure, fmt.Sprintf("%s callables are not forwarded", r.hint))
}
