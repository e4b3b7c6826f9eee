package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/process-watchers/pkg/events"
	"github.com/morezero/process-watchers/pkg/request"
	"github.com/morezero/process-watchers/pkg/watcher"
	"github.com/morezero/process-watchers/pkg/wire"
)

const logPrefix = "dispatcher:dispatch"

// DefaultTimeout bounds how long a dispatched request may wait for relayed replies.
const DefaultTimeout = 10 * time.Second

// ErrRateLimited is the failure given to packets refused by admission control.
var ErrRateLimited = watcher.NewError(watcher.CodeRateLimited, "request rate exceeded")

// Options configures a Dispatcher.
type Options struct {
	Service   string
	PeerID    int
	Publisher events.EventPublisher
	Timeout   time.Duration
}

// Dispatcher turns request packets into reply packets against one watcher tree.
type Dispatcher struct {
	registry  *watcher.Registry
	publisher events.EventPublisher
	service   string
	peerID    int
	timeout   time.Duration
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(reg *watcher.Registry, opts Options) *Dispatcher {
	d := &Dispatcher{
		registry:  reg,
		publisher: opts.Publisher,
		service:   opts.Service,
		peerID:    opts.PeerID,
		timeout:   opts.Timeout,
	}
	if d.publisher == nil {
		d.publisher = &events.NoOpPublisher{}
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	return d
}

// Dispatch executes one request packet and returns its reply packet. A packet whose header
// cannot be read has no reply and yields an error; a malformed body gets the failure reply
// of its message.
func (d *Dispatcher) Dispatch(ctx context.Context, packet []byte) ([]byte, error) {
	req, err := wire.DecodeRequest(packet)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - malformed packet: %v", logPrefix, err))
		return d.Refuse(packet, err)
	}
	return d.execute(ctx, req).Reply(), nil
}

// Refuse answers packet with the failure reply of its message without executing it.
func (d *Dispatcher) Refuse(packet []byte, reason error) ([]byte, error) {
	msg, seq, err := wire.PeekHeader(packet)
	if err != nil {
		return nil, fmt.Errorf("%s - unreadable packet: %w", logPrefix, err)
	}
	slog.Debug(fmt.Sprintf("%s - refusing %s seq=%d: %v", logPrefix, msg, seq, reason))
	pr := request.New(wire.Request{Msg: msg, Seq: seq})
	pr.Reject(reason)
	return pr.Reply(), nil
}

// execute runs req to completion. Relayed requests are abandoned with a failure once the
// dispatch timeout passes.
func (d *Dispatcher) execute(ctx context.Context, req wire.Request) *request.PathRequest {
	slog.Debug(fmt.Sprintf("%s - %s seq=%d path=%q", logPrefix, req.Msg, req.Seq, req.Path))

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	pr := request.New(req).OnSet(func(path string, v watcher.Value) {
		d.changed(ctx, path, v)
	})
	pr.Execute(ctx, d.registry)
	if _, err := pr.Wait(ctx); err != nil {
		// The relay watches the same context and fails the request right after it ends.
		<-pr.Done()
	}
	return pr
}

func (d *Dispatcher) changed(ctx context.Context, path string, v watcher.Value) {
	event := &events.WatcherChangedEvent{
		Service:   d.service,
		PeerID:    d.peerID,
		Path:      path,
		Type:      v.Type.String(),
		Value:     v.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := d.publisher.PublishChanged(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - publishing change of %q: %v", logPrefix, path, err))
	}
}
