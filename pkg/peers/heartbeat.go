package peers

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/process-watchers/pkg/commsutil"
	"github.com/morezero/process-watchers/pkg/events"
)

const heartbeatLogPrefix = "peers:heartbeat"

// HeartbeatListener keeps a MemoryDirectory current from worker load reports and optionally
// persists them.
type HeartbeatListener struct {
	dir     *MemoryDirectory
	store   PeerStore
	service string
	self    int
	hasSelf bool
}

// NewHeartbeatListener creates a listener for reports of service. An empty service accepts
// every report. store may be nil.
func NewHeartbeatListener(dir *MemoryDirectory, store PeerStore, service string) *HeartbeatListener {
	return &HeartbeatListener{dir: dir, store: store, service: service}
}

// IgnoreSelf drops reports from peer id, the local process, so it never forwards to itself.
func (h *HeartbeatListener) IgnoreSelf(id int) *HeartbeatListener {
	h.self, h.hasSelf = id, true
	return h
}

// Handle applies one load report. A report without an address only updates the load of a
// known peer.
func (h *HeartbeatListener) Handle(ctx context.Context, r *events.LoadReport) {
	if r == nil {
		return
	}
	if h.service != "" && r.Service != h.service {
		return
	}
	if h.hasSelf && r.PeerID == h.self {
		return
	}
	if r.Address == "" {
		h.updateLoad(ctx, r)
		return
	}
	p := Peer{ID: r.PeerID, Address: r.Address, URL: r.URL, Load: r.Load, Version: r.Version, Resources: r.Resources}
	h.dir.Upsert(p)

	if h.store == nil {
		return
	}
	if err := h.store.UpsertPeer(ctx, ToRow(p, r.Service)); err != nil {
		slog.Warn(fmt.Sprintf("%s - persisting peer %d: %v", heartbeatLogPrefix, r.PeerID, err))
	}
}

// Subscribe listens for reports on subject (commsutil.SubjectLoad when empty).
func (h *HeartbeatListener) Subscribe(ctx context.Context, nc *comms.Conn, subject string) (*comms.Subscription, error) {
	if subject == "" {
		subject = commsutil.SubjectLoad
	}
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		report, err := commsutil.DecodePayload[events.LoadReport](msg.Data)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - dropping malformed report: %v", heartbeatLogPrefix, err))
			return
		}
		h.Handle(ctx, &report)
	})
	if err != nil {
		return nil, fmt.Errorf("%s - subscribe %s: %w", heartbeatLogPrefix, subject, err)
	}
	slog.Info(fmt.Sprintf("%s - listening for load reports on %s", heartbeatLogPrefix, subject))
	return sub, nil
}

func (h *HeartbeatListener) updateLoad(ctx context.Context, r *events.LoadReport) {
	if !h.dir.SetLoad(r.PeerID, r.Load) {
		slog.Debug(fmt.Sprintf("%s - load for unknown peer %d ignored", heartbeatLogPrefix, r.PeerID))
		return
	}
	if h.store == nil {
		return
	}
	if _, err := h.store.UpdateLoad(ctx, r.PeerID, r.Load); err != nil {
		slog.Warn(fmt.Sprintf("%s - persisting load of peer %d: %v", heartbeatLogPrefix, r.PeerID, err))
	}
}
