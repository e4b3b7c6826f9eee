package peers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/process-watchers/pkg/db"
)

const dbLogPrefix = "peers:db"

// PeerStore is the part of db.Repository the peer directory reads and writes.
type PeerStore interface {
	ListPeers(ctx context.Context, service string) ([]db.PeerRow, error)
	UpsertPeer(ctx context.Context, p db.PeerRow) error
	UpdateLoad(ctx context.Context, id int, load float64) (bool, error)
}

// DBDirectory mirrors the watcher_peers rows of one service into memory.
type DBDirectory struct {
	*MemoryDirectory
	store   PeerStore
	service string
}

// NewDBDirectory creates an empty directory over store. Call Refresh or Run to fill it.
func NewDBDirectory(store PeerStore, service string) *DBDirectory {
	return &DBDirectory{MemoryDirectory: NewMemoryDirectory(), store: store, service: service}
}

// Refresh replaces the in-memory peers with the stored ones.
func (d *DBDirectory) Refresh(ctx context.Context) error {
	rows, err := d.store.ListPeers(ctx, d.service)
	if err != nil {
		return fmt.Errorf("%s - refresh: %w", dbLogPrefix, err)
	}
	peers := make([]Peer, len(rows))
	for i, r := range rows {
		peers[i] = FromRow(r)
	}
	d.Replace(peers)
	slog.Debug(fmt.Sprintf("%s - refreshed %d peers for %q", dbLogPrefix, len(peers), d.service))
	return nil
}

// Run refreshes every interval until ctx ends. Failed refreshes keep the previous peers.
func (d *DBDirectory) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Refresh(ctx); err != nil {
				slog.Warn(fmt.Sprintf("%s - %v", dbLogPrefix, err))
			}
		}
	}
}

// FromRow converts a stored row.
func FromRow(r db.PeerRow) Peer {
	return Peer{ID: r.ID, Address: r.Address, URL: r.URL, Load: r.Load, Version: r.Version, Resources: r.Resources}
}

// ToRow converts a peer for storage under service.
func ToRow(p Peer, service string) db.PeerRow {
	return db.PeerRow{
		ID: p.ID, Service: service, Address: p.Address, URL: p.URL,
		Load: p.Load, Version: p.Version, Resources: p.Resources,
	}
}
