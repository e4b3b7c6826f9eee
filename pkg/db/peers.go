package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const peersLogPrefix = "db:peers"

// PeerRow is a row of the watcher_peers table.
type PeerRow struct {
	ID        int       `json:"id"`
	Service   string    `json:"service"`
	Address   string    `json:"address"`
	URL       string    `json:"url"`
	Load      float64   `json:"load"`
	Version   string    `json:"version"`
	Resources []string  `json:"resources"`
	Created   time.Time `json:"created"`
	Modified  time.Time `json:"modified"`
}

// Repository provides access to the watcher_peers table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const peerColumns = `id, service, address, url, load, version, resources, created, modified`

// ListPeers returns the peers of service in registration order. An empty service lists all.
func (r *Repository) ListPeers(ctx context.Context, service string) ([]PeerRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+peerColumns+`
		 FROM watcher_peers
		 WHERE $1 = '' OR service = $1
		 ORDER BY position ASC`, service)
	if err != nil {
		return nil, fmt.Errorf("%s - ListPeers failed: %w", peersLogPrefix, err)
	}
	defer rows.Close()

	var out []PeerRow
	for rows.Next() {
		var p PeerRow
		if err := rows.Scan(&p.ID, &p.Service, &p.Address, &p.URL, &p.Load, &p.Version,
			&p.Resources, &p.Created, &p.Modified); err != nil {
			return nil, fmt.Errorf("%s - ListPeers scan failed: %w", peersLogPrefix, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - ListPeers rows: %w", peersLogPrefix, err)
	}
	return out, nil
}

// GetPeer returns the peer with id, or nil if there is none.
func (r *Repository) GetPeer(ctx context.Context, id int) (*PeerRow, error) {
	var p PeerRow
	err := r.pool.QueryRow(ctx,
		`SELECT `+peerColumns+` FROM watcher_peers WHERE id = $1`, id,
	).Scan(&p.ID, &p.Service, &p.Address, &p.URL, &p.Load, &p.Version, &p.Resources, &p.Created, &p.Modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - GetPeer failed: %w", peersLogPrefix, err)
	}
	return &p, nil
}

// UpsertPeer inserts p or updates the existing row with the same id. A peer keeps its
// registration position across updates.
func (r *Repository) UpsertPeer(ctx context.Context, p PeerRow) error {
	slog.Debug(fmt.Sprintf("%s - UpsertPeer id=%d address=%s", peersLogPrefix, p.ID, p.Address))

	resources := p.Resources
	if resources == nil {
		resources = []string{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO watcher_peers (id, service, address, url, load, version, resources)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   service = EXCLUDED.service,
		   address = EXCLUDED.address,
		   url = EXCLUDED.url,
		   load = EXCLUDED.load,
		   version = EXCLUDED.version,
		   resources = EXCLUDED.resources,
		   modified = now()`,
		p.ID, p.Service, p.Address, p.URL, p.Load, p.Version, resources)
	if err != nil {
		return fmt.Errorf("%s - UpsertPeer failed: %w", peersLogPrefix, err)
	}
	return nil
}

// UpdateLoad records a load report. It returns false if the peer is unknown.
func (r *Repository) UpdateLoad(ctx context.Context, id int, load float64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE watcher_peers SET load = $2, modified = now() WHERE id = $1`, id, load)
	if err != nil {
		return false, fmt.Errorf("%s - UpdateLoad failed: %w", peersLogPrefix, err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeletePeer removes the peer with id.
func (r *Repository) DeletePeer(ctx context.Context, id int) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM watcher_peers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%s - DeletePeer failed: %w", peersLogPrefix, err)
	}
	return nil
}

// DeleteStale removes peers that have not reported since before cutoff.
func (r *Repository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM watcher_peers WHERE modified < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s - DeleteStale failed: %w", peersLogPrefix, err)
	}
	return tag.RowsAffected(), nil
}
