package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearPeers removes every row from watcher_peers. The schema is kept.
func ClearPeers(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing watcher_peers", clearLogPrefix))

	if _, err := pool.Exec(ctx, `TRUNCATE TABLE watcher_peers RESTART IDENTITY`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Peers cleared", clearLogPrefix))
	return nil
}
