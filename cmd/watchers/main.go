// Package main is the entrypoint for process-watchers (binary name "watchers").
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/morezero/process-watchers/internal/config"
	"github.com/morezero/process-watchers/internal/server"
	"github.com/morezero/process-watchers/pkg/commsutil"
	"github.com/morezero/process-watchers/pkg/db"
)

const usage = `Usage: watchers [command]
       watchers serve                         Start a watcher process (NATS, HTTP, forwarding).
       watchers migrate up                    Run database migrations.
       watchers migrate down                  Roll back one migration (optional; not all migrations support down).
       watchers migrate status                Show migration status.
       watchers ensure-db [name]              Create database if missing (default name: watchers_test). Uses DATABASE_URL host/user.
       watchers clear                         Truncate the peer table; schema is preserved.
       watchers peers                         List peers stored for SERVICE_NAME.
       watchers prune [age]                   Delete stored peers not seen for age (default 5m).
       watchers get <subject> <path>          Read one watcher.
       watchers set <subject> <path> <value>  Write a watcher from its text form.
       watchers ls <subject> [path]           List the children of a container.
       watchers tree <subject> [path]         Print every leaf below path.

Commands:
  serve           (default) Start the watcher process.
  migrate up      Run database migrations only.
  migrate down    Roll back last migration (optional).
  migrate status  Show current migration status.
  ensure-db [name] Create database (e.g. watchers_test) on same host as DATABASE_URL; then run tests with that URL.
  clear           Truncate stored peers; schema preserved.
  get/set/ls/tree Query a running process on <subject>, e.g. watchers.game.1 or watchers.game
                  for any peer of the service. Paths below the forwarding mount (peers/all/...)
                  are relayed to the selected peers.

Environment: COMMS_URL, SERVICE_NAME, WATCHER_PEER_ID, PEER_SOURCE, DATABASE_URL (database commands),
MIGRATION_PATH, WATCHER_HTTP_ADDR (default 0.0.0.0:8080), WATCHER_REQUEST_TIMEOUT. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("watchers migrate: require subcommand (up, down, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("watchers migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("watchers migrate status: %v", err)
			}
		case "down":
			if err := runMigrateDown(); err != nil {
				log.Fatalf("watchers migrate down: %v", err)
			}
		default:
			log.Fatalf("watchers migrate: unknown subcommand %q (use up, down, status)", sub)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("watchers clear: %v", err)
		}
		return
	case "peers":
		if err := runPeers(); err != nil {
			log.Fatalf("watchers peers: %v", err)
		}
		return
	case "prune":
		age := 5 * time.Minute
		if len(args) > 1 {
			d, err := time.ParseDuration(args[1])
			if err != nil || d <= 0 {
				log.Fatalf("watchers prune: invalid age %q", args[1])
			}
			age = d
		}
		if err := runPrune(age); err != nil {
			log.Fatalf("watchers prune: %v", err)
		}
		return
	case "ensure-db":
		dbName := "watchers_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("watchers ensure-db: %v", err)
		}
		return
	case "get", "set", "ls", "tree":
		if err := runQuery(cmd, args[1:]); err != nil {
			log.Fatalf("watchers %s: %v", cmd, err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("watchers: %v", err)
	}
}

// openDB loads config and opens the peer database.
func openDB(ctx context.Context) (*config.Config, *db.Repository, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return nil, nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return cfg, db.NewRepository(pool), pool.Close, nil
}

func runMigrateUp() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return db.MigrationStatus(ctx, pool, cfg.MigrationPath)
}

func runMigrateDown() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return db.MigrationDown(ctx, pool, cfg.MigrationPath)
}

func runClear() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := db.ClearPeers(ctx, pool); err != nil {
		return fmt.Errorf("clear peers: %w", err)
	}
	return nil
}

func runPeers() error {
	ctx := context.Background()
	cfg, repo, closeDB, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	rows, err := repo.ListPeers(ctx, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("list peers: %w", err)
	}
	printPeers(os.Stdout, rows)
	return nil
}

func runPrune(age time.Duration) error {
	ctx := context.Background()
	_, repo, closeDB, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	n, err := repo.DeleteStale(ctx, time.Now().Add(-age))
	if err != nil {
		return fmt.Errorf("prune peers: %w", err)
	}
	fmt.Printf("Removed %d peers not seen for %s.\n", n, age)
	return nil
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	// Replace path with target database name; query (e.g. sslmode) is kept on u.RawQuery.
	u.Path = "/" + dbName
	targetURL := u.String()
	ctx := context.Background()
	if err := db.EnsureDatabase(ctx, targetURL); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}

func runQuery(cmd string, args []string) error {
	q, err := parseQuery(cmd, args)
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName+"-cli")
	if err != nil {
		return fmt.Errorf("connect NATS: %w", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()
	return q.run(ctx, nc, os.Stdout)
}

// parseQuery validates the arguments of get, set, ls and tree.
func parseQuery(cmd string, args []string) (*query, error) {
	bounds := map[string][2]int{"get": {2, 2}, "set": {3, 3}, "ls": {1, 2}, "tree": {1, 2}}[cmd]
	if len(args) < bounds[0] {
		return nil, fmt.Errorf("require %d arguments, got %d", bounds[0], len(args))
	}
	if len(args) > bounds[1] {
		return nil, fmt.Errorf("unexpected argument %s", strconv.Quote(args[bounds[1]]))
	}
	q := &query{cmd: cmd, subject: args[0]}
	if len(args) > 1 {
		q.path = args[1]
	}
	if cmd == "set" {
		q.value = args[2]
	}
	return q, nil
}
