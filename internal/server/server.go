// Package server orchestrates all components: NATS client, peer directory, forwarding,
// watcher tree, dispatcher and HTTP surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/morezero/process-watchers/internal/config"
	"github.com/morezero/process-watchers/pkg/commsutil"
	"github.com/morezero/process-watchers/pkg/db"
	"github.com/morezero/process-watchers/pkg/dispatcher"
	"github.com/morezero/process-watchers/pkg/events"
	"github.com/morezero/process-watchers/pkg/forwarding"
	"github.com/morezero/process-watchers/pkg/peers"
	"github.com/morezero/process-watchers/pkg/stdwatchers"
	"github.com/morezero/process-watchers/pkg/watcher"
)

const logPrefix = "server:server"

// Counter names kept under debug/counters.
const (
	counterRequests = "requests"
	counterRejected = "rejected"
	counterErrors   = "errors"
)

// Server is the process-watchers orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	pool       *pgxpool.Pool
	httpServer *http.Server

	reg       *watcher.Registry
	disp      *dispatcher.Dispatcher
	publisher events.EventPublisher
	directory *peers.MemoryDirectory
	forwarder *forwarding.Forwarder
	caller    *forwarding.CommsCaller

	levelVar *slog.LevelVar
	counters *stdwatchers.Counters
	limiter  *rate.Limiter
	served   atomic.Int64
	started  time.Time
	subs     []*comms.Subscription
	ready    atomic.Bool
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	// Setup structured logging; the level stays tunable through config/logLevel.
	levelVar := &slog.LevelVar{}
	levelVar.Set(parseLogLevel(cfg.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar})))

	slog.Info(fmt.Sprintf("%s - Starting process-watchers service=%s peer=%d", logPrefix, cfg.COMMSName, cfg.PeerID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", logPrefix, cfg.COMMSURL))

	s := New(cfg, watcher.NewRegistry())
	s.levelVar = levelVar
	if err := s.Start(ctx, nc); err != nil {
		nc.Close()
		return err
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HealthCheckTimeout)
	defer shutdownCancel()
	s.Shutdown(shutdownCtx)
	nc.Drain()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a server around reg. Start wires it to NATS.
func New(cfg *config.Config, reg *watcher.Registry) *Server {
	limit, burst := rate.Inf, 0
	if cfg.RequestRate > 0 {
		limit, burst = rate.Limit(cfg.RequestRate), cfg.RequestBurst
	}
	return &Server{
		cfg:      cfg,
		reg:      reg,
		counters: stdwatchers.NewCounters(counterRequests, counterRejected, counterErrors),
		limiter:  rate.NewLimiter(limit, burst),
		started:  time.Now(),
	}
}

// Start builds the peer directory and forwarding mount, registers the standard watchers,
// subscribes to the request subjects and starts the heartbeat and HTTP server. The
// connection stays owned by the caller.
func (s *Server) Start(ctx context.Context, nc *comms.Conn) error {
	cfg := s.cfg
	s.nc = nc
	s.publisher = events.NewCommsPublisher(nc, &events.CommsPublisherOpts{
		GlobalChangeSubject: cfg.ChangeEventSubject,
		LoadSubject:         cfg.LoadSubject,
	})

	// Step 1: Peer directory and forwarding
	if err := s.startPeers(ctx); err != nil {
		s.Shutdown(ctx)
		return err
	}

	// Step 2: Standard watchers
	if err := s.registerWatchers(); err != nil {
		s.Shutdown(ctx)
		return err
	}

	// Step 3: Dispatcher and request subscriptions
	s.disp = dispatcher.NewDispatcher(s.reg, dispatcher.Options{
		Service:   cfg.COMMSName,
		PeerID:    cfg.PeerID,
		Publisher: s.publisher,
		Timeout:   cfg.RequestTimeout,
	})
	if err := s.subscribe(ctx); err != nil {
		s.Shutdown(ctx)
		return err
	}

	// Step 4: Heartbeat
	if cfg.LoadReportInterval > 0 {
		s.reportLoad(ctx, cfg.LoadReportInterval)
		go s.heartbeat(ctx, cfg.LoadReportInterval)
	}

	// Step 5: HTTP
	s.startHTTP()

	s.ready.Store(true)
	slog.Info(fmt.Sprintf("%s - Watcher process is ready on %s", logPrefix, cfg.PeerSubject()))
	return nil
}

// startPeers builds the directory named by PEER_SOURCE and mounts the forwarder over it.
func (s *Server) startPeers(ctx context.Context) error {
	cfg := s.cfg
	var dir *peers.MemoryDirectory

	switch cfg.PeerSource {
	case config.PeerSourceNone, "":
		slog.Info(fmt.Sprintf("%s - No peer source, forwarding disabled", logPrefix))
		return nil

	case config.PeerSourceMemory:
		dir = peers.NewMemoryDirectory()
		if err := s.listenHeartbeats(ctx, dir, nil); err != nil {
			return err
		}

	case config.PeerSourceFile:
		fd, err := peers.NewFileDirectory(cfg.PeersFile)
		if err != nil {
			return fmt.Errorf("%s - failed to load peers file: %w", logPrefix, err)
		}
		go func() {
			if err := fd.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error(fmt.Sprintf("%s - peers file watch stopped: %v", logPrefix, err))
			}
		}()
		dir = fd.MemoryDirectory

	case config.PeerSourceDatabase:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		s.pool = pool
		if cfg.RunMigrations {
			migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
			if err != nil {
				return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
				return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
		}
		repo := db.NewRepository(pool)
		dd := peers.NewDBDirectory(repo, cfg.COMMSName)
		if err := dd.Refresh(ctx); err != nil {
			return fmt.Errorf("%s - failed to load peers: %w", logPrefix, err)
		}
		go dd.Run(ctx, cfg.PeerRefreshInterval)
		if err := s.listenHeartbeats(ctx, dd.MemoryDirectory, repo); err != nil {
			return err
		}
		dir = dd.MemoryDirectory

	default:
		return fmt.Errorf("%s - unknown peer source %q", logPrefix, cfg.PeerSource)
	}
	s.directory = dir

	tieBreak, err := forwarding.ParseTieBreak(cfg.LeastLoadedTieBreak)
	if err != nil {
		return fmt.Errorf("%s - %w", logPrefix, err)
	}
	s.caller = forwarding.NewCommsCaller(s.nc, cfg.COMMSName)
	fwd, err := forwarding.NewForwarder(dir, s.caller, forwarding.Options{
		Timeout:     cfg.ForwardTimeout,
		TieBreak:    tieBreak,
		MinProtocol: cfg.MinPeerProtocol,
	})
	if err != nil {
		return fmt.Errorf("%s - failed to create forwarder: %w", logPrefix, err)
	}
	s.forwarder = fwd

	if err := s.reg.Register(cfg.ForwardMount, watcher.NewForwarding(fwd).
		WithDoc("peer selector: all, leastLoaded or a comma separated id list")); err != nil {
		return fmt.Errorf("%s - failed to mount forwarding at %s: %w", logPrefix, cfg.ForwardMount, err)
	}
	slog.Info(fmt.Sprintf("%s - Forwarding mounted at %s (source=%s tieBreak=%s)",
		logPrefix, cfg.ForwardMount, cfg.PeerSource, tieBreak))
	return s.registerFleetFunctions()
}

// registerFleetFunctions exposes whole-fleet callables next to the forwarding mount.
func (s *Server) registerFleetFunctions() error {
	functions := []struct {
		path   string
		remote string
		args   []watcher.DataType
		doc    string
	}{
		{"fleet/gc", "runtime/gc", nil, "forces a garbage collection on every peer"},
		{"fleet/echo", "debug/echo", []watcher.DataType{watcher.TypeString}, "echoes its argument on every peer"},
	}
	for _, fn := range functions {
		node, err := s.forwarder.Function(fn.remote, fn.args, watcher.ExposeAll)
		if err != nil {
			return fmt.Errorf("%s - fleet function %s: %w", logPrefix, fn.path, err)
		}
		if err := s.reg.Register(fn.path, node.WithDoc(fn.doc)); err != nil {
			return fmt.Errorf("%s - failed to register %s: %w", logPrefix, fn.path, err)
		}
	}
	return nil
}

func (s *Server) listenHeartbeats(ctx context.Context, dir *peers.MemoryDirectory, store peers.PeerStore) error {
	listener := peers.NewHeartbeatListener(dir, store, s.cfg.COMMSName).IgnoreSelf(s.cfg.PeerID)
	sub, err := listener.Subscribe(ctx, s.nc, s.cfg.LoadSubject)
	if err != nil {
		return fmt.Errorf("%s - failed to listen for load reports: %w", logPrefix, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// registerWatchers adds the standard watchers and the server's own tunables.
func (s *Server) registerWatchers() error {
	opts := stdwatchers.Options{
		Service:  s.cfg.COMMSName,
		PeerID:   s.cfg.PeerID,
		Started:  s.started,
		LogLevel: s.levelVar,
		Counters: s.counters,
	}
	if s.forwarder != nil {
		opts.Forward = s.forwarder
	}
	if err := stdwatchers.Register(s.reg, opts); err != nil {
		return fmt.Errorf("%s - failed to register standard watchers: %w", logPrefix, err)
	}

	if err := s.reg.Register("config/requestRate", s.requestRateLeaf()); err != nil {
		return fmt.Errorf("%s - failed to register config/requestRate: %w", logPrefix, err)
	}
	if s.directory != nil {
		dir := s.directory
		if err := s.reg.Register("process/knownPeers", watcher.ReadOnly(func() int64 { return int64(dir.Len()) }).
			WithDoc("peers in the forwarding directory")); err != nil {
			return fmt.Errorf("%s - failed to register process/knownPeers: %w", logPrefix, err)
		}
	}
	return nil
}

// requestRateLeaf exposes the admission limit in requests per second; 0 means unlimited.
func (s *Server) requestRateLeaf() *watcher.Leaf {
	return watcher.NewLeaf(watcher.TypeFloat, 8,
		func(any) watcher.Value {
			limit := float64(s.limiter.Limit())
			if math.IsInf(limit, 1) {
				limit = 0
			}
			return watcher.FloatValue(limit)
		},
		func(_ any, v watcher.Value) error {
			if v.Float < 0 || math.IsNaN(v.Float) {
				return watcher.NewError(watcher.CodeTypeMismatch, fmt.Sprintf("invalid request rate %v", v.Float))
			}
			if v.Float == 0 {
				s.limiter.SetLimit(rate.Inf)
				return nil
			}
			if s.limiter.Burst() == 0 {
				s.limiter.SetBurst(max(s.cfg.RequestBurst, 1))
			}
			s.limiter.SetLimit(rate.Limit(v.Float))
			slog.Info(fmt.Sprintf("%s - request rate set to %v/s", logPrefix, v.Float))
			return nil
		}).WithDoc("admitted requests per second, 0 for unlimited")
}

// subscribe answers on the peer subject and, as one of a queue group, on the service subject.
func (s *Server) subscribe(ctx context.Context) error {
	handler := func(msg *comms.Msg) {
		// Relayed requests may loop back to this connection, so never block the callback.
		go s.handlePacket(ctx, msg)
	}

	peerSubject := s.cfg.PeerSubject()
	sub, err := s.nc.Subscribe(peerSubject, handler)
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, peerSubject, err)
	}
	s.subs = append(s.subs, sub)
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, peerSubject))

	serviceSubject := commsutil.BuildServiceSubject(s.cfg.SubjectPrefix, s.cfg.COMMSName)
	qsub, err := s.nc.QueueSubscribe(serviceSubject, commsutil.Token(s.cfg.COMMSName), handler)
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, serviceSubject, err)
	}
	s.subs = append(s.subs, qsub)
	slog.Info(fmt.Sprintf("%s - Queue subscribed to %s", logPrefix, serviceSubject))
	return nil
}

// admit counts a request from either surface and reports whether the limiter lets it run.
func (s *Server) admit() bool {
	s.counters.Inc(counterRequests)
	s.served.Add(1)
	if s.limiter.Allow() {
		return true
	}
	s.counters.Inc(counterRejected)
	return false
}

func (s *Server) handlePacket(ctx context.Context, msg *comms.Msg) {
	var (
		reply []byte
		err   error
	)
	if s.admit() {
		reply, err = s.disp.Dispatch(ctx, msg.Data)
	} else {
		reply, err = s.disp.Refuse(msg.Data, dispatcher.ErrRateLimited)
	}
	if err != nil {
		s.counters.Inc(counterErrors)
		slog.Warn(fmt.Sprintf("%s - dropping request on %s: %v", logPrefix, msg.Subject, err))
		return
	}
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(reply); err != nil {
		s.counters.Inc(counterErrors)
		slog.Error(fmt.Sprintf("%s - failed to respond: %v", logPrefix, err))
	}
}

func (s *Server) heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reportLoad(ctx, interval)
		}
	}
}

// reportLoad publishes this peer's request rate over the last interval.
func (s *Server) reportLoad(ctx context.Context, interval time.Duration) {
	load := float64(s.served.Swap(0)) / interval.Seconds()
	report := &events.LoadReport{
		Service:   s.cfg.COMMSName,
		PeerID:    s.cfg.PeerID,
		Address:   s.cfg.PeerSubject(),
		URL:       s.cfg.AdvertiseURL,
		Load:      load,
		Version:   s.cfg.ProtocolVersion,
		Resources: s.cfg.Resources,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.publisher.PublishLoad(ctx, report); err != nil {
		slog.Warn(fmt.Sprintf("%s - load report failed: %v", logPrefix, err))
	}
}

// Shutdown stops accepting requests and releases everything Start acquired except the
// NATS connection.
func (s *Server) Shutdown(ctx context.Context) {
	s.ready.Store(false)
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn(fmt.Sprintf("%s - unsubscribe %s: %v", logPrefix, sub.Subject, err))
		}
	}
	s.subs = nil
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
		}
	}
	if s.caller != nil {
		s.caller.CloseAll()
	}
	s.reg.Shutdown()
	if s.pool != nil {
		s.pool.Close()
	}
}
