// Package stdwatchers registers the watchers every process exposes: runtime statistics,
// process identity, live configuration and debug helpers.
package stdwatchers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/morezero/process-watchers/pkg/watcher"
)

const logPrefix = "stdwatchers:stdwatchers"

// TimeoutSetter is a live-tunable timeout, such as the forwarding layer's per-peer timeout.
type TimeoutSetter interface {
	Timeout() time.Duration
	SetTimeout(d time.Duration)
}

// Options selects what Register exposes. Nil fields skip their watchers.
type Options struct {
	Service  string
	PeerID   int
	Started  time.Time
	LogLevel *slog.LevelVar
	Forward  TimeoutSetter
	Counters *Counters
}

type entry struct {
	path string
	node watcher.Node
}

// Register adds the standard watchers to reg.
func Register(reg *watcher.Registry, opts Options) error {
	if opts.Started.IsZero() {
		opts.Started = time.Now()
	}
	pid := int64(os.Getpid())

	nodes := []entry{
		{"runtime/goroutines", watcher.ReadOnly(func() int64 { return int64(runtime.NumGoroutine()) }).
			WithDoc("number of live goroutines")},
		{"runtime/memory/alloc", watcher.ReadOnly(func() uint64 { return memStats().Alloc }).
			WithDoc("bytes of allocated heap objects")},
		{"runtime/memory/sys", watcher.ReadOnly(func() uint64 { return memStats().Sys }).
			WithDoc("bytes obtained from the OS")},
		{"runtime/memory/numGC", watcher.ReadOnly(func() uint32 { return memStats().NumGC }).
			WithDoc("completed GC cycles")},
		{"runtime/gc", watcher.NewCallable(runGC).WithExposure(watcher.ExposeAll).
			WithDoc("forces a garbage collection and returns the GC cycle count")},
		{"process/pid", watcher.ReadOnly(func() int64 { return pid })},
		{"process/uptime", watcher.ReadOnly(func() float64 { return time.Since(opts.Started).Seconds() }).
			WithDoc("seconds since start")},
		{"process/service", watcher.ReadOnly(func() string { return opts.Service })},
		{"process/peerId", watcher.ReadOnly(func() int64 { return int64(opts.PeerID) })},
		{"debug/echo", watcher.NewCallable(echo, watcher.TypeString).WithExposure(watcher.ExposeAll).
			WithDoc("returns its argument and logs it")},
	}
	if opts.LogLevel != nil {
		nodes = append(nodes, entry{"config/logLevel", logLevelLeaf(opts.LogLevel)})
	}
	if opts.Forward != nil {
		nodes = append(nodes, entry{"config/forwardTimeout", timeoutLeaf(opts.Forward)})
	}
	if opts.Counters != nil {
		nodes = append(nodes, entry{"debug/counters", opts.Counters.Node()})
	}

	for _, n := range nodes {
		if err := reg.Register(n.path, n.node); err != nil {
			return fmt.Errorf("%s - register %s: %w", logPrefix, n.path, err)
		}
	}
	slog.Debug(fmt.Sprintf("%s - registered %d standard watchers", logPrefix, len(nodes)))
	return nil
}

func memStats() *runtime.MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &m
}

func runGC(_ context.Context, call *watcher.Call) (watcher.Value, error) {
	start := time.Now()
	runtime.GC()
	m := memStats()
	call.Logger.Info(fmt.Sprintf("gc finished in %s, heap now %d bytes", time.Since(start), m.HeapAlloc))
	return watcher.Uint32Value(m.NumGC), nil
}

func echo(_ context.Context, call *watcher.Call) (watcher.Value, error) {
	msg := call.Args[0].Str
	call.Logger.Info("echo", "message", msg)
	return watcher.StringValue(msg), nil
}

// logLevelLeaf exposes a slog level as text such as "INFO" or "DEBUG-2".
func logLevelLeaf(lv *slog.LevelVar) *watcher.Leaf {
	return watcher.NewLeaf(watcher.TypeString, 0,
		func(any) watcher.Value { return watcher.StringValue(lv.Level().String()) },
		func(_ any, v watcher.Value) error {
			var l slog.Level
			if err := l.UnmarshalText([]byte(v.Str)); err != nil {
				return watcher.NewError(watcher.CodeTypeMismatch, fmt.Sprintf("invalid log level %q", v.Str))
			}
			lv.Set(l)
			slog.Info(fmt.Sprintf("%s - log level set to %s", logPrefix, l))
			return nil
		}).WithDoc("log level (DEBUG, INFO, WARN, ERROR)")
}

// timeoutLeaf exposes a timeout as a duration string such as "5s".
func timeoutLeaf(ts TimeoutSetter) *watcher.Leaf {
	return watcher.NewLeaf(watcher.TypeString, 0,
		func(any) watcher.Value { return watcher.StringValue(ts.Timeout().String()) },
		func(_ any, v watcher.Value) error {
			d, err := time.ParseDuration(v.Str)
			if err != nil || d <= 0 {
				return watcher.NewError(watcher.CodeTypeMismatch, fmt.Sprintf("invalid timeout %q", v.Str))
			}
			ts.SetTimeout(d)
			return nil
		}).WithDoc("per-peer forwarding timeout")
}
