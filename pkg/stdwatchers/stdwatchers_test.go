package stdwatchers

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/morezero/process-watchers/pkg/watcher"
)

const testPrefix = "stdwatchers:stdwatchers_test"

type fakeTimeout struct{ d time.Duration }

func (f *fakeTimeout) Timeout() time.Duration     { return f.d }
func (f *fakeTimeout) SetTimeout(d time.Duration) { f.d = d }

func newRegistry(t *testing.T) (*watcher.Registry, *slog.LevelVar, *fakeTimeout, *Counters) {
	t.Helper()
	reg := watcher.NewRegistry()
	lv := &slog.LevelVar{}
	ft := &fakeTimeout{d: 5 * time.Second}
	counters := NewCounters("requests")
	err := Register(reg, Options{
		Service:  "game",
		PeerID:   4,
		LogLevel: lv,
		Forward:  ft,
		Counters: counters,
	})
	if err != nil {
		t.Fatalf("%s - Register: %v", testPrefix, err)
	}
	return reg, lv, ft, counters
}

func TestRegister_Identity(t *testing.T) {
	reg, _, _, _ := newRegistry(t)

	tests := []struct {
		path string
		want watcher.Value
	}{
		{"process/service", watcher.StringValue("game")},
		{"process/peerId", watcher.IntValue(4)},
		{"process/pid", watcher.IntValue(int64(os.Getpid()))},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			v, mode, _, err := reg.Get(tt.path)
			if err != nil || !v.Equal(tt.want) || mode != watcher.ModeReadOnly {
				t.Errorf("%s - Get = (%v, %s, %v), want %v", testPrefix, v, mode, err, tt.want)
			}
		})
	}
}

func TestRegister_Runtime(t *testing.T) {
	reg, _, _, _ := newRegistry(t)

	v, _, _, err := reg.Get("runtime/goroutines")
	if err != nil || v.Int < 1 {
		t.Errorf("%s - goroutines = (%v, %v)", testPrefix, v, err)
	}
	if v, _, _, err := reg.Get("runtime/memory/alloc"); err != nil || v.Type != watcher.TypeUint || v.Uint == 0 {
		t.Errorf("%s - alloc = (%v, %v)", testPrefix, v, err)
	}
	if v, _, _, _ := reg.Get("runtime/memory/numGC"); v.Width != 4 {
		t.Errorf("%s - numGC width = %d, want 4", testPrefix, v.Width)
	}

	res, err := reg.Call(context.Background(), "runtime/gc", watcher.TupleValue())
	if err != nil {
		t.Fatalf("%s - gc: %v", testPrefix, err)
	}
	if !strings.Contains(res.Tuple[0].Str, "gc finished") || res.Tuple[1].Uint == 0 {
		t.Errorf("%s - gc result = %v", testPrefix, res)
	}
}

func TestRegister_Echo(t *testing.T) {
	reg, _, _, _ := newRegistry(t)

	res, err := reg.Call(context.Background(), "debug/echo", watcher.TupleValue(watcher.StringValue("hello")))
	if err != nil {
		t.Fatalf("%s - echo: %v", testPrefix, err)
	}
	if res.Tuple[1].Str != "hello" || !strings.Contains(res.Tuple[0].Str, "hello") {
		t.Errorf("%s - echo = %v", testPrefix, res)
	}
}

func TestLogLevel(t *testing.T) {
	reg, lv, _, _ := newRegistry(t)

	if err := reg.SetString("config/logLevel", "debug"); err != nil {
		t.Fatalf("%s - set: %v", testPrefix, err)
	}
	if lv.Level() != slog.LevelDebug {
		t.Errorf("%s - level = %s", testPrefix, lv.Level())
	}
	if v, mode, _, _ := reg.Get("config/logLevel"); v.Str != "DEBUG" || mode != watcher.ModeReadWrite {
		t.Errorf("%s - Get = (%v, %s)", testPrefix, v, mode)
	}

	err := reg.Set("config/logLevel", watcher.StringValue("loud"))
	if !errors.Is(err, watcher.ErrTypeMismatch) || lv.Level() != slog.LevelDebug {
		t.Errorf("%s - invalid level: err=%v level=%s", testPrefix, err, lv.Level())
	}
}

func TestForwardTimeout(t *testing.T) {
	reg, _, ft, _ := newRegistry(t)

	if v, _, _, _ := reg.Get("config/forwardTimeout"); v.Str != "5s" {
		t.Errorf("%s - timeout = %v", testPrefix, v)
	}
	if err := reg.Set("config/forwardTimeout", watcher.StringValue("250ms")); err != nil || ft.d != 250*time.Millisecond {
		t.Errorf("%s - set = %v, d=%s", testPrefix, err, ft.d)
	}
	for _, bad := range []string{"soon", "-1s", "0s"} {
		if err := reg.Set("config/forwardTimeout", watcher.StringValue(bad)); err == nil {
			t.Errorf("%s - %q accepted", testPrefix, bad)
		}
	}
}

func TestCounters(t *testing.T) {
	reg, _, _, counters := newRegistry(t)
	counters.Inc("requests")
	counters.Inc("requests")
	counters.Inc("errors")

	list := &labels{}
	if err := reg.Enumerate("debug/counters", list); err != nil {
		t.Fatalf("%s - Enumerate: %v", testPrefix, err)
	}
	if strings.Join(list.names, ",") != "errors,requests" {
		t.Errorf("%s - labels = %v", testPrefix, list.names)
	}
	if v, _, _, _ := reg.Get("debug/counters/requests"); v.Int != 2 {
		t.Errorf("%s - requests = %v", testPrefix, v)
	}
	if err := reg.Set("debug/counters/errors", watcher.IntValue(0)); err != nil || counters.Counter("errors").Load() != 0 {
		t.Errorf("%s - reset errors: %v", testPrefix, err)
	}
	if _, _, _, err := reg.Get("debug/counters/missing"); !errors.Is(err, watcher.ErrNotFound) {
		t.Errorf("%s - missing counter err = %v", testPrefix, err)
	}
}

func TestCounters_NamesWithSlashResolve(t *testing.T) {
	reg, _, _, counters := newRegistry(t)
	counters.Inc("nats/errors")
	counters.Inc("nats/errors")

	list := &labels{}
	if err := reg.Enumerate("debug/counters", list); err != nil {
		t.Fatalf("%s - Enumerate: %v", testPrefix, err)
	}
	found := false
	for _, name := range list.names {
		if _, _, _, err := reg.Get("debug/counters/" + name); err != nil {
			t.Errorf("%s - listed counter %q does not resolve: %v", testPrefix, name, err)
		}
		found = found || name == "nats%2Ferrors"
	}
	if !found {
		t.Errorf("%s - labels = %v, want nats%%2Ferrors", testPrefix, list.names)
	}
	if v, _, _, _ := reg.Get("debug/counters/nats%2Ferrors"); v.Int != 2 {
		t.Errorf("%s - nats/errors = %v", testPrefix, v)
	}
}

type labels struct{ names []string }

func (l *labels) Begin(int) {}
func (l *labels) Child(label string, _ watcher.Value, _ watcher.Mode, _ string) {
	l.names = append(l.names, label)
}
