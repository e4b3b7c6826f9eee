package dispatcher

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/morezero/process-watchers/pkg/events"
	"github.com/morezero/process-watchers/pkg/watcher"
	"github.com/morezero/process-watchers/pkg/wire"
)

func newTestDispatcher(t *testing.T, opts Options) (*Dispatcher, *atomic.Int64) {
	t.Helper()
	reg := watcher.NewRegistry()
	count := &atomic.Int64{}
	if err := reg.Register("stats/count", watcher.Atomic64(count, true).WithDoc("requests served")); err != nil {
		t.Fatalf("dispatcher:dispatcher_test - Register: %v", err)
	}
	if err := reg.Register("stats/name", watcher.ReadOnly(func() string { return "game" })); err != nil {
		t.Fatalf("dispatcher:dispatcher_test - Register: %v", err)
	}
	return NewDispatcher(reg, opts), count
}

func dispatch(t *testing.T, d *Dispatcher, req wire.Request) wire.Reply {
	t.Helper()
	packet, err := wire.EncodeRequest(req)
	if err != nil {
		t.Fatalf("dispatcher:dispatcher_test - EncodeRequest: %v", err)
	}
	out, err := d.Dispatch(context.Background(), packet)
	if err != nil {
		t.Fatalf("dispatcher:dispatcher_test - Dispatch: %v", err)
	}
	rep, err := wire.DecodeReply(out)
	if err != nil {
		t.Fatalf("dispatcher:dispatcher_test - DecodeReply: %v", err)
	}
	if rep.Msg != req.Msg || rep.Seq != req.Seq {
		t.Errorf("dispatcher:dispatcher_test - reply header (%s, %d), want (%s, %d)", rep.Msg, rep.Seq, req.Msg, req.Seq)
	}
	return rep
}

func TestDispatch_Get2(t *testing.T) {
	d, count := newTestDispatcher(t, Options{})
	count.Store(12)

	rep := dispatch(t, d, wire.Request{Msg: wire.MsgGet2, Seq: 4, Path: "stats/count"})
	v, mode, err := wire.DecodeValue(rep.Body)
	if err != nil || !v.Equal(watcher.IntValue(12)) || mode != watcher.ModeReadWrite {
		t.Errorf("dispatcher:dispatcher_test - GET2 = (%v, %s, %v)", v, mode, err)
	}
}

func TestDispatch_Set2PublishesChange(t *testing.T) {
	var got *events.WatcherChangedEvent
	pub := events.NewCallbackPublisher(func(_ context.Context, e *events.WatcherChangedEvent) error {
		got = e
		return nil
	}, nil)
	d, count := newTestDispatcher(t, Options{Service: "game", PeerID: 3, Publisher: pub})

	rep := dispatch(t, d, wire.Request{Msg: wire.MsgSet2, Seq: 1, Path: "stats/count", Value: watcher.IntValue(99)})
	if _, _, ok, err := wire.DecodeSetReply(rep.Body); err != nil || !ok {
		t.Fatalf("dispatcher:dispatcher_test - set reply = (%v, %v)", ok, err)
	}
	if count.Load() != 99 {
		t.Errorf("dispatcher:dispatcher_test - count = %d", count.Load())
	}
	if got == nil || got.Path != "stats/count" || got.Value != "99" || got.Type != "INT" || got.PeerID != 3 || got.Service != "game" {
		t.Errorf("dispatcher:dispatcher_test - event = %+v", got)
	}
}

func TestDispatch_FailedSetPublishesNothing(t *testing.T) {
	published := false
	pub := events.NewCallbackPublisher(func(context.Context, *events.WatcherChangedEvent) error {
		published = true
		return nil
	}, nil)
	d, _ := newTestDispatcher(t, Options{Publisher: pub})

	rep := dispatch(t, d, wire.Request{Msg: wire.MsgSet2, Path: "stats/name", Value: watcher.StringValue("x")})
	if _, _, ok, _ := wire.DecodeSetReply(rep.Body); ok {
		t.Errorf("dispatcher:dispatcher_test - read-only SET reported success")
	}
	if published {
		t.Errorf("dispatcher:dispatcher_test - failed SET published a change")
	}
}

func TestDispatch_MalformedBody(t *testing.T) {
	d, _ := newTestDispatcher(t, Options{})

	// GET2 header followed by a path length that overruns the packet.
	packet := []byte{byte(wire.MsgGet2), 7, 0, 0, 0, 10, 'a'}
	out, err := d.Dispatch(context.Background(), packet)
	if err != nil {
		t.Fatalf("dispatcher:dispatcher_test - Dispatch: %v", err)
	}
	rep, err := wire.DecodeReply(out)
	if err != nil || rep.Seq != 7 || !wire.IsFailure(rep.Body) {
		t.Errorf("dispatcher:dispatcher_test - reply = (%+v, %v)", rep, err)
	}
}

func TestRefuse(t *testing.T) {
	d, count := newTestDispatcher(t, Options{})
	packet, err := wire.EncodeRequest(wire.Request{Msg: wire.MsgSet2, Seq: 9, Path: "stats/count", Value: watcher.IntValue(5)})
	if err != nil {
		t.Fatalf("dispatcher:dispatcher_test - EncodeRequest: %v", err)
	}
	out, err := d.Refuse(packet, ErrRateLimited)
	if err != nil {
		t.Fatalf("dispatcher:dispatcher_test - Refuse: %v", err)
	}
	rep, err := wire.DecodeReply(out)
	if err != nil || rep.Msg != wire.MsgSet2 || rep.Seq != 9 || !wire.IsFailure(rep.Body) {
		t.Errorf("dispatcher:dispatcher_test - reply = (%+v, %v)", rep, err)
	}
	if count.Load() != 0 {
		t.Errorf("dispatcher:dispatcher_test - refused SET was applied")
	}
}

func TestDispatch_UnreadableHeader(t *testing.T) {
	d, _ := newTestDispatcher(t, Options{})
	for _, packet := range [][]byte{nil, {byte(wire.MsgGet2), 1}, {99, 0, 0, 0, 0}} {
		if _, err := d.Dispatch(context.Background(), packet); err == nil {
			t.Errorf("dispatcher:dispatcher_test - packet %v accepted", packet)
		}
	}
}

type silentRelayer struct{}

func (silentRelayer) Relay(context.Context, watcher.RelayRequest) <-chan watcher.RelayResult {
	return make(chan watcher.RelayResult)
}

func TestDispatch_RelayTimeoutStillReplies(t *testing.T) {
	d, _ := newTestDispatcher(t, Options{Timeout: 50 * time.Millisecond})
	if err := d.registry.Register("peers", watcher.NewForwarding(silentRelayer{})); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	rep := dispatch(t, d, wire.Request{Msg: wire.MsgGet2, Path: "peers/all/stats/count"})
	if !wire.IsFailure(rep.Body) {
		t.Errorf("dispatcher:dispatcher_test - body = %v, want failure frame", rep.Body)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("dispatcher:dispatcher_test - timeout not applied")
	}
}

func TestText(t *testing.T) {
	d, count := newTestDispatcher(t, Options{})
	count.Store(5)

	resp := d.Text(context.Background(), "stats")
	if !resp.Ok || len(resp.Records) != 2 {
		t.Fatalf("dispatcher:dispatcher_test - resp = %+v", resp)
	}
	want := Entry{Path: "stats/count", Value: "5", Doc: "requests served"}
	if resp.Records[0] != want {
		t.Errorf("dispatcher:dispatcher_test - first record = %+v, want %+v", resp.Records[0], want)
	}

	resp = d.SetText(context.Background(), "stats/count", "8")
	if !resp.Ok || resp.Records[0].Value != "8" {
		t.Errorf("dispatcher:dispatcher_test - SetText = %+v", resp)
	}

	resp = d.Text(context.Background(), "stats/missing")
	if resp.Ok || resp.Error == nil || resp.Error.Code != watcher.CodeNotFound || resp.Error.Retryable {
		t.Errorf("dispatcher:dispatcher_test - missing path = %+v", resp)
	}
}

func TestResponse_Marshal(t *testing.T) {
	resp := &Response{
		Path:  "stats/count",
		Error: &ErrorDetail{Code: watcher.CodeNotFound, Message: "no watcher"},
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("dispatcher:dispatcher_test - marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("dispatcher:dispatcher_test - unmarshal: %v", err)
	}
	if decoded["ok"] != false || decoded["path"] != "stats/count" {
		t.Errorf("dispatcher:dispatcher_test - decoded = %v", decoded)
	}
	if _, ok := decoded["records"]; ok {
		t.Errorf("dispatcher:dispatcher_test - empty records should be omitted")
	}
}
