package peers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/process-watchers/pkg/commsutil"
	"github.com/morezero/process-watchers/pkg/db"
	"github.com/morezero/process-watchers/pkg/events"
)

const heartbeatTestPrefix = "peers:heartbeat_test"

// fakeStore is an in-memory PeerStore.
type fakeStore struct {
	mu      sync.Mutex
	rows    []db.PeerRow
	loads   map[int]float64
	listErr error
}

func (s *fakeStore) ListPeers(_ context.Context, service string) ([]db.PeerRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []db.PeerRow
	for _, r := range s.rows {
		if service == "" || r.Service == service {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertPeer(_ context.Context, p db.PeerRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == p.ID {
			s.rows[i] = p
			return nil
		}
	}
	s.rows = append(s.rows, p)
	return nil
}

func (s *fakeStore) UpdateLoad(_ context.Context, id int, load float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loads == nil {
		s.loads = map[int]float64{}
	}
	s.loads[id] = load
	return true, nil
}

func TestDBDirectory_Refresh(t *testing.T) {
	store := &fakeStore{rows: []db.PeerRow{
		{ID: 2, Service: "game", Address: "watchers.game.2", Load: 1},
		{ID: 7, Service: "chat", Address: "watchers.chat.7"},
		{ID: 1, Service: "game", Address: "watchers.game.1", Resources: []string{"lobby"}},
	}}
	d := NewDBDirectory(store, "game")
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("%s - Refresh: %v", heartbeatTestPrefix, err)
	}
	got := d.Peers()
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 1 {
		t.Fatalf("%s - peers = %+v", heartbeatTestPrefix, got)
	}
	if p, ok := Owner(d, "lobby"); !ok || p.ID != 1 {
		t.Errorf("%s - Owner(lobby) = %+v, %v", heartbeatTestPrefix, p, ok)
	}

	store.listErr = errors.New("connection refused")
	if err := d.Refresh(context.Background()); err == nil {
		t.Errorf("%s - Refresh should surface store errors", heartbeatTestPrefix)
	}
	if d.Len() != 2 {
		t.Errorf("%s - failed refresh dropped peers", heartbeatTestPrefix)
	}
}

func TestHeartbeatListener_Handle(t *testing.T) {
	dir := NewMemoryDirectory()
	store := &fakeStore{}
	h := NewHeartbeatListener(dir, store, "game")
	ctx := context.Background()

	h.Handle(ctx, &events.LoadReport{Service: "game", PeerID: 1, Address: "watchers.game.1", Load: 2})
	h.Handle(ctx, &events.LoadReport{Service: "chat", PeerID: 9, Address: "watchers.chat.9"})
	h.Handle(ctx, &events.LoadReport{Service: "game", PeerID: 1, Load: 5})
	h.Handle(ctx, &events.LoadReport{Service: "game", PeerID: 4, Load: 5})
	h.Handle(ctx, nil)

	if dir.Len() != 1 {
		t.Fatalf("%s - Len = %d, want 1", heartbeatTestPrefix, dir.Len())
	}
	if p, _ := Lookup(dir, 1); p.Load != 5 || p.Address != "watchers.game.1" {
		t.Errorf("%s - peer 1 = %+v", heartbeatTestPrefix, p)
	}
	if len(store.rows) != 1 || store.rows[0].Service != "game" {
		t.Errorf("%s - stored rows = %+v", heartbeatTestPrefix, store.rows)
	}
	if store.loads[1] != 5 {
		t.Errorf("%s - stored load = %v", heartbeatTestPrefix, store.loads)
	}
	if _, ok := store.loads[4]; ok {
		t.Errorf("%s - unknown peer load should not be stored", heartbeatTestPrefix)
	}
}

func TestHeartbeatListener_IgnoresSelf(t *testing.T) {
	tests := []struct {
		name    string
		self    int
		wantIDs []int
	}{
		{"manager id 9", 9, []int{1}},
		{"manager id 0", 0, []int{9, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := NewMemoryDirectory()
			store := &fakeStore{}
			h := NewHeartbeatListener(dir, store, "game").IgnoreSelf(tt.self)
			ctx := context.Background()

			h.Handle(ctx, &events.LoadReport{Service: "game", PeerID: 9, Address: "watchers.game.9"})
			h.Handle(ctx, &events.LoadReport{Service: "game", PeerID: 1, Address: "watchers.game.1", Load: 4})
			h.Handle(ctx, &events.LoadReport{Service: "game", PeerID: tt.self, Load: 1})

			var ids []int
			for _, p := range dir.Peers() {
				ids = append(ids, p.ID)
			}
			if len(ids) != len(tt.wantIDs) {
				t.Fatalf("%s - peers = %v, want %v", heartbeatTestPrefix, ids, tt.wantIDs)
			}
			for i := range ids {
				if ids[i] != tt.wantIDs[i] {
					t.Errorf("%s - peers = %v, want %v", heartbeatTestPrefix, ids, tt.wantIDs)
				}
			}
			if len(store.rows) != len(tt.wantIDs) {
				t.Errorf("%s - stored rows = %+v", heartbeatTestPrefix, store.rows)
			}
			if _, ok := store.loads[tt.self]; ok {
				t.Errorf("%s - own load was stored", heartbeatTestPrefix)
			}
		})
	}
}

func TestHeartbeatListener_Subscribe(t *testing.T) {
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: 14232, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", heartbeatTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", heartbeatTestPrefix)
	}
	defer ns.Shutdown()

	nc, err := comms.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("%s - failed to connect: %v", heartbeatTestPrefix, err)
	}
	defer nc.Close()

	dir := NewMemoryDirectory()
	h := NewHeartbeatListener(dir, nil, "")
	sub, err := h.Subscribe(context.Background(), nc, "")
	if err != nil {
		t.Fatalf("%s - Subscribe: %v", heartbeatTestPrefix, err)
	}
	defer sub.Unsubscribe()

	payload, _ := commsutil.EncodePayload(events.LoadReport{Service: "game", PeerID: 6, Address: "watchers.game.6", Load: 0.5})
	nc.Publish(commsutil.SubjectLoad, []byte("not json"))
	nc.Publish(commsutil.SubjectLoad, payload)
	nc.Flush()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p, ok := Lookup(dir, 6); ok && p.Load == 0.5 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s - report not applied", heartbeatTestPrefix)
}
