package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
)

const commsPublisherTestPrefix = "events:comms_publisher_integration_test"

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T, port int) (*comms.Conn, func()) {
	t.Helper()

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", commsPublisherTestPrefix, err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", commsPublisherTestPrefix)
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", commsPublisherTestPrefix, err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}
	return nc, cleanup
}

func subscribeJSON[T any](t *testing.T, nc *comms.Conn, subject string) chan T {
	t.Helper()
	ch := make(chan T, 4)
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			t.Errorf("%s - failed to unmarshal from %s: %v", commsPublisherTestPrefix, subject, err)
			return
		}
		ch <- v
	})
	if err != nil {
		t.Fatalf("%s - failed to subscribe to %s: %v", commsPublisherTestPrefix, subject, err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })
	return ch
}

func TestCommsPublisher_PublishChanged_BothSubjects(t *testing.T) {
	nc, cleanup := startTestServer(t, 14230)
	defer cleanup()

	granular := subscribeJSON[WatcherChangedEvent](t, nc, "watchers.changed.game")
	global := subscribeJSON[WatcherChangedEvent](t, nc, "watchers.changed")

	publisher := NewCommsPublisher(nc, nil)
	event := &WatcherChangedEvent{
		Service:   "game",
		PeerID:    3,
		Path:      "stats/count",
		Type:      "INT",
		Value:     "42",
		Timestamp: "2026-01-01T00:00:00Z",
	}
	if err := publisher.PublishChanged(context.Background(), event); err != nil {
		t.Fatalf("%s - PublishChanged failed: %v", commsPublisherTestPrefix, err)
	}
	nc.Flush()

	for name, ch := range map[string]chan WatcherChangedEvent{"granular": granular, "global": global} {
		select {
		case got := <-ch:
			if got.Path != "stats/count" || got.Value != "42" || got.PeerID != 3 {
				t.Errorf("%s - %s event = %+v", commsPublisherTestPrefix, name, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s - timeout waiting for %s event", commsPublisherTestPrefix, name)
		}
	}
}

func TestCommsPublisher_PublishLoad(t *testing.T) {
	nc, cleanup := startTestServer(t, 14231)
	defer cleanup()

	reports := subscribeJSON[LoadReport](t, nc, "ops.load")

	publisher := NewCommsPublisher(nc, &CommsPublisherOpts{LoadSubject: "ops.load"})
	report := &LoadReport{Service: "game", PeerID: 2, Address: "watchers.game.2", Load: 0.75, Version: "2.1.0"}
	if err := publisher.PublishLoad(context.Background(), report); err != nil {
		t.Fatalf("%s - PublishLoad failed: %v", commsPublisherTestPrefix, err)
	}
	nc.Flush()

	select {
	case got := <-reports:
		if got.PeerID != 2 || got.Load != 0.75 || got.Address != "watchers.game.2" {
			t.Errorf("%s - report = %+v", commsPublisherTestPrefix, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - timeout waiting for load report", commsPublisherTestPrefix)
	}
}
