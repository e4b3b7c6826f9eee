// Package events defines the events a watcher process publishes and the publisher
// implementations that deliver them.
package events

// WatcherChangedEvent is emitted after a successful SET on a local watcher.
type WatcherChangedEvent struct {
	Service   string `json:"service"`
	PeerID    int    `json:"peerId"`
	Path      string `json:"path"`
	Type      string `json:"type"`
	Value     string `json:"value"`
	Timestamp string `json:"timestamp"`
}

// LoadReport is the heartbeat a worker publishes so managers can track it.
type LoadReport struct {
	Service   string   `json:"service"`
	PeerID    int      `json:"peerId"`
	Address   string   `json:"address"`
	URL       string   `json:"url,omitempty"`
	Load      float64  `json:"load"`
	Version   string   `json:"version,omitempty"`
	Resources []string `json:"resources,omitempty"`
	Timestamp string   `json:"timestamp"`
}
