// Package peers holds the directory of remote watcher peers consulted by the forwarding
// layer: their ids, addresses, load and advertised resources.
package peers

import (
	"slices"
	"sync"
)

// Peer is one remote process exposing a watcher tree.
type Peer struct {
	ID        int      `yaml:"id" json:"id"`
	Address   string   `yaml:"address" json:"address"`
	URL       string   `yaml:"url,omitempty" json:"url,omitempty"`
	Load      float64  `yaml:"load" json:"load"`
	Version   string   `yaml:"version,omitempty" json:"version,omitempty"`
	Resources []string `yaml:"resources,omitempty" json:"resources,omitempty"`
}

// Directory is the read-only view of peers used by forwarding.
type Directory interface {
	// Peers returns a snapshot in registry order.
	Peers() []Peer
}

// Lookup finds the peer with id.
func Lookup(d Directory, id int) (Peer, bool) {
	for _, p := range d.Peers() {
		if p.ID == id {
			return p, true
		}
	}
	return Peer{}, false
}

// Owner finds the first peer advertising resource.
func Owner(d Directory, resource string) (Peer, bool) {
	for _, p := range d.Peers() {
		if slices.Contains(p.Resources, resource) {
			return p, true
		}
	}
	return Peer{}, false
}

// MemoryDirectory is an in-memory Directory preserving insertion order.
type MemoryDirectory struct {
	mu    sync.RWMutex
	peers []Peer
}

// NewMemoryDirectory creates a directory holding peers in the given order.
func NewMemoryDirectory(peers ...Peer) *MemoryDirectory {
	d := &MemoryDirectory{}
	d.Replace(peers)
	return d
}

// Peers returns a copy of the peer list.
func (d *MemoryDirectory) Peers() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Peer, len(d.peers))
	for i, p := range d.peers {
		out[i] = p
		out[i].Resources = slices.Clone(p.Resources)
	}
	return out
}

// Len returns the number of peers.
func (d *MemoryDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// Upsert adds p, or replaces the peer with the same id in place.
func (d *MemoryDirectory) Upsert(p Peer) {
	p.Resources = slices.Clone(p.Resources)
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.peers {
		if d.peers[i].ID == p.ID {
			d.peers[i] = p
			return
		}
	}
	d.peers = append(d.peers, p)
}

// Remove deletes the peer with id and reports whether it existed.
func (d *MemoryDirectory) Remove(id int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.peers {
		if d.peers[i].ID == id {
			d.peers = slices.Delete(d.peers, i, i+1)
			return true
		}
	}
	return false
}

// SetLoad updates a peer's load and reports whether the peer exists.
func (d *MemoryDirectory) SetLoad(id int, load float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.peers {
		if d.peers[i].ID == id {
			d.peers[i].Load = load
			return true
		}
	}
	return false
}

// Replace swaps the whole peer list. Duplicate ids keep their first occurrence.
func (d *MemoryDirectory) Replace(peers []Peer) {
	next := make([]Peer, 0, len(peers))
	seen := make(map[int]bool, len(peers))
	for _, p := range peers {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		p.Resources = slices.Clone(p.Resources)
		next = append(next, p)
	}
	d.mu.Lock()
	d.peers = next
	d.mu.Unlock()
}
