package peers

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const directoryTestPrefix = "peers:directory_test"

func ids(ps []Peer) []int {
	out := make([]int, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func TestMemoryDirectory_Order(t *testing.T) {
	d := NewMemoryDirectory(
		Peer{ID: 3, Address: "a3"},
		Peer{ID: 1, Address: "a1"},
		Peer{ID: 3, Address: "dup"},
		Peer{ID: 2, Address: "a2"},
	)
	if diff := cmp.Diff([]int{3, 1, 2}, ids(d.Peers())); diff != "" {
		t.Errorf("%s - order mismatch (-want +got):\n%s", directoryTestPrefix, diff)
	}
	if p, _ := Lookup(d, 3); p.Address != "a3" {
		t.Errorf("%s - duplicate id should keep first entry, got %q", directoryTestPrefix, p.Address)
	}
}

func TestMemoryDirectory_UpsertInPlace(t *testing.T) {
	d := NewMemoryDirectory(Peer{ID: 1, Address: "a1"}, Peer{ID: 2, Address: "a2"})
	d.Upsert(Peer{ID: 1, Address: "moved", Load: 4})
	d.Upsert(Peer{ID: 5, Address: "a5"})

	got := d.Peers()
	if diff := cmp.Diff([]int{1, 2, 5}, ids(got)); diff != "" {
		t.Errorf("%s - order mismatch (-want +got):\n%s", directoryTestPrefix, diff)
	}
	if got[0].Address != "moved" || got[0].Load != 4 {
		t.Errorf("%s - upsert did not replace: %+v", directoryTestPrefix, got[0])
	}
}

func TestMemoryDirectory_RemoveAndSetLoad(t *testing.T) {
	d := NewMemoryDirectory(Peer{ID: 1}, Peer{ID: 2})
	if !d.SetLoad(2, 7.5) {
		t.Fatalf("%s - SetLoad on known peer returned false", directoryTestPrefix)
	}
	if d.SetLoad(9, 1) {
		t.Errorf("%s - SetLoad on unknown peer returned true", directoryTestPrefix)
	}
	if p, _ := Lookup(d, 2); p.Load != 7.5 {
		t.Errorf("%s - load = %v, want 7.5", directoryTestPrefix, p.Load)
	}
	if !d.Remove(1) || d.Remove(1) {
		t.Errorf("%s - Remove should succeed once", directoryTestPrefix)
	}
	if d.Len() != 1 {
		t.Errorf("%s - Len = %d, want 1", directoryTestPrefix, d.Len())
	}
}

func TestMemoryDirectory_SnapshotIsolation(t *testing.T) {
	d := NewMemoryDirectory(Peer{ID: 1, Resources: []string{"lobby"}})
	snap := d.Peers()
	snap[0].Resources[0] = "changed"
	snap[0].Load = 99

	if p, _ := Lookup(d, 1); p.Resources[0] != "lobby" || p.Load != 0 {
		t.Errorf("%s - snapshot mutation leaked: %+v", directoryTestPrefix, p)
	}
}

func TestOwnerAndLookup(t *testing.T) {
	d := NewMemoryDirectory(
		Peer{ID: 1, Resources: []string{"lobby"}},
		Peer{ID: 2, Resources: []string{"match-7", "lobby"}},
	)

	tests := []struct {
		resource string
		wantID   int
		wantOK   bool
	}{
		{"lobby", 1, true},
		{"match-7", 2, true},
		{"match-8", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.resource, func(t *testing.T) {
			p, ok := Owner(d, tt.resource)
			if ok != tt.wantOK || p.ID != tt.wantID {
				t.Errorf("%s - Owner(%q) = (%d, %v), want (%d, %v)",
					directoryTestPrefix, tt.resource, p.ID, ok, tt.wantID, tt.wantOK)
			}
		})
	}

	if _, ok := Lookup(d, 3); ok {
		t.Errorf("%s - Lookup(3) should fail", directoryTestPrefix)
	}
}
