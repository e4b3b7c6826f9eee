package watcher

import (
	"fmt"
	"log/slog"
)

const directoryLogPrefix = "watcher:directory"

// Directory maps names to child nodes and keeps insertion order.
type Directory struct {
	doc      string
	names    []string
	children map[string]dirEntry
	implicit bool // created by Registry.Register for an intermediate segment
}

type dirEntry struct {
	node Node
	bind func(inst any) any
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{children: make(map[string]dirEntry)}
}

func (d *Directory) node()       {}
func (d *Directory) Mode() Mode  { return ModeDirectory }
func (d *Directory) Doc() string { return d.doc }

// WithDoc sets the description reported by __doc__.
func (d *Directory) WithDoc(doc string) *Directory {
	d.doc = doc
	return d
}

// Add inserts or replaces a child that shares the directory's instance context.
// Subtrees must be built before they are registered; Add itself is not synchronized.
func (d *Directory) Add(name string, n Node) *Directory {
	return d.AddBound(name, n, nil)
}

// AddBound inserts a child whose instance is derived from the directory's instance,
// e.g. a struct field of the parent value.
func (d *Directory) AddBound(name string, n Node, bind func(inst any) any) *Directory {
	if !validName(name) || n == nil {
		slog.Warn(fmt.Sprintf("%s - ignoring invalid child %q", directoryLogPrefix, name))
		return d
	}
	if _, ok := d.children[name]; !ok {
		d.names = append(d.names, name)
	}
	d.children[name] = dirEntry{node: n, bind: bind}
	return d
}

// Names returns the child names in insertion order.
func (d *Directory) Names() []string {
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Len returns the number of children.
func (d *Directory) Len() int { return len(d.names) }

func (d *Directory) lookup(name string, inst any) (Node, any, bool) {
	e, ok := d.children[name]
	if !ok {
		return nil, nil, false
	}
	if e.bind != nil {
		inst = e.bind(inst)
	}
	return e.node, inst, true
}

func (d *Directory) remove(name string) bool {
	if _, ok := d.children[name]; !ok {
		return false
	}
	delete(d.children, name)
	for i, n := range d.names {
		if n == name {
			d.names = append(d.names[:i], d.names[i+1:]...)
			break
		}
	}
	return true
}
