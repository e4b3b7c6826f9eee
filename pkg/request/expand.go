package request

import (
	"github.com/morezero/process-watchers/pkg/watcher"
	"github.com/morezero/process-watchers/pkg/wire"
)

// maxExpandDepth bounds v1 directory expansion.
const maxExpandDepth = 64

// getV1 replies with one record for a leaf, or one record per descendant leaf when the path
// names a container.
func (r *PathRequest) getV1(reg *watcher.Registry) error {
	v, mode, doc, err := reg.Get(r.origPath)
	if err != nil {
		return err
	}
	if mode != watcher.ModeDirectory {
		rec := wire.Record{Path: r.origPath, Value: v.String(), Doc: doc}
		r.complete(wire.AppendRecord(nil, rec, r.msg.Tell()), nil)
		return nil
	}

	r.transition(StateExpanding)
	body := r.expand(reg, nil, 0)
	r.setPath(r.origPath)
	r.complete(body, nil)
	return nil
}

// expand walks the container at the current path. Each child is visited by substituting
// its path into the request; the container's own path is restored before returning.
func (r *PathRequest) expand(reg *watcher.Registry, b []byte, depth int) []byte {
	dir := r.Path()
	tell := r.msg.Tell()

	list := &wire.ChildList{}
	if err := reg.Enumerate(dir, list); err != nil {
		// Forwarding mounts and unresolvable handles have no local children.
		v, _, doc, _ := reg.Get(dir)
		return wire.AppendRecord(b, wire.Record{Path: dir, Value: v.String(), Doc: doc}, tell)
	}

	for _, c := range list.Children {
		r.setPath(watcher.JoinPath(dir, c.Label))
		if c.Mode == watcher.ModeDirectory && depth < maxExpandDepth {
			b = r.expand(reg, b, depth+1)
			continue
		}
		b = wire.AppendRecord(b, wire.Record{Path: r.Path(), Value: c.Value.String(), Doc: c.Doc}, tell)
	}
	r.setPath(dir)
	return b
}

func (r *PathRequest) setPath(p string) {
	r.mu.Lock()
	r.path = p
	r.mu.Unlock()
}
