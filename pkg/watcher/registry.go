package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

const registryLogPrefix = "watcher:registry"

// Registry owns one rooted watcher tree. Registration and removal take a tree-wide write
// lock; lookups share a read lock. Registries are independent values, so several can coexist.
type Registry struct {
	mu     sync.RWMutex
	root   *Directory
	closed bool
}

// NewRegistry creates a registry with an empty root directory.
func NewRegistry() *Registry {
	return &Registry{root: NewDirectory().WithDoc("watcher root")}
}

// Register mounts n at path, creating intermediate directories as needed.
func (r *Registry) Register(path string, n Node) error {
	path = CleanPath(path)
	if path == "" {
		return fmt.Errorf("%s - cannot register at the root", registryLogPrefix)
	}
	if n == nil {
		return fmt.Errorf("%s - nil watcher for %q", registryLogPrefix, path)
	}
	segments := strings.Split(path, "/")
	for _, s := range segments {
		if !validName(s) {
			return fmt.Errorf("%s - invalid segment %q in %q", registryLogPrefix, s, path)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("%s - registry is shut down", registryLogPrefix)
	}

	dir := r.root
	for _, s := range segments[:len(segments)-1] {
		e, ok := dir.children[s]
		if !ok {
			sub := NewDirectory()
			sub.implicit = true
			dir.Add(s, sub)
			dir = sub
			continue
		}
		sub, ok := e.node.(*Directory)
		if !ok || e.bind != nil {
			return fmt.Errorf("%s - %q is not a plain directory", registryLogPrefix, s)
		}
		dir = sub
	}

	name := segments[len(segments)-1]
	if _, exists := dir.children[name]; exists {
		return fmt.Errorf("%s - %q is already registered", registryLogPrefix, path)
	}
	dir.Add(name, n)
	slog.Debug(fmt.Sprintf("%s - registered %s (%s)", registryLogPrefix, path, n.Mode()))
	return nil
}

// Deregister removes the node at path. Intermediate directories that Register created and
// that are now empty are removed too; directories registered explicitly stay.
func (r *Registry) Deregister(path string) error {
	path = CleanPath(path)
	if path == "" {
		return fmt.Errorf("%s - cannot deregister the root", registryLogPrefix)
	}
	segments := strings.Split(path, "/")

	r.mu.Lock()
	defer r.mu.Unlock()

	chain := []*Directory{r.root}
	dir := r.root
	for _, s := range segments[:len(segments)-1] {
		e, ok := dir.children[s]
		if !ok {
			return notFound(path)
		}
		sub, ok := e.node.(*Directory)
		if !ok {
			return notFound(path)
		}
		chain = append(chain, sub)
		dir = sub
	}
	if !dir.remove(segments[len(segments)-1]) {
		return notFound(path)
	}
	for i := len(chain) - 1; i > 0; i-- {
		if chain[i].Len() > 0 || !chain[i].implicit {
			break
		}
		chain[i-1].remove(segments[i-1])
	}
	slog.Debug(fmt.Sprintf("%s - deregistered %s", registryLogPrefix, path))
	return nil
}

// Shutdown drops the whole tree. Further registrations fail and lookups find nothing.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.root = NewDirectory()
	r.closed = true
	slog.Info(fmt.Sprintf("%s - registry shut down", registryLogPrefix))
}

// Get reads the value at path.
func (r *Registry) Get(path string) (Value, Mode, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return get(r.root, nil, path)
}

// Set stores v at path. On any error the previous value is left untouched.
func (r *Registry) Set(path string, v Value) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return set(r.root, nil, path, v)
}

// SetString parses s according to the target leaf's type and stores it.
func (r *Registry) SetString(path string, s string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return setString(r.root, nil, path, s)
}

// Enumerate lists the children of the container at path.
func (r *Registry) Enumerate(path string, v Visitor) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return enumerate(r.root, nil, path, v)
}

// Call invokes the callable at path with a TUPLE of arguments and returns
// TUPLE(output, result). The tree lock is released before the function runs.
func (r *Registry) Call(ctx context.Context, path string, args Value) (Value, error) {
	r.mu.RLock()
	c, err := call(r.root, nil, path)
	r.mu.RUnlock()
	if err != nil {
		return Value{}, err
	}
	return c.Invoke(ctx, args)
}

// Lookup reports the mode of the node at path without reading it.
func (r *Registry) Lookup(path string) (Mode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loc, err := locate(r.root, nil, path)
	if err != nil {
		return ModeInvalid, err
	}
	if _, ok := loc.node.(*Forwarding); ok && loc.rest != "" {
		return ModeInvalid, ErrRemote
	}
	return loc.node.Mode(), nil
}

// Route reports whether path crosses a Forwarding node and, if so, returns it together
// with the remainder of the path beyond it.
func (r *Registry) Route(path string) (*Forwarding, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loc, err := locate(r.root, nil, path)
	if err != nil {
		return nil, "", false
	}
	f, ok := loc.node.(*Forwarding)
	if !ok {
		return nil, "", false
	}
	return f, loc.rest, true
}
