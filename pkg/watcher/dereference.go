package watcher

// Dereference wraps one child and indirects the instance context before delegating.
// The remaining path is passed through unchanged.
type Dereference struct {
	child Node
	deref func(inst any) (any, bool)
}

// Indirect creates a Dereference from an arbitrary handle resolver.
func Indirect(child Node, deref func(inst any) (any, bool)) *Dereference {
	return &Dereference{child: child, deref: deref}
}

// Deref follows an instance of type **T to *T. A nil pointer at either level resolves to
// NotFound.
func Deref[T any](child Node) *Dereference {
	return Indirect(child, func(inst any) (any, bool) {
		p, ok := inst.(**T)
		if !ok || p == nil || *p == nil {
			return nil, false
		}
		return *p, true
	})
}

func (d *Dereference) node()       {}
func (d *Dereference) Mode() Mode  { return d.child.Mode() }
func (d *Dereference) Doc() string { return d.child.Doc() }
