package watcher

import "fmt"

// located is the result of walking a path: the addressed node with its instance context.
// For a Forwarding node, rest holds the unresolved remainder, starting with the selector.
type located struct {
	node Node
	inst any
	rest string
}

// Describer lets a relayer report what a GET on its bare mount point returns.
type Describer interface {
	Describe() (Value, Mode)
}

// locate walks path from n. It never mutates anything.
func locate(n Node, inst any, path string) (located, error) {
	full := path
	for {
		if d, ok := n.(*Dereference); ok {
			// The description does not depend on the handle.
			if CleanPath(path) == DocSegment {
				return located{node: docLeaf(d), inst: nil}, nil
			}
			next, ok := d.deref(inst)
			if !ok {
				return located{}, notFound(full)
			}
			n, inst = d.child, next
			continue
		}

		head, rest := SplitPath(path)
		if head == "" {
			if IsEmptyPath(rest) {
				return located{node: n, inst: inst}, nil
			}
			path = rest
			continue
		}
		if head == DocSegment && IsEmptyPath(rest) {
			return located{node: docLeaf(n), inst: nil}, nil
		}

		switch node := n.(type) {
		case *Leaf, *Callable:
			return located{}, notFound(full)
		case *Forwarding:
			return located{node: node, inst: inst, rest: path}, nil
		case *Directory:
			child, childInst, ok := node.lookup(head, inst)
			if !ok {
				return located{}, notFound(full)
			}
			n, inst = child, childInst
		case *Sequence:
			i, ok := node.index(inst, head)
			if !ok {
				return located{}, notFound(full)
			}
			n, inst = node.child, node.element(inst, i)
		case *Map:
			elem, ok := node.lookup(inst, head)
			if !ok {
				return located{}, notFound(full)
			}
			n, inst = node.child, elem
		default:
			return located{}, notFound(full)
		}
		path = rest
	}
}

// describe reports the value, mode and description of an already located node.
func describe(loc located) (Value, Mode, string) {
	switch node := loc.node.(type) {
	case *Leaf:
		return node.value(loc.inst), node.Mode(), node.Doc()
	case *Callable:
		return node.Signature(), ModeCallable, node.Doc()
	case *Forwarding:
		if d, ok := node.relayer.(Describer); ok {
			v, m := d.Describe()
			return v, m, node.Doc()
		}
		return StringValue(DirectoryMarker), ModeDirectory, node.Doc()
	case *Directory, *Sequence, *Map:
		return StringValue(DirectoryMarker), ModeDirectory, node.Doc()
	default:
		return Unknown(), ModeInvalid, ""
	}
}

func get(n Node, inst any, path string) (Value, Mode, string, error) {
	loc, err := locate(n, inst, path)
	if err != nil {
		return Value{}, ModeInvalid, "", err
	}
	if _, ok := loc.node.(*Forwarding); ok && loc.rest != "" {
		return Value{}, ModeInvalid, "", ErrRemote
	}
	v, m, doc := describe(loc)
	return v, m, doc, nil
}

func set(n Node, inst any, path string, v Value) error {
	loc, err := locate(n, inst, path)
	if err != nil {
		return err
	}
	switch node := loc.node.(type) {
	case *Leaf:
		if node.set == nil {
			return unwritable(path, ModeReadOnly)
		}
		return node.store(loc.inst, v)
	case *Forwarding:
		if loc.rest != "" {
			return ErrRemote
		}
		return unwritable(path, ModeDirectory)
	default:
		return unwritable(path, loc.node.Mode())
	}
}

func setString(n Node, inst any, path string, s string) error {
	loc, err := locate(n, inst, path)
	if err != nil {
		return err
	}
	leaf, ok := loc.node.(*Leaf)
	if !ok {
		if _, isFwd := loc.node.(*Forwarding); isFwd && loc.rest != "" {
			return ErrRemote
		}
		return unwritable(path, loc.node.Mode())
	}
	if leaf.set == nil {
		return unwritable(path, ModeReadOnly)
	}
	v, err := ParseValue(leaf.dataType, leaf.width, s)
	if err != nil {
		return err
	}
	return leaf.store(loc.inst, v)
}

// Visitor receives the children of a container: Begin once with the count, then one Child
// call per child in the container's natural order.
type Visitor interface {
	Begin(count int)
	Child(label string, v Value, mode Mode, doc string)
}

func enumerate(n Node, inst any, path string, visitor Visitor) error {
	loc, err := locate(n, inst, path)
	if err != nil {
		return err
	}

	type child struct {
		label string
		node  Node
		inst  any
	}
	var children []child

	switch node := loc.node.(type) {
	case *Directory:
		for _, name := range node.names {
			c, ci, _ := node.lookup(name, loc.inst)
			children = append(children, child{name, c, ci})
		}
	case *Sequence:
		count := node.length(loc.inst)
		for i := 0; i < count; i++ {
			children = append(children, child{node.label(loc.inst, i), node.child, node.element(loc.inst, i)})
		}
	case *Map:
		for _, label := range node.labels(loc.inst) {
			if elem, ok := node.lookup(loc.inst, label); ok {
				children = append(children, child{label, node.child, elem})
			}
		}
	case *Forwarding:
		if loc.rest != "" {
			return ErrRemote
		}
		return NewError(CodeNotFound, fmt.Sprintf("%s has no local children", quotePath(path)))
	default:
		return NewError(CodeNotFound, fmt.Sprintf("%s is not a directory", quotePath(path)))
	}

	visitor.Begin(len(children))
	for _, c := range children {
		cl, err := locate(c.node, c.inst, "")
		if err != nil {
			// A child behind a nil handle is listed but has nothing to report.
			visitor.Child(c.label, Unknown(), c.node.Mode(), c.node.Doc())
			continue
		}
		v, m, doc := describe(cl)
		visitor.Child(c.label, v, m, doc)
	}
	return nil
}

func call(n Node, inst any, path string) (*Callable, error) {
	loc, err := locate(n, inst, path)
	if err != nil {
		return nil, err
	}
	c, ok := loc.node.(*Callable)
	if !ok {
		if _, isFwd := loc.node.(*Forwarding); isFwd && loc.rest != "" {
			return nil, ErrRemote
		}
		return nil, unwritable(path, loc.node.Mode())
	}
	return c, nil
}
