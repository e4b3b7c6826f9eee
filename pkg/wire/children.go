package wire

import "github.com/morezero/process-watchers/pkg/watcher"

// Child is one entry of a children frame.
type Child = watcher.Child

// ChildList collects the children of a container. It implements watcher.Visitor.
type ChildList struct {
	Children []Child
}

func (l *ChildList) Begin(count int) {
	l.Children = make([]Child, 0, count)
}

func (l *ChildList) Child(label string, v watcher.Value, mode watcher.Mode, doc string) {
	l.Children = append(l.Children, Child{Label: label, Value: v, Mode: mode, Doc: doc})
}

// AppendChildren appends [packed count] followed by (value frame, label) per child. With
// withDoc each entry also carries its description after the label.
func AppendChildren(dst []byte, children []Child, withDoc bool) ([]byte, error) {
	dst, err := AppendPackedLength(dst, len(children))
	if err != nil {
		return dst, err
	}
	for _, c := range children {
		if dst, err = AppendValue(dst, c.Value, c.Mode); err != nil {
			return dst, err
		}
		if dst, err = AppendString(dst, c.Label); err != nil {
			return dst, err
		}
		if withDoc {
			if dst, err = AppendString(dst, c.Doc); err != nil {
				return dst, err
			}
		}
	}
	return dst, nil
}

// DecodeChildren decodes a children frame.
func DecodeChildren(b []byte, withDoc bool) ([]Child, error) {
	r := NewReader(b)
	count, err := r.PackedLength()
	if err != nil {
		return nil, err
	}
	out := make([]Child, 0, min(count, len(b)))
	for i := 0; i < count; i++ {
		var c Child
		if c.Value, c.Mode, err = r.Value(); err != nil {
			return nil, err
		}
		if c.Label, err = r.String(); err != nil {
			return nil, err
		}
		if withDoc {
			if c.Doc, err = r.String(); err != nil {
				return nil, err
			}
		}
		out = append(out, c)
	}
	if r.Len() != 0 {
		return nil, decodeErr("%d trailing bytes after children", r.Len())
	}
	return out, nil
}
