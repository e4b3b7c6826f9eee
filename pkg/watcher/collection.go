package watcher

import (
	"cmp"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

var labelEscaper = strings.NewReplacer("%", "%25", "/", "%2F")

// escapeLabel turns a key or element name into a single path segment.
func escapeLabel(s string) string { return labelEscaper.Replace(s) }

func unescapeLabel(label string) (string, bool) {
	s, err := url.PathUnescape(label)
	return s, err == nil
}

// Sequence exposes an ordered collection. Every element is served by the same child schema
// with the element as its instance context.
type Sequence struct {
	doc       string
	length    func(inst any) int
	element   func(inst any, i int) any
	child     Node
	labels    []string
	labelPath string
	toLabel   func(i int) string
	toIndex   func(label string) (int, bool)
}

// SequenceOf exposes the slice returned by items. The child sees *E for each element, so
// Member setters write through to the backing slice.
func SequenceOf[E any](items func(inst any) []E, child Node) *Sequence {
	return &Sequence{
		length: func(inst any) int { return len(items(inst)) },
		element: func(inst any, i int) any {
			s := items(inst)
			if i < 0 || i >= len(s) {
				return nil
			}
			return &s[i]
		},
		child: child,
	}
}

func (s *Sequence) node()       {}
func (s *Sequence) Mode() Mode  { return ModeDirectory }
func (s *Sequence) Doc() string { return s.doc }

// WithDoc sets the description reported by __doc__.
func (s *Sequence) WithDoc(doc string) *Sequence {
	s.doc = doc
	return s
}

// WithLabels names the first len(labels) elements explicitly.
func (s *Sequence) WithLabels(labels ...string) *Sequence {
	s.labels = labels
	return s
}

// WithLabelPath derives each element's label from the value at subPath under the element.
func (s *Sequence) WithLabelPath(subPath string) *Sequence {
	s.labelPath = subPath
	return s
}

// WithConverter installs a custom label<->index mapping.
func (s *Sequence) WithConverter(toLabel func(i int) string, toIndex func(label string) (int, bool)) *Sequence {
	s.toLabel = toLabel
	s.toIndex = toIndex
	return s
}

func (s *Sequence) label(inst any, i int) string {
	return escapeLabel(s.rawLabel(inst, i))
}

func (s *Sequence) rawLabel(inst any, i int) string {
	if i < len(s.labels) {
		return s.labels[i]
	}
	if s.labelPath != "" {
		if v, _, _, err := get(s.child, s.element(inst, i), s.labelPath); err == nil {
			return v.String()
		}
	}
	if s.toLabel != nil {
		return s.toLabel(i)
	}
	return strconv.Itoa(i)
}

// index resolves a path segment to an element index.
func (s *Sequence) index(inst any, label string) (int, bool) {
	label, ok := unescapeLabel(label)
	if !ok {
		return 0, false
	}
	n := s.length(inst)
	for i, l := range s.labels {
		if l == label && i < n {
			return i, true
		}
	}
	if s.labelPath != "" {
		for i := 0; i < n; i++ {
			v, _, _, err := get(s.child, s.element(inst, i), s.labelPath)
			if err == nil && v.String() == label {
				return i, true
			}
		}
	}
	if s.toIndex != nil {
		if i, ok := s.toIndex(label); ok && i >= 0 && i < n {
			return i, true
		}
	}
	i, err := strconv.Atoi(label)
	if err != nil || i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

// Map exposes a keyed collection. Labels are the formatted keys in ascending key order.
type Map struct {
	doc    string
	labels func(inst any) []string
	lookup func(inst any, label string) (any, bool)
	child  Node
}

// MapOf exposes the map returned by m. Segments are parsed with parseKey before lookup.
// Keys are escaped so "/" and "%" stay inside one segment; empty and "__doc__" keys are
// not listed.
// The child sees the map value as its instance; store pointers for writable children.
// m must return a map that is safe to read for the duration of the call.
func MapOf[K cmp.Ordered, V any](m func(inst any) map[K]V, parseKey func(string) (K, error), child Node) *Map {
	return &Map{
		labels: func(inst any) []string {
			src := m(inst)
			keys := make([]K, 0, len(src))
			for k := range src {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			out := make([]string, 0, len(keys))
			for _, k := range keys {
				if label := escapeLabel(fmt.Sprint(k)); validName(label) {
					out = append(out, label)
				}
			}
			return out
		},
		lookup: func(inst any, label string) (any, bool) {
			raw, ok := unescapeLabel(label)
			if !ok || !validName(label) {
				return nil, false
			}
			k, err := parseKey(raw)
			if err != nil {
				return nil, false
			}
			v, ok := m(inst)[k]
			return v, ok
		},
		child: child,
	}
}

// StringKey is the identity key parser for MapOf.
func StringKey(s string) (string, error) { return s, nil }

// IntKey parses base-10 integer keys for MapOf.
func IntKey(s string) (int, error) { return strconv.Atoi(s) }

func (m *Map) node()       {}
func (m *Map) Mode() Mode  { return ModeDirectory }
func (m *Map) Doc() string { return m.doc }

// WithDoc sets the description reported by __doc__.
func (m *Map) WithDoc(doc string) *Map {
	m.doc = doc
	return m
}
