package watcher

import "strings"

// DocSegment is the trailing path segment that addresses a node's description.
const DocSegment = "__doc__"

// SplitPath splits path on its first '/'.
func SplitPath(path string) (head, rest string) {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}

// IsEmptyPath reports whether path has no non-empty segment, i.e. addresses "this node".
func IsEmptyPath(path string) bool {
	return strings.Trim(path, "/") == ""
}

// JoinPath joins two path fragments with exactly one separator.
func JoinPath(base, name string) string {
	base = strings.TrimRight(base, "/")
	name = strings.TrimLeft(name, "/")
	switch {
	case base == "":
		return name
	case name == "":
		return base
	default:
		return base + "/" + name
	}
}

// CleanPath drops empty segments.
func CleanPath(path string) string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

func validName(name string) bool {
	return name != "" && name != DocSegment && !strings.Contains(name, "/")
}
