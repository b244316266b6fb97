package meta

import (
	"strings"
)

// Path is the stable identity of a node in the metadata tree. It is the
// "/"-joined chain of node identifiers from the root, so it is usable as
// a map key and survives refreshes of the tree around it.
type Path string

// RootPath identifies the synthetic tree root.
const RootPath Path = "/"

// JoinPath builds a path from raw segment identifiers.
func JoinPath(segments ...string) Path {
	p := RootPath
	for _, seg := range segments {
		p = p.Append(seg)
	}
	return p
}

// Append returns the path extended with one child identifier. Slashes
// inside the identifier are escaped so object names containing "/"
// cannot collide with the separator.
func (p Path) Append(id string) Path {
	if p.IsRoot() {
		return Path("/" + escapeSegment(id))
	}
	return p + Path("/"+escapeSegment(id))
}

// IsRoot reports whether p is the tree root.
func (p Path) IsRoot() bool {
	return p == RootPath || p == ""
}

// Parent returns the path one level up. The root is its own parent.
func (p Path) Parent() Path {
	if p.IsRoot() {
		return RootPath
	}
	i := strings.LastIndexByte(string(p), '/')
	if i <= 0 {
		return RootPath
	}
	return p[:i]
}

// Base returns the last segment identifier, unescaped. The root has an
// empty base.
func (p Path) Base() string {
	if p.IsRoot() {
		return ""
	}
	i := strings.LastIndexByte(string(p), '/')
	return unescapeSegment(string(p[i+1:]))
}

// Segments returns the unescaped identifiers from the root down.
func (p Path) Segments() []string {
	if p.IsRoot() {
		return nil
	}
	raw := strings.Split(strings.TrimPrefix(string(p), "/"), "/")
	segs := make([]string, len(raw))
	for i, s := range raw {
		segs[i] = unescapeSegment(s)
	}
	return segs
}

// Depth returns the number of segments below the root.
func (p Path) Depth() int {
	if p.IsRoot() {
		return 0
	}
	return strings.Count(string(p), "/")
}

// Contains reports whether other is p itself or a descendant of p.
func (p Path) Contains(other Path) bool {
	if p.IsRoot() {
		return true
	}
	if p == other {
		return true
	}
	return strings.HasPrefix(string(other), string(p)+"/")
}

// RelativeTo returns the segments of p below ancestor. The second
// result is false when p is not inside ancestor's subtree.
func (p Path) RelativeTo(ancestor Path) ([]string, bool) {
	if !ancestor.Contains(p) {
		return nil, false
	}
	if p == ancestor {
		return nil, true
	}
	rest := strings.TrimPrefix(string(p), string(ancestor))
	if ancestor.IsRoot() {
		rest = string(p)
	}
	raw := strings.Split(strings.TrimPrefix(rest, "/"), "/")
	segs := make([]string, len(raw))
	for i, s := range raw {
		segs[i] = unescapeSegment(s)
	}
	return segs, true
}

func (p Path) String() string {
	if p == "" {
		return string(RootPath)
	}
	return string(p)
}

func escapeSegment(id string) string {
	id = strings.ReplaceAll(id, "%", "%25")
	return strings.ReplaceAll(id, "/", "%2F")
}

func unescapeSegment(s string) string {
	s = strings.ReplaceAll(s, "%2F", "/")
	return strings.ReplaceAll(s, "%25", "%")
}
