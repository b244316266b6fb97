// Package navigator implements the lazy metadata tree: nodes whose
// children and attributes are fetched on first access, cached until
// invalidated, and kept identity-stable across refreshes.
package navigator

import (
	"sync"
	"sync/atomic"

	"github.com/electwix/db-navigator/internal/cache"
	"github.com/electwix/db-navigator/internal/meta"
)

// Node is one object in the metadata tree. Nodes are created by the
// tree during population and stay pointer-identical across refreshes as
// long as the underlying object keeps its identifier, so callers may
// hold on to them (selection state, bookmarks) without re-resolving.
type Node struct {
	path   meta.Path
	id     string
	kind   meta.Kind
	parent meta.Path

	children cache.Slot[[]*Node]
	attrs    cache.Slot[meta.AttributeSet]

	// connected mirrors the live-connection state of the owning
	// datasource. Only meaningful on datasource nodes.
	connected atomic.Bool

	mu    sync.Mutex
	label string
	// prev keeps the children of the last population after an
	// invalidation so the next population can reuse matching nodes.
	prev []*Node
}

func newNode(parentPath meta.Path, rec meta.Record) *Node {
	n := &Node{
		path:   parentPath.Append(rec.ID),
		id:     rec.ID,
		kind:   rec.Kind,
		parent: parentPath,
		label:  rec.DisplayLabel(),
	}
	if len(rec.Attrs) > 0 {
		n.attrs.Set(rec.Attrs.Clone())
	}
	return n
}

// Path returns the node's stable identity.
func (n *Node) Path() meta.Path { return n.path }

// ID returns the identifier unique among the node's siblings.
func (n *Node) ID() string { return n.id }

// Kind returns the node's kind.
func (n *Node) Kind() meta.Kind { return n.kind }

// ParentPath returns the identity of the node's parent. The parent node
// itself is resolved through the tree index.
func (n *Node) ParentPath() meta.Path { return n.parent }

// Label returns the display label, which may change across refreshes.
func (n *Node) Label() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.label
}

func (n *Node) setLabel(label string) {
	n.mu.Lock()
	n.label = label
	n.mu.Unlock()
}

// Connected reports the datasource connection state mirrored onto the
// node. Non-datasource nodes always report false.
func (n *Node) Connected() bool { return n.connected.Load() }

// SetConnected updates the mirrored connection state.
func (n *Node) SetConnected(connected bool) { n.connected.Store(connected) }

// CachedChildren returns the populated children without triggering a
// fetch.
func (n *Node) CachedChildren() ([]*Node, bool) { return n.children.Peek() }

// CachedAttributes returns the populated attributes without triggering
// a fetch.
func (n *Node) CachedAttributes() (meta.AttributeSet, bool) { return n.attrs.Peek() }

// ChildrenPopulated reports whether the children slot holds a value.
func (n *Node) ChildrenPopulated() bool { return n.children.Populated() }

func (n *Node) storePrev(kids []*Node) {
	n.mu.Lock()
	n.prev = kids
	n.mu.Unlock()
}

func (n *Node) takePrev() []*Node {
	n.mu.Lock()
	p := n.prev
	n.prev = nil
	n.mu.Unlock()
	return p
}
