package navigator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/electwix/db-navigator/internal/meta"
)

// Source supplies the raw metadata behind the tree. The session layer
// implements it by routing workspace-level nodes to manifest data and
// datasource subtrees to the registered provider.
type Source interface {
	// FetchChildren returns the ordered raw child records of node.
	FetchChildren(ctx context.Context, node *Node) ([]meta.Record, error)
	// FetchAttributes returns the attributes of node.
	FetchAttributes(ctx context.Context, node *Node) (meta.AttributeSet, error)
}

// ConvertError reports a raw record that could not be materialized into
// a node. The record is skipped; its siblings still populate.
type ConvertError struct {
	Parent meta.Path
	ID     string
	Reason string
}

func (e *ConvertError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("cannot materialize child of %s: %s", e.Parent, e.Reason)
	}
	return fmt.Sprintf("cannot materialize %q under %s: %s", e.ID, e.Parent, e.Reason)
}

// Options configures a Tree.
type Options struct {
	// Source supplies children and attributes. Required.
	Source Source
	// Logger receives skip and drop warnings. Nil disables logging.
	Logger *slog.Logger
	// ExpandKinds overrides which kinds untargeted expansion descends
	// into. Nil selects the kinds whose capabilities declare AutoExpand.
	ExpandKinds meta.KindSet
	// RootLabel names the synthetic root node.
	RootLabel string
}

// Tree is the lazy metadata tree. All methods are safe for concurrent
// use.
type Tree struct {
	src    Source
	logger *slog.Logger
	expand meta.KindSet
	hub    *hub

	mu    sync.RWMutex
	nodes map[meta.Path]*Node
	root  *Node
}

// New builds an empty tree with just the root node. Nothing is fetched
// until the first Children call.
func New(opts Options) *Tree {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}
	expand := opts.ExpandKinds
	if expand == nil {
		expand = meta.NewKindSet()
		for _, k := range []meta.Kind{meta.KindRoot, meta.KindProject, meta.KindFolder} {
			expand[k] = struct{}{}
		}
	}
	label := opts.RootLabel
	if label == "" {
		label = "Databases"
	}

	root := &Node{
		path:   meta.RootPath,
		kind:   meta.KindRoot,
		parent: meta.RootPath,
		label:  label,
	}
	t := &Tree{
		src:    opts.Source,
		logger: logger,
		expand: expand,
		hub:    newHub(logger),
		nodes:  map[meta.Path]*Node{meta.RootPath: root},
		root:   root,
	}
	return t
}

// Root returns the synthetic root node.
func (t *Tree) Root() *Node {
	return t.root
}

// Lookup resolves a path to its live node. Detached nodes, and nodes in
// branches that were invalidated and not yet repopulated, are not
// found.
func (t *Tree) Lookup(path meta.Path) (*Node, bool) {
	if path.IsRoot() {
		return t.root, true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[path]
	return n, ok
}

// Parent resolves the parent of a node through the index. The root has
// no parent.
func (t *Tree) Parent(n *Node) (*Node, bool) {
	if n.path.IsRoot() {
		return nil, false
	}
	return t.Lookup(n.parent)
}

// Len returns the number of live nodes, including the root.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Children returns the node's children, fetching and materializing them
// on first access. Concurrent calls for the same node share one fetch.
// A failed fetch leaves the node unpopulated so a later call retries.
func (t *Tree) Children(ctx context.Context, n *Node) ([]*Node, error) {
	return n.children.Get(ctx, func(ctx context.Context) ([]*Node, error) {
		return t.populate(ctx, n)
	})
}

// Attributes returns the node's attribute set, fetching it on first
// access. Nodes whose attributes arrived embedded in the parent fetch
// are served from that seed without another round trip.
func (t *Tree) Attributes(ctx context.Context, n *Node) (meta.AttributeSet, error) {
	return n.attrs.Get(ctx, func(ctx context.Context) (meta.AttributeSet, error) {
		attrs, err := t.src.FetchAttributes(ctx, n)
		if err != nil {
			return nil, err
		}
		return attrs, nil
	})
}

// Attribute looks up one attribute by name, fetching the set on first
// access. The lookup is case-insensitive and returns the first match.
func (t *Tree) Attribute(ctx context.Context, n *Node, name string) (string, bool, error) {
	attrs, err := t.Attributes(ctx, n)
	if err != nil {
		return "", false, err
	}
	v, ok := attrs.Lookup(name)
	return v, ok, nil
}

// Invalidate discards the node's cached children. The detached children
// are kept aside so the next population can reuse nodes whose identity
// survives, preserving any caches below them.
func (t *Tree) Invalidate(n *Node) {
	if old, ok := n.children.Peek(); ok {
		n.storePrev(old)
		t.detach(old)
	}
	n.children.Invalidate()
	t.hub.publish(Event{Path: n.path, Op: OpInvalidated})
}

// InvalidateSubtree discards the cached children and attributes of the
// node and everything below it. Node identities are still reused on
// repopulation, but every level refetches.
func (t *Tree) InvalidateSubtree(n *Node) {
	// Unindex the whole cached subtree before any slot is cleared;
	// afterwards Peek can no longer see it.
	if old, ok := n.children.Peek(); ok {
		t.detach(old)
	}
	clearBranch(n)
	t.hub.publish(Event{Path: n.path, Op: OpInvalidated})
}

func clearBranch(n *Node) {
	n.attrs.Invalidate()
	if old, ok := n.children.Peek(); ok {
		n.storePrev(old)
		for _, kid := range old {
			clearBranch(kid)
		}
	}
	n.children.Invalidate()
}

// populate runs inside the node's children slot: it is executed at most
// once per population, though populations of different nodes run
// concurrently.
func (t *Tree) populate(ctx context.Context, n *Node) ([]*Node, error) {
	recs, err := t.src.FetchChildren(ctx, n)
	if err != nil {
		return nil, err
	}

	prev := make(map[string]*Node)
	for _, old := range n.takePrev() {
		prev[old.id] = old
	}

	kids := make([]*Node, 0, len(recs))
	seen := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		kid, err := t.materialize(n, rec, prev, seen)
		if err != nil {
			t.logger.Warn("navigator: skipping child record",
				"parent", n.path, "error", err)
			continue
		}
		kids = append(kids, kid)
		seen[kid.id] = struct{}{}
	}

	t.attach(kids)
	t.hub.publish(Event{Path: n.path, Op: OpRefreshed})
	return kids, nil
}

// materialize converts one raw record, reusing the matching node from
// the previous population when its identity and kind are unchanged.
func (t *Tree) materialize(parent *Node, rec meta.Record, prev map[string]*Node, seen map[string]struct{}) (*Node, error) {
	if rec.ID == "" {
		return nil, &ConvertError{Parent: parent.path, Reason: "empty identifier"}
	}
	if !meta.Known(rec.Kind) {
		return nil, &ConvertError{Parent: parent.path, ID: rec.ID, Reason: fmt.Sprintf("unknown kind %q", rec.Kind)}
	}
	if _, dup := seen[rec.ID]; dup {
		return nil, &ConvertError{Parent: parent.path, ID: rec.ID, Reason: "duplicate sibling identifier"}
	}
	if old, ok := prev[rec.ID]; ok && old.kind == rec.Kind {
		old.setLabel(rec.DisplayLabel())
		if len(rec.Attrs) > 0 {
			old.attrs.Set(rec.Attrs.Clone())
		}
		return old, nil
	}
	return newNode(parent.path, rec), nil
}

// attach indexes freshly materialized nodes, including the cached
// subtrees of reused nodes.
func (t *Tree) attach(kids []*Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range kids {
		t.indexLocked(k)
	}
}

func (t *Tree) indexLocked(n *Node) {
	t.nodes[n.path] = n
	if kids, ok := n.children.Peek(); ok {
		for _, k := range kids {
			t.indexLocked(k)
		}
	}
}

// detach removes nodes and their cached subtrees from the index. A path
// already claimed by a newer node is left alone.
func (t *Tree) detach(nodes []*Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range nodes {
		t.detachLocked(n)
	}
}

func (t *Tree) detachLocked(n *Node) {
	if t.nodes[n.path] == n {
		delete(t.nodes, n.path)
	}
	if kids, ok := n.children.Peek(); ok {
		for _, k := range kids {
			t.detachLocked(k)
		}
	}
}

// SetConnected mirrors a datasource's connection state onto its node
// and announces the change.
func (t *Tree) SetConnected(n *Node, connected bool) {
	if n.Connected() == connected {
		return
	}
	n.SetConnected(connected)
	t.hub.publish(Event{Path: n.path, Op: OpStateChanged})
}
