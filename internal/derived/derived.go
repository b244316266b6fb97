// Package derived answers questions that span several cached subtrees,
// such as whether a column participates in a unique key. Results are
// always recomputed from current cache state and never stored: caching
// them would go stale the moment the underlying key set refreshes.
package derived

import (
	"context"
	"io"
	"log/slog"
	"math"

	"github.com/electwix/db-navigator/internal/meta"
	"github.com/electwix/db-navigator/internal/navigator"
)

// Options configures a Resolver.
type Options struct {
	// ExcludeKinds lists relation kinds whose columns never satisfy key
	// predicates. Nil selects the default of excluding views; an empty
	// set disables the exclusion entirely.
	ExcludeKinds meta.KindSet
	// Logger receives degrade decisions at debug level. Nil disables
	// logging.
	Logger *slog.Logger
}

// Resolver evaluates derived predicates against one tree.
type Resolver struct {
	tree    *navigator.Tree
	exclude meta.KindSet
	logger  *slog.Logger
}

// NewResolver builds a resolver over the given tree.
func NewResolver(tree *navigator.Tree, opts Options) *Resolver {
	exclude := opts.ExcludeKinds
	if exclude == nil {
		exclude = meta.NewKindSet(meta.KindView)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}
	return &Resolver{tree: tree, exclude: exclude, logger: logger}
}

// InUniqueKey reports whether the column is covered by a unique or
// primary key of its owning relation.
//
// The predicate may trigger the one transitive fetch needed to load the
// relation's key constraints, but it never mutates cached data beyond
// that. Columns of excluded relation kinds short-circuit to false, and
// any fetch failure degrades to false: a missing decoration is better
// than failing the whole view, and nothing false is cached so the next
// call after a successful refresh answers correctly.
func (r *Resolver) InUniqueKey(ctx context.Context, column *navigator.Node) bool {
	if column == nil || column.Kind() != meta.KindColumn {
		return false
	}

	relation, ok := r.owningRelation(column)
	if !ok {
		r.logger.Debug("derived: column has no resolvable relation", "path", column.Path())
		return false
	}
	if r.exclude.Has(relation.Kind()) {
		return false
	}

	keys, err := r.Keys(ctx, relation)
	if err != nil {
		r.logger.Debug("derived: key lookup degraded to false",
			"column", column.Path(), "error", err)
		return false
	}
	for _, key := range keys {
		if key.ContainsColumn(column.ID()) {
			return true
		}
	}
	return false
}

// Keys returns the parsed key constraints of a relation, fetching them
// on first access through the relation's keys group. A relation without
// a keys group has no keys.
func (r *Resolver) Keys(ctx context.Context, relation *navigator.Node) ([]meta.KeyDetails, error) {
	kids, err := r.tree.Children(ctx, relation)
	if err != nil {
		return nil, err
	}

	var group *navigator.Node
	for _, kid := range kids {
		if kid.Kind() == meta.KindGroup && kid.ID() == meta.GroupKeys {
			group = kid
			break
		}
	}
	if group == nil {
		return nil, nil
	}

	keyNodes, err := r.tree.Children(ctx, group)
	if err != nil {
		return nil, err
	}

	keys := make([]meta.KeyDetails, 0, len(keyNodes))
	for _, kn := range keyNodes {
		attrs, err := r.tree.Attributes(ctx, kn)
		if err != nil {
			return nil, err
		}
		det, err := meta.ParseKey(meta.Record{ID: kn.ID(), Kind: kn.Kind(), Attrs: attrs})
		if err != nil {
			r.logger.Debug("derived: skipping malformed key", "key", kn.Path(), "error", err)
			continue
		}
		keys = append(keys, det)
	}
	return keys, nil
}

// owningRelation walks from a column up to its table or view. Columns
// normally sit under a grouping container, but a flat layout with the
// column directly under the relation is accepted too.
func (r *Resolver) owningRelation(column *navigator.Node) (*navigator.Node, bool) {
	parent, ok := r.tree.Parent(column)
	if !ok {
		return nil, false
	}
	if parent.Kind() == meta.KindGroup {
		parent, ok = r.tree.Parent(parent)
		if !ok {
			return nil, false
		}
	}
	switch parent.Kind() {
	case meta.KindTable, meta.KindView:
		return parent, true
	}
	return nil, false
}
