package filter

import (
	"github.com/electwix/db-navigator/internal/meta"
	"github.com/electwix/db-navigator/internal/navigator"
)

// State is the runtime toggle set of a view. Toggling any field changes
// only what Visible answers; it never invalidates or populates a cache.
type State struct {
	// ShowConnected hides datasources without a live connection, and
	// workspace containers with no connected datasource beneath them.
	ShowConnected bool
	// ShowAllProjects widens the view from the active project to every
	// project in the workspace.
	ShowAllProjects bool
	// Pattern restricts leaf kinds by label. Nil shows everything.
	Pattern *Matcher
}

// Options fixes the structural filtering rules of a view, independent
// of the runtime toggles.
type Options struct {
	// Show limits which kinds appear at all. Nil shows every kind.
	Show meta.KindSet
	// Leaves lists the kinds the pattern applies to directly. Other
	// kinds are containers for filtering purposes: they stay visible
	// while they might reach a visible leaf. Nil defaults to
	// datasources, the leaf kind of the connection picker.
	Leaves meta.KindSet
}

func (o Options) leaves() meta.KindSet {
	if o.Leaves == nil {
		return meta.NewKindSet(meta.KindDataSource)
	}
	return o.Leaves
}

// Visible decides whether a node appears in the view. It reads only
// cached data: children that were never populated are not fetched, so
// the answer for a collapsed container is based on what is known so
// far.
func Visible(n *navigator.Node, state State, opts Options) bool {
	if n == nil {
		return false
	}
	kind := n.Kind()
	if opts.Show != nil && !opts.Show.Has(kind) {
		return false
	}

	if state.ShowConnected {
		switch kind {
		case meta.KindDataSource:
			if !n.Connected() {
				return false
			}
		case meta.KindProject, meta.KindFolder:
			// Containers must prove they hold a connected datasource.
			// Callers expand the workspace levels before filtering, so
			// an unpopulated folder simply has nothing to show yet.
			if !hasConnectedDescendant(n) {
				return false
			}
		}
	}

	if state.Pattern != nil {
		if opts.leaves().Has(kind) {
			return state.Pattern.Match(n.Label()) || state.Pattern.Match(n.ID())
		}
		if meta.CapsOf(kind).Container {
			return containerReachesVisible(n, state, opts)
		}
	}
	return true
}

// containerReachesVisible keeps ancestors of visible leaves visible. An
// unpopulated container gets the benefit of the doubt: hiding it would
// cut off the only path to whatever it may contain.
func containerReachesVisible(n *navigator.Node, state State, opts Options) bool {
	kids, ok := n.CachedChildren()
	if !ok {
		return true
	}
	for _, kid := range kids {
		if Visible(kid, state, opts) {
			return true
		}
	}
	return false
}

func hasConnectedDescendant(n *navigator.Node) bool {
	kids, ok := n.CachedChildren()
	if !ok {
		return false
	}
	for _, kid := range kids {
		switch kid.Kind() {
		case meta.KindDataSource:
			if kid.Connected() {
				return true
			}
		case meta.KindProject, meta.KindFolder:
			if hasConnectedDescendant(kid) {
				return true
			}
		}
	}
	return false
}

// EffectiveRoot returns the subtree a view renders: the whole tree when
// every project is shown, otherwise the named project's node. An
// unknown project falls back to the tree root rather than an empty
// view.
func EffectiveRoot(tree *navigator.Tree, state State, project string) *navigator.Node {
	if state.ShowAllProjects || project == "" {
		return tree.Root()
	}
	if n, ok := tree.Lookup(meta.RootPath.Append(project)); ok {
		return n
	}
	return tree.Root()
}
