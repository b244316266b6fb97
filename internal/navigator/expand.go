package navigator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/electwix/db-navigator/internal/meta"
)

// Expand populates the tree downward from a node, bounded by maxDepth
// levels below it.
//
// With a zero target the walk descends only into kinds configured for
// untargeted expansion, so cheap workspace structure opens up while
// datasources stay untouched. With a target path the walk descends the
// one branch that can contain the target, through any container kind,
// and returns the target's node once a population surfaces it.
//
// Branches whose fetch fails are skipped and logged; only cancellation
// aborts the walk. A nil node result with a nil error means the target
// was not revealed within the depth bound.
func (t *Tree) Expand(ctx context.Context, from *Node, target meta.Path, maxDepth int) (*Node, error) {
	if target != "" && from.path == target {
		return from, nil
	}
	if maxDepth <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	targeted := target != "" && from.path.Contains(target)
	if targeted {
		if !meta.CapsOf(from.kind).Container {
			return nil, nil
		}
	} else if !t.expand.Has(from.kind) {
		return nil, nil
	}

	kids, err := t.Children(ctx, from)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.logger.Warn("navigator: expand skipping failed branch",
			"path", from.path, "error", err)
		return nil, nil
	}

	if target != "" {
		for _, kid := range kids {
			if kid.path == target {
				return kid, nil
			}
		}
		for _, kid := range kids {
			if kid.path.Contains(target) {
				return t.Expand(ctx, kid, target, maxDepth-1)
			}
		}
		// The object the target names is gone from this branch.
		return nil, nil
	}

	for _, kid := range kids {
		if found, err := t.Expand(ctx, kid, target, maxDepth-1); err != nil || found != nil {
			return found, err
		}
	}
	return nil, nil
}

// WalkFunc visits one node during a Walk. Returning false prunes the
// node's subtree.
type WalkFunc func(n *Node, depth int) bool

// Walk visits the subtree under from in depth-first order, fetching
// children of container kinds up to maxDepth levels below from. The
// starting node is visited at depth 0. Failed branches are skipped and
// logged; only cancellation stops the walk early.
func (t *Tree) Walk(ctx context.Context, from *Node, maxDepth int, fn WalkFunc) error {
	if !fn(from, 0) {
		return nil
	}
	return t.walk(ctx, from, 1, maxDepth, fn)
}

func (t *Tree) walk(ctx context.Context, n *Node, depth, maxDepth int, fn WalkFunc) error {
	if depth > maxDepth || !meta.CapsOf(n.kind).Container {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	kids, err := t.Children(ctx, n)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.logger.Warn("navigator: walk skipping failed branch",
			"path", n.path, "error", err)
		return nil
	}
	for _, kid := range kids {
		if !fn(kid, depth) {
			continue
		}
		if err := t.walk(ctx, kid, depth+1, maxDepth, fn); err != nil {
			return err
		}
	}
	return nil
}

// Prefetch warms the caches under a node, populating container children
// up to maxDepth levels below it with at most parallelism concurrent
// fetches. Failed branches are logged and skipped. Prefetch returns
// early only on cancellation; the caches it managed to fill stay
// populated either way.
func (t *Tree) Prefetch(ctx context.Context, from *Node, maxDepth, parallelism int) error {
	g := new(errgroup.Group)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}

	var warm func(n *Node, depth int)
	warm = func(n *Node, depth int) {
		if depth >= maxDepth || !meta.CapsOf(n.kind).Container || ctx.Err() != nil {
			return
		}
		kids, err := t.Children(ctx, n)
		if err != nil {
			if ctx.Err() == nil {
				t.logger.Warn("navigator: prefetch skipping failed branch",
					"path", n.path, "error", err)
			}
			return
		}
		for _, kid := range kids {
			// TryGo keeps the recursion deadlock-free under SetLimit:
			// when the pool is saturated the branch is warmed inline.
			task := func() error {
				warm(kid, depth+1)
				return nil
			}
			if !g.TryGo(task) {
				warm(kid, depth+1)
			}
		}
	}
	warm(from, 0)

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
