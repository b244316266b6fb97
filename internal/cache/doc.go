// Package cache provides the lazy population primitive used across the
// navigator tree.
//
// A Slot holds one value that is expensive to produce, typically the
// children or attributes of a metadata object behind a database round
// trip. Population is deferred until first access and runs exactly once
// even under concurrent access; failures are never cached.
//
// Usage:
//
//	var slot cache.Slot[[]meta.Record]
//	recs, err := slot.Get(ctx, func(ctx context.Context) ([]meta.Record, error) {
//	    return provider.Children(ctx, ref)
//	})
package cache
