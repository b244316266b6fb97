package static

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/electwix/db-navigator/internal/meta"
	"github.com/electwix/db-navigator/internal/provider"
)

const driverName = "static"

// Provider serves a fixed catalog from memory. It honors context
// cancellation and can be scripted to fail selected fetches, which the
// test suite uses to exercise the cache's failure paths.
type Provider struct {
	root *object

	mu           sync.Mutex
	failChildren map[string]int
	failAttrs    map[string]int
	connected    bool
	closed       bool
}

type object struct {
	rec      meta.Record
	children []meta.Record
	index    map[string]*object
}

// New builds a provider from a catalog.
func New(cat *Catalog) *Provider {
	return &Provider{
		root:         buildRoot(cat),
		failChildren: make(map[string]int),
		failAttrs:    make(map[string]int),
		connected:    cat.IsConnected(),
	}
}

// Factory constructs a static provider from a catalog file named by the
// DSN. Registered under the "static" driver name.
func Factory(ctx context.Context, cfg provider.Config) (provider.Provider, error) {
	cat, err := Load(cfg.DSN)
	if err != nil {
		return nil, err
	}
	return New(cat), nil
}

// FailChildren makes the next n Children calls for ref fail with a
// transient error.
func (p *Provider) FailChildren(ref provider.ObjectRef, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failChildren[ref.String()] = n
}

// FailAttributes makes the next n Attributes calls for ref fail with a
// transient error.
func (p *Provider) FailAttributes(ref provider.ObjectRef, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failAttrs[ref.String()] = n
}

// SetConnected overrides the simulated connection state.
func (p *Provider) SetConnected(connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = connected
}

// Children implements provider.Provider.
func (p *Provider) Children(ctx context.Context, ref provider.ObjectRef) ([]meta.Record, error) {
	if err := p.gate(ctx, ref, p.failChildren); err != nil {
		return nil, err
	}
	provider.Report(ctx, "listing %s", ref)

	obj, ok := p.lookup(ref)
	if !ok {
		return nil, &provider.NotFoundError{Driver: driverName, Object: ref.String()}
	}
	out := make([]meta.Record, len(obj.children))
	for i, rec := range obj.children {
		rec.Attrs = rec.Attrs.Clone()
		out[i] = rec
	}
	return out, nil
}

// Attributes implements provider.Provider.
func (p *Provider) Attributes(ctx context.Context, ref provider.ObjectRef) (meta.AttributeSet, error) {
	if err := p.gate(ctx, ref, p.failAttrs); err != nil {
		return nil, err
	}

	obj, ok := p.lookup(ref)
	if !ok {
		return nil, &provider.NotFoundError{Driver: driverName, Object: ref.String()}
	}
	return obj.rec.Attrs.Clone(), nil
}

// Connected implements provider.Provider.
func (p *Provider) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected && !p.closed
}

// Close implements provider.Provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// gate applies the closed check, context cancellation and scripted
// failures in the order a real driver would surface them.
func (p *Provider) gate(ctx context.Context, ref provider.ObjectRef, failures map[string]int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return &provider.FetchError{Driver: driverName, Object: ref.String(), Err: errors.New("provider closed")}
	}
	if n := failures[ref.String()]; n > 0 {
		failures[ref.String()] = n - 1
		return &provider.FetchError{
			Driver: driverName,
			Object: ref.String(),
			Err:    fmt.Errorf("scripted failure (%d left)", n-1),
		}
	}
	return nil
}

func (p *Provider) lookup(ref provider.ObjectRef) (*object, bool) {
	obj := p.root
	for _, seg := range ref {
		next, ok := obj.index[seg]
		if !ok {
			return nil, false
		}
		obj = next
	}
	return obj, true
}

func buildRoot(cat *Catalog) *object {
	root := &object{
		rec: meta.Record{ID: ".", Kind: meta.KindDataSource, Attrs: datasourceAttrs(cat)},
	}
	root.index = make(map[string]*object, len(cat.Schemas))
	for _, s := range cat.Schemas {
		schema := buildSchema(s)
		root.children = append(root.children, schema.rec)
		root.index[s.Name] = schema
	}
	return root
}

func datasourceAttrs(cat *Catalog) meta.AttributeSet {
	attrs := meta.AttributeSet{{Name: meta.AttrDriver, Value: driverName}}
	if cat.Server != "" {
		attrs = attrs.With(meta.AttrServer, cat.Server)
	}
	if cat.Description != "" {
		attrs = attrs.With(meta.AttrDescription, cat.Description)
	}
	return attrs
}

func buildSchema(s Schema) *object {
	attrs := meta.AttributeSet{}
	if s.Description != "" {
		attrs = attrs.With(meta.AttrDescription, s.Description)
	}
	schema := &object{
		rec:   meta.Record{ID: s.Name, Kind: meta.KindSchema, Attrs: attrs},
		index: make(map[string]*object, len(s.Tables)+len(s.Views)),
	}
	for _, t := range s.Tables {
		rel := buildRelation(t, meta.KindTable)
		schema.children = append(schema.children, rel.rec)
		schema.index[t.Name] = rel
	}
	for _, v := range s.Views {
		rel := buildRelation(v, meta.KindView)
		schema.children = append(schema.children, rel.rec)
		schema.index[v.Name] = rel
	}
	return schema
}

func buildRelation(t Table, kind meta.Kind) *object {
	attrs := meta.AttributeSet{}
	if t.Description != "" {
		attrs = attrs.With(meta.AttrDescription, t.Description)
	}
	rel := &object{
		rec:   meta.Record{ID: t.Name, Kind: kind, Attrs: attrs},
		index: make(map[string]*object, 2),
	}

	columns := &object{
		rec:   meta.Record{ID: meta.GroupColumns, Label: "Columns", Kind: meta.KindGroup},
		index: make(map[string]*object, len(t.Columns)),
	}
	for i, c := range t.Columns {
		rec := columnRecord(i+1, c)
		columns.children = append(columns.children, rec)
		columns.index[c.Name] = &object{rec: rec}
	}
	rel.children = append(rel.children, columns.rec)
	rel.index[meta.GroupColumns] = columns

	// Views have no key constraints, so the keys group exists only on
	// tables.
	if kind == meta.KindTable {
		keys := &object{
			rec:   meta.Record{ID: meta.GroupKeys, Label: "Keys", Kind: meta.KindGroup},
			index: make(map[string]*object, len(t.Keys)),
		}
		for _, k := range t.Keys {
			rec := keyRecord(k)
			keys.children = append(keys.children, rec)
			keys.index[k.Name] = &object{rec: rec}
		}
		rel.children = append(rel.children, keys.rec)
		rel.index[meta.GroupKeys] = keys
	}
	return rel
}
