// Package postgres implements the metadata provider for PostgreSQL
// servers. It reads pg_catalog through a pgx connection pool and
// exposes the schema, relation, column and key-constraint hierarchy as
// navigator records.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/electwix/db-navigator/internal/meta"
	"github.com/electwix/db-navigator/internal/provider"
)

const driverName = "postgres"

// OptionIncludeSystem names the manifest option that makes the provider
// list pg_catalog and the other system schemas, which are hidden by
// default.
const OptionIncludeSystem = "include_system"

var errClosed = errors.New("provider closed")

// Provider serves PostgreSQL metadata. It is safe for concurrent use.
type Provider struct {
	store         store
	logger        *slog.Logger
	includeSystem bool

	// alive tracks whether the server answered the most recent fetch.
	// Backend errors count as answers; transport failures do not.
	alive  atomic.Bool
	closed atomic.Bool
}

// New wraps a catalog store in a provider. Callers normally go through
// Factory; New exists so tests can substitute a fixture store.
func New(st store, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}
	p := &Provider{store: st, logger: logger}
	p.alive.Store(true)
	return p
}

// Factory connects a pool to cfg.DSN and verifies it with a ping.
// Registered under the "postgres" driver name.
func Factory(ctx context.Context, cfg provider.Config) (provider.Provider, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	p := New(&pgxStore{pool: pool}, cfg.Logger)
	p.includeSystem = cfg.Options[OptionIncludeSystem] == "true"
	return p, nil
}

// Children implements provider.Provider.
func (p *Provider) Children(ctx context.Context, ref provider.ObjectRef) ([]meta.Record, error) {
	if p.closed.Load() {
		return nil, &provider.FetchError{Driver: driverName, Object: ref.String(), Err: errClosed}
	}
	provider.Report(ctx, "listing %s", ref)

	recs, err := p.children(ctx, ref)
	p.observe(err)
	if err != nil {
		return nil, wrap(ref, err)
	}
	return recs, nil
}

// Attributes implements provider.Provider.
func (p *Provider) Attributes(ctx context.Context, ref provider.ObjectRef) (meta.AttributeSet, error) {
	if p.closed.Load() {
		return nil, &provider.FetchError{Driver: driverName, Object: ref.String(), Err: errClosed}
	}

	attrs, err := p.attributes(ctx, ref)
	p.observe(err)
	if err != nil {
		return nil, wrap(ref, err)
	}
	return attrs, nil
}

// Connected implements provider.Provider.
func (p *Provider) Connected() bool {
	return !p.closed.Load() && p.alive.Load()
}

// Close implements provider.Provider.
func (p *Provider) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		p.store.close()
	}
	return nil
}

func (p *Provider) children(ctx context.Context, ref provider.ObjectRef) ([]meta.Record, error) {
	switch len(ref) {
	case 0:
		rows, err := p.store.schemas(ctx, p.includeSystem)
		if err != nil {
			return nil, err
		}
		return schemaRecords(rows), nil

	case 1:
		rows, err := p.store.relations(ctx, ref[0])
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			if err := p.requireSchema(ctx, ref[0]); err != nil {
				return nil, err
			}
		}
		return relationRecords(rows), nil

	case 2:
		rel, err := p.requireRelation(ctx, ref[0], ref[1])
		if err != nil {
			return nil, err
		}
		return groupRecords(relationKind(rel.relkind)), nil

	case 3:
		return p.groupChildren(ctx, ref)

	case 4:
		return nil, p.requireLeaf(ctx, ref)

	default:
		return nil, notFound(ref)
	}
}

func (p *Provider) groupChildren(ctx context.Context, ref provider.ObjectRef) ([]meta.Record, error) {
	switch ref[2] {
	case meta.GroupColumns:
		rows, err := p.store.columns(ctx, ref[0], ref[1])
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			if _, err := p.requireRelation(ctx, ref[0], ref[1]); err != nil {
				return nil, err
			}
		}
		return columnRecords(rows), nil

	case meta.GroupKeys:
		rel, err := p.requireRelation(ctx, ref[0], ref[1])
		if err != nil {
			return nil, err
		}
		// Views never carry the keys group.
		if relationKind(rel.relkind) != meta.KindTable {
			return nil, notFound(ref)
		}
		rows, err := p.store.keys(ctx, ref[0], ref[1])
		if err != nil {
			return nil, err
		}
		return keyRecords(rows), nil

	default:
		return nil, notFound(ref)
	}
}

func (p *Provider) attributes(ctx context.Context, ref provider.ObjectRef) (meta.AttributeSet, error) {
	switch len(ref) {
	case 0:
		inf, err := p.store.info(ctx)
		if err != nil {
			return nil, err
		}
		return meta.AttributeSet{
			{Name: meta.AttrDriver, Value: driverName},
			{Name: meta.AttrServer, Value: inf.version},
			{Name: "database", Value: inf.database},
		}, nil

	case 1:
		rows, err := p.store.schemas(ctx, true)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if r.name == ref[0] {
				attrs := meta.AttributeSet{}
				if r.comment != "" {
					attrs = attrs.With(meta.AttrDescription, r.comment)
				}
				return attrs, nil
			}
		}
		return nil, notFound(ref)

	case 2:
		rel, err := p.requireRelation(ctx, ref[0], ref[1])
		if err != nil {
			return nil, err
		}
		attrs := meta.AttributeSet{{Name: meta.AttrType, Value: string(relationKind(rel.relkind))}}
		if rel.comment != "" {
			attrs = attrs.With(meta.AttrDescription, rel.comment)
		}
		return attrs, nil

	case 3:
		rel, err := p.requireRelation(ctx, ref[0], ref[1])
		if err != nil {
			return nil, err
		}
		if !validGroup(ref[2], relationKind(rel.relkind)) {
			return nil, notFound(ref)
		}
		return meta.AttributeSet{}, nil

	case 4:
		return p.leafAttributes(ctx, ref)

	default:
		return nil, notFound(ref)
	}
}

func (p *Provider) leafAttributes(ctx context.Context, ref provider.ObjectRef) (meta.AttributeSet, error) {
	recs, err := p.groupChildren(ctx, ref[:3])
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if rec.ID == ref[3] {
			return rec.Attrs, nil
		}
	}
	return nil, notFound(ref)
}

// requireSchema turns an absent schema into a structural NotFoundError
// so the caller can distinguish it from a schema that is merely empty.
func (p *Provider) requireSchema(ctx context.Context, name string) error {
	ok, err := p.store.schemaExists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(provider.ObjectRef{name})
	}
	return nil
}

func (p *Provider) requireRelation(ctx context.Context, schema, name string) (relationRow, error) {
	rel, ok, err := p.store.relation(ctx, schema, name)
	if err != nil {
		return relationRow{}, err
	}
	if !ok {
		return relationRow{}, notFound(provider.ObjectRef{schema, name})
	}
	return rel, nil
}

// requireLeaf verifies that a column or key ref resolves. Leaves have
// no children, so a resolved ref yields an empty child list.
func (p *Provider) requireLeaf(ctx context.Context, ref provider.ObjectRef) error {
	recs, err := p.groupChildren(ctx, ref[:3])
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.ID == ref[3] {
			return nil
		}
	}
	return notFound(ref)
}

// observe updates the liveness flag after a fetch. A backend error or a
// missing object still proves the server answered; only transport-level
// failures mark the link dead. Cancellation says nothing either way.
func (p *Provider) observe(err error) {
	switch {
	case err == nil:
		p.alive.Store(true)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		var pgErr *pgconn.PgError
		var nf *provider.NotFoundError
		if errors.As(err, &pgErr) || errors.As(err, &nf) {
			p.alive.Store(true)
			return
		}
		p.alive.Store(false)
	}
}

func wrap(ref provider.ObjectRef, err error) error {
	var nf *provider.NotFoundError
	if errors.As(err, &nf) {
		return err
	}
	return &provider.FetchError{Driver: driverName, Object: ref.String(), Err: err}
}

func notFound(ref provider.ObjectRef) error {
	return &provider.NotFoundError{Driver: driverName, Object: ref.String()}
}

func relationKind(relkind string) meta.Kind {
	switch relkind {
	case "v", "m":
		return meta.KindView
	default:
		return meta.KindTable
	}
}

func validGroup(id string, kind meta.Kind) bool {
	if id == meta.GroupColumns {
		return true
	}
	return id == meta.GroupKeys && kind == meta.KindTable
}

func schemaRecords(rows []schemaRow) []meta.Record {
	out := make([]meta.Record, len(rows))
	for i, r := range rows {
		attrs := meta.AttributeSet{}
		if r.comment != "" {
			attrs = attrs.With(meta.AttrDescription, r.comment)
		}
		out[i] = meta.Record{ID: r.name, Kind: meta.KindSchema, Attrs: attrs}
	}
	return out
}

func relationRecords(rows []relationRow) []meta.Record {
	out := make([]meta.Record, len(rows))
	for i, r := range rows {
		kind := relationKind(r.relkind)
		attrs := meta.AttributeSet{{Name: meta.AttrType, Value: string(kind)}}
		if r.comment != "" {
			attrs = attrs.With(meta.AttrDescription, r.comment)
		}
		out[i] = meta.Record{ID: r.name, Kind: kind, Attrs: attrs}
	}
	return out
}

func groupRecords(kind meta.Kind) []meta.Record {
	recs := []meta.Record{
		{ID: meta.GroupColumns, Label: "Columns", Kind: meta.KindGroup},
	}
	if kind == meta.KindTable {
		recs = append(recs, meta.Record{ID: meta.GroupKeys, Label: "Keys", Kind: meta.KindGroup})
	}
	return recs
}

func columnRecords(rows []columnRow) []meta.Record {
	out := make([]meta.Record, len(rows))
	for i, r := range rows {
		attrs := meta.AttributeSet{
			{Name: meta.AttrType, Value: r.typeName},
			{Name: meta.AttrDataKind, Value: meta.ClassifyType(r.typeName).String()},
			{Name: meta.AttrNullable, Value: strconv.FormatBool(!r.notNull)},
			{Name: meta.AttrPosition, Value: strconv.Itoa(r.position)},
		}
		if r.def != nil && *r.def != "" {
			attrs = attrs.With(meta.AttrDefault, *r.def)
		}
		if r.identity != nil {
			attrs = attrs.With(meta.AttrIdentity, *r.identity)
		}
		if r.comment != nil && *r.comment != "" {
			attrs = attrs.With(meta.AttrDescription, *r.comment)
		}
		out[i] = meta.Record{ID: r.name, Kind: meta.KindColumn, Attrs: attrs}
	}
	return out
}

func keyRecords(rows []keyRow) []meta.Record {
	out := make([]meta.Record, len(rows))
	for i, r := range rows {
		// Primary and unique constraints both guarantee uniqueness.
		out[i] = meta.Record{
			ID:   r.name,
			Kind: meta.KindKey,
			Attrs: meta.AttributeSet{
				{Name: meta.AttrColumns, Value: meta.JoinColumns(r.columns)},
				{Name: meta.AttrUnique, Value: "true"},
			},
		}
	}
	return out
}
