// Package sqlite implements the metadata provider for SQLite databases
// using the pure-Go modernc driver. The single database is exposed as a
// "main" schema so the hierarchy matches the server-backed providers.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"github.com/electwix/db-navigator/internal/meta"
	"github.com/electwix/db-navigator/internal/provider"
)

const (
	driverName = "sqlite"
	mainSchema = "main"
)

var errClosed = errors.New("provider closed")

const sqlRelations = `
SELECT name, type
FROM sqlite_master
WHERE type IN ('table', 'view')
  AND name NOT LIKE 'sqlite_%'
ORDER BY name`

const sqlRelationType = `
SELECT type
FROM sqlite_master
WHERE name = ? AND type IN ('table', 'view')`

const sqlHasSequences = `
SELECT COUNT(*)
FROM sqlite_master
WHERE type = 'table' AND name = 'sqlite_sequence'`

const sqlSequenceValue = `SELECT seq FROM sqlite_sequence WHERE name = ?`

// Provider serves SQLite metadata. A local file never drops its link,
// so connectivity only tracks whether the handle is still open.
type Provider struct {
	db     *sql.DB
	dsn    string
	logger *slog.Logger
	closed atomic.Bool
}

// New wraps an open database handle. Factory is the usual entry point;
// New exists so tests can seed the database before handing it over.
func New(db *sql.DB, dsn string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}
	return &Provider{db: db, dsn: dsn, logger: logger}
}

// Factory opens the database file named by cfg.DSN and verifies it with
// a ping. Registered under the "sqlite" driver name.
func Factory(ctx context.Context, cfg provider.Config) (provider.Provider, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.DSN, err)
	}
	if isMemoryDSN(cfg.DSN) {
		// Every new pool connection to a memory DSN would see its own
		// empty database, so the pool must stay on one connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: connect %s: %w", cfg.DSN, err)
	}
	return New(db, cfg.DSN, cfg.Logger), nil
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// Children implements provider.Provider.
func (p *Provider) Children(ctx context.Context, ref provider.ObjectRef) ([]meta.Record, error) {
	if p.closed.Load() {
		return nil, &provider.FetchError{Driver: driverName, Object: ref.String(), Err: errClosed}
	}
	provider.Report(ctx, "listing %s", ref)

	recs, err := p.children(ctx, ref)
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
	if err != nil {
		return nil, wrap(ref, err)
	}
	return attrs, nil
}

// Connected implements provider.Provider.
func (p *Provider) Connected() bool {
	return !p.closed.Load()
}

// Close implements provider.Provider.
func (p *Provider) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		return p.db.Close()
	}
	return nil
}

func (p *Provider) children(ctx context.Context, ref provider.ObjectRef) ([]meta.Record, error) {
	switch len(ref) {
	case 0:
		return []meta.Record{{ID: mainSchema, Kind: meta.KindSchema}}, nil

	case 1:
		if ref[0] != mainSchema {
			return nil, notFound(ref)
		}
		return p.relationRecords(ctx)

	case 2:
		kind, err := p.requireRelation(ctx, ref)
		if err != nil {
			return nil, err
		}
		recs := []meta.Record{{ID: meta.GroupColumns, Label: "Columns", Kind: meta.KindGroup}}
		if kind == meta.KindTable {
			recs = append(recs, meta.Record{ID: meta.GroupKeys, Label: "Keys", Kind: meta.KindGroup})
		}
		return recs, nil

	case 3:
		return p.groupChildren(ctx, ref)

	case 4:
		recs, err := p.groupChildren(ctx, ref[:3])
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if rec.ID == ref[3] {
				return nil, nil
			}
		}
		return nil, notFound(ref)

	default:
		return nil, notFound(ref)
	}
}

func (p *Provider) groupChildren(ctx context.Context, ref provider.ObjectRef) ([]meta.Record, error) {
	kind, err := p.requireRelation(ctx, ref[:2])
	if err != nil {
		return nil, err
	}
	switch ref[2] {
	case meta.GroupColumns:
		return p.columnRecords(ctx, ref[1], kind)
	case meta.GroupKeys:
		if kind != meta.KindTable {
			return nil, notFound(ref)
		}
		return p.keyRecords(ctx, ref[1])
	default:
		return nil, notFound(ref)
	}
}

func (p *Provider) attributes(ctx context.Context, ref provider.ObjectRef) (meta.AttributeSet, error) {
	switch len(ref) {
	case 0:
		var version string
		if err := p.db.QueryRowContext(ctx, `SELECT sqlite_version()`).Scan(&version); err != nil {
			return nil, err
		}
		return meta.AttributeSet{
			{Name: meta.AttrDriver, Value: driverName},
			{Name: meta.AttrServer, Value: version},
			{Name: "database", Value: p.dsn},
		}, nil

	case 1:
		if ref[0] != mainSchema {
			return nil, notFound(ref)
		}
		return meta.AttributeSet{}, nil

	case 2:
		kind, err := p.requireRelation(ctx, ref)
		if err != nil {
			return nil, err
		}
		return meta.AttributeSet{{Name: meta.AttrType, Value: string(kind)}}, nil

	case 3:
		kind, err := p.requireRelation(ctx, ref[:2])
		if err != nil {
			return nil, err
		}
		if ref[2] == meta.GroupColumns || (ref[2] == meta.GroupKeys && kind == meta.KindTable) {
			return meta.AttributeSet{}, nil
		}
		return nil, notFound(ref)

	case 4:
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

	default:
		return nil, notFound(ref)
	}
}

// requireRelation resolves a relation ref to its kind, rejecting refs
// outside the main schema.
func (p *Provider) requireRelation(ctx context.Context, ref provider.ObjectRef) (meta.Kind, error) {
	if ref[0] != mainSchema {
		return "", notFound(ref)
	}
	var typ string
	err := p.db.QueryRowContext(ctx, sqlRelationType, ref[1]).Scan(&typ)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound(ref)
	}
	if err != nil {
		return "", err
	}
	if typ == "view" {
		return meta.KindView, nil
	}
	return meta.KindTable, nil
}

func (p *Provider) relationRecords(ctx context.Context) ([]meta.Record, error) {
	rows, err := p.db.QueryContext(ctx, sqlRelations)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []meta.Record
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, err
		}
		kind := meta.KindTable
		if typ == "view" {
			kind = meta.KindView
		}
		out = append(out, meta.Record{
			ID:    name,
			Kind:  kind,
			Attrs: meta.AttributeSet{{Name: meta.AttrType, Value: string(kind)}},
		})
	}
	return out, rows.Err()
}

// tableColumn is one PRAGMA table_info row.
type tableColumn struct {
	cid     int
	name    string
	typ     string
	notNull bool
	def     sql.NullString
	pk      int
}

func (p *Provider) tableInfo(ctx context.Context, rel string) ([]tableColumn, error) {
	rows, err := p.db.QueryContext(ctx, `PRAGMA table_info(`+quoteIdent(rel)+`)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tableColumn
	for rows.Next() {
		var (
			c       tableColumn
			typ     sql.NullString
			notNull int
		)
		if err := rows.Scan(&c.cid, &c.name, &typ, &notNull, &c.def, &c.pk); err != nil {
			return nil, err
		}
		c.typ = typ.String
		c.notNull = notNull != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Provider) columnRecords(ctx context.Context, rel string, kind meta.Kind) ([]meta.Record, error) {
	cols, err := p.tableInfo(ctx, rel)
	if err != nil {
		return nil, err
	}

	identity := ""
	if kind == meta.KindTable && isRowidAlias(cols) {
		identity, err = p.sequenceValue(ctx, rel)
		if err != nil {
			return nil, err
		}
	}

	out := make([]meta.Record, len(cols))
	for i, c := range cols {
		attrs := meta.AttributeSet{
			{Name: meta.AttrType, Value: c.typ},
			{Name: meta.AttrDataKind, Value: meta.ClassifyType(c.typ).String()},
			{Name: meta.AttrNullable, Value: strconv.FormatBool(!c.notNull && c.pk == 0)},
			{Name: meta.AttrPosition, Value: strconv.Itoa(c.cid + 1)},
		}
		if c.def.Valid {
			attrs = attrs.With(meta.AttrDefault, c.def.String)
		}
		if identity != "" && c.pk == 1 {
			attrs = attrs.With(meta.AttrIdentity, identity)
		}
		out[i] = meta.Record{ID: c.name, Kind: meta.KindColumn, Attrs: attrs}
	}
	return out, nil
}

// isRowidAlias reports whether the table's primary key is a single
// INTEGER column, which SQLite treats as an alias for the rowid.
func isRowidAlias(cols []tableColumn) bool {
	var pk *tableColumn
	for i := range cols {
		if cols[i].pk == 0 {
			continue
		}
		if pk != nil {
			return false
		}
		pk = &cols[i]
	}
	return pk != nil && strings.EqualFold(pk.typ, "INTEGER")
}

// sequenceValue returns the AUTOINCREMENT counter for rel, or "" when
// the table does not track one. The sqlite_sequence table itself only
// exists once some table declares AUTOINCREMENT.
func (p *Provider) sequenceValue(ctx context.Context, rel string) (string, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, sqlHasSequences).Scan(&n); err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	var seq int64
	err := p.db.QueryRowContext(ctx, sqlSequenceValue, rel).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(seq, 10), nil
}

type indexEntry struct {
	name    string
	origin  string
	columns []string
}

func (p *Provider) keyRecords(ctx context.Context, rel string) ([]meta.Record, error) {
	indexes, err := p.uniqueIndexes(ctx, rel)
	if err != nil {
		return nil, err
	}

	var primary *indexEntry
	var rest []indexEntry
	for i := range indexes {
		if indexes[i].origin == "pk" {
			primary = &indexes[i]
		} else {
			rest = append(rest, indexes[i])
		}
	}

	// An INTEGER PRIMARY KEY leaves no index behind, so the primary key
	// has to be reconstructed from the column ordinals.
	if primary == nil {
		cols, err := p.tableInfo(ctx, rel)
		if err != nil {
			return nil, err
		}
		if pkCols := primaryColumns(cols); len(pkCols) > 0 {
			primary = &indexEntry{name: "primary", columns: pkCols}
		}
	}

	sort.Slice(rest, func(i, j int) bool { return rest[i].name < rest[j].name })

	var out []meta.Record
	if primary != nil {
		out = append(out, keyRecord(*primary))
	}
	for _, idx := range rest {
		out = append(out, keyRecord(idx))
	}
	return out, nil
}

// uniqueIndexes lists the indexes backing unique and primary key
// constraints. Explicit CREATE INDEX entries and partial indexes are
// not constraints and are skipped, as are indexes over expressions.
func (p *Provider) uniqueIndexes(ctx context.Context, rel string) ([]indexEntry, error) {
	rows, err := p.db.QueryContext(ctx, `PRAGMA index_list(`+quoteIdent(rel)+`)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []indexEntry
	for rows.Next() {
		var (
			seq     int
			name    string
			uniq    int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &uniq, &origin, &partial); err != nil {
			return nil, err
		}
		if uniq != 1 || partial != 0 {
			continue
		}
		if origin != "pk" && origin != "u" {
			continue
		}
		entries = append(entries, indexEntry{name: name, origin: origin})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := entries[:0]
	for _, e := range entries {
		cols, ok, err := p.indexColumns(ctx, e.name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		e.columns = cols
		out = append(out, e)
	}
	return out, nil
}

func (p *Provider) indexColumns(ctx context.Context, index string) ([]string, bool, error) {
	rows, err := p.db.QueryContext(ctx, `PRAGMA index_info(`+quoteIdent(index)+`)`)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			seqno int
			cid   int
			name  sql.NullString
		)
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, false, err
		}
		if !name.Valid {
			return nil, false, nil
		}
		cols = append(cols, name.String)
	}
	return cols, true, rows.Err()
}

func primaryColumns(cols []tableColumn) []string {
	var pk []tableColumn
	for _, c := range cols {
		if c.pk > 0 {
			pk = append(pk, c)
		}
	}
	sort.Slice(pk, func(i, j int) bool { return pk[i].pk < pk[j].pk })
	out := make([]string, len(pk))
	for i, c := range pk {
		out[i] = c.name
	}
	return out
}

func keyRecord(idx indexEntry) meta.Record {
	return meta.Record{
		ID:   idx.name,
		Kind: meta.KindKey,
		Attrs: meta.AttributeSet{
			{Name: meta.AttrColumns, Value: meta.JoinColumns(idx.columns)},
			{Name: meta.AttrUnique, Value: "true"},
		},
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

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
