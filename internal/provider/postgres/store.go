package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// store is the catalog access surface the provider routes through. The
// production implementation runs SQL against pg_catalog; tests swap in
// a fixture-backed fake so record shaping is checkable without a
// server.
type store interface {
	info(ctx context.Context) (serverInfo, error)
	schemas(ctx context.Context, includeSystem bool) ([]schemaRow, error)
	schemaExists(ctx context.Context, name string) (bool, error)
	relations(ctx context.Context, schema string) ([]relationRow, error)
	relation(ctx context.Context, schema, name string) (relationRow, bool, error)
	columns(ctx context.Context, schema, rel string) ([]columnRow, error)
	keys(ctx context.Context, schema, rel string) ([]keyRow, error)
	close()
}

type serverInfo struct {
	database string
	version  string
}

type schemaRow struct {
	name    string
	comment string
}

// relationRow carries one pg_class entry. relkind is the single-letter
// code from the catalog: r and p are tables, f is a foreign table, v
// and m are views.
type relationRow struct {
	name    string
	relkind string
	comment string
}

type columnRow struct {
	name     string
	typeName string
	notNull  bool
	position int
	def      *string
	identity *string
	comment  *string
}

type keyRow struct {
	name    string
	primary bool
	columns []string
}

const sqlInfo = `SELECT current_database(), current_setting('server_version')`

const sqlSchemas = `
SELECT n.nspname,
       COALESCE(pg_catalog.obj_description(n.oid, 'pg_namespace'), '')
FROM pg_catalog.pg_namespace n
WHERE n.nspname <> 'information_schema'
  AND n.nspname NOT LIKE 'pg\_%'
ORDER BY n.nspname`

const sqlSchemasAll = `
SELECT n.nspname,
       COALESCE(pg_catalog.obj_description(n.oid, 'pg_namespace'), '')
FROM pg_catalog.pg_namespace n
ORDER BY n.nspname`

const sqlSchemaExists = `SELECT 1 FROM pg_catalog.pg_namespace WHERE nspname = $1`

const sqlRelations = `
SELECT c.relname,
       c.relkind::text,
       COALESCE(pg_catalog.obj_description(c.oid, 'pg_class'), '')
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1
  AND c.relkind IN ('r', 'p', 'f', 'v', 'm')
ORDER BY c.relname`

const sqlRelation = `
SELECT c.relname,
       c.relkind::text,
       COALESCE(pg_catalog.obj_description(c.oid, 'pg_class'), '')
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1
  AND c.relname = $2
  AND c.relkind IN ('r', 'p', 'f', 'v', 'm')`

// sqlColumns reports dropped columns as absent and keeps attnum order,
// so ordinal positions match what psql's \d shows. The identity column
// resolves to the backing sequence's current value, which is NULL until
// the first row is inserted.
const sqlColumns = `
SELECT a.attname,
       pg_catalog.format_type(a.atttypid, a.atttypmod),
       a.attnotnull,
       a.attnum::int,
       pg_catalog.pg_get_expr(ad.adbin, ad.adrelid),
       CASE WHEN a.attidentity <> ''
            THEN pg_catalog.pg_sequence_last_value(
                   pg_catalog.pg_get_serial_sequence(
                     pg_catalog.quote_ident(n.nspname) || '.' || pg_catalog.quote_ident(c.relname),
                     a.attname))::text
       END,
       pg_catalog.col_description(a.attrelid, a.attnum)
FROM pg_catalog.pg_attribute a
JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_catalog.pg_attrdef ad ON ad.adrelid = a.attrelid AND ad.adnum = a.attnum
WHERE n.nspname = $1
  AND c.relname = $2
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY a.attnum`

const sqlKeys = `
SELECT con.conname,
       con.contype::text,
       ARRAY(
         SELECT a.attname
         FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
         JOIN pg_catalog.pg_attribute a
           ON a.attrelid = con.conrelid AND a.attnum = k.attnum
         ORDER BY k.ord
       )::text[]
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1
  AND c.relname = $2
  AND con.contype IN ('p', 'u')
ORDER BY con.contype <> 'p', con.conname`

// pgxStore reads the system catalogs through a pgx connection pool.
// The pool is safe for concurrent use, so sibling branches of the tree
// may fetch in parallel over it.
type pgxStore struct {
	pool *pgxpool.Pool
}

func (s *pgxStore) info(ctx context.Context) (serverInfo, error) {
	var inf serverInfo
	err := s.pool.QueryRow(ctx, sqlInfo).Scan(&inf.database, &inf.version)
	return inf, err
}

func (s *pgxStore) schemas(ctx context.Context, includeSystem bool) ([]schemaRow, error) {
	q := sqlSchemas
	if includeSystem {
		q = sqlSchemasAll
	}
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schemaRow
	for rows.Next() {
		var r schemaRow
		if err := rows.Scan(&r.name, &r.comment); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgxStore) schemaExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, sqlSchemaExists, name).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *pgxStore) relations(ctx context.Context, schema string) ([]relationRow, error) {
	rows, err := s.pool.Query(ctx, sqlRelations, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []relationRow
	for rows.Next() {
		var r relationRow
		if err := rows.Scan(&r.name, &r.relkind, &r.comment); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgxStore) relation(ctx context.Context, schema, name string) (relationRow, bool, error) {
	var r relationRow
	err := s.pool.QueryRow(ctx, sqlRelation, schema, name).Scan(&r.name, &r.relkind, &r.comment)
	if errors.Is(err, pgx.ErrNoRows) {
		return relationRow{}, false, nil
	}
	if err != nil {
		return relationRow{}, false, err
	}
	return r, true, nil
}

func (s *pgxStore) columns(ctx context.Context, schema, rel string) ([]columnRow, error) {
	rows, err := s.pool.Query(ctx, sqlColumns, schema, rel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []columnRow
	for rows.Next() {
		var r columnRow
		if err := rows.Scan(&r.name, &r.typeName, &r.notNull, &r.position, &r.def, &r.identity, &r.comment); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgxStore) keys(ctx context.Context, schema, rel string) ([]keyRow, error) {
	rows, err := s.pool.Query(ctx, sqlKeys, schema, rel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []keyRow
	for rows.Next() {
		var (
			r       keyRow
			contype string
		)
		if err := rows.Scan(&r.name, &contype, &r.columns); err != nil {
			return nil, err
		}
		r.primary = contype == "p"
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgxStore) close() {
	s.pool.Close()
}
