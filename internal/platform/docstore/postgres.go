package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores documents as jsonb rows in <schema>.resources. The table
// is created by the migrations in internal/platform/db.
type Postgres struct {
	pool  *pgxpool.Pool
	table string
}

func NewPostgres(pool *pgxpool.Pool, schema string) *Postgres {
	if schema == "" {
		schema = "public"
	}
	return &Postgres{
		pool:  pool,
		table: pgx.Identifier{schema, "resources"}.Sanitize(),
	}
}

const uniqueViolation = "23505"

func (p *Postgres) FindOne(ctx context.Context, cond Condition, projection map[string]any) (Document, error) {
	docs, err := p.Find(ctx, cond, FindOptions{Projection: projection, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

func (p *Postgres) Find(ctx context.Context, cond Condition, opts FindOptions) ([]Document, error) {
	query, args, err := p.selectQuery(cond, opts)
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find resources: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		projected, err := Project(doc, opts.Projection)
		if err != nil {
			return nil, err
		}
		docs = append(docs, projected)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return docs, nil
}

func (p *Postgres) selectQuery(cond Condition, opts FindOptions) (string, []any, error) {
	nc, err := normalizeDoc(cond)
	if err != nil {
		return "", nil, err
	}
	b := &sqlBuilder{}
	where, err := b.where(nc)
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf("SELECT row_id::text, doc FROM %s WHERE %s %s", p.table, where, b.orderBy(opts.Sort))
	if opts.Limit > 0 {
		query += " LIMIT " + b.arg(opts.Limit)
	}
	if opts.Skip > 0 {
		query += " OFFSET " + b.arg(opts.Skip)
	}
	return query, b.args, nil
}

func (p *Postgres) Count(ctx context.Context, cond Condition) (int, error) {
	where, args, err := translate(cond)
	if err != nil {
		return 0, err
	}
	var n int
	err = p.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", p.table, where), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count resources: %w", err)
	}
	return n, nil
}

func (p *Postgres) Insert(ctx context.Context, doc Document) (Document, error) {
	nd, err := normalizeDoc(doc)
	if err != nil {
		return nil, err
	}
	delete(nd, RowKey)
	data, err := json.Marshal(nd)
	if err != nil {
		return nil, fmt.Errorf("encode resource: %w", err)
	}
	rt, id := identity(nd)

	row := p.pool.QueryRow(ctx, fmt.Sprintf(
		"INSERT INTO %s (resource_type, id, doc) VALUES ($1, $2, $3) RETURNING row_id::text, doc", p.table),
		rt, id, data)
	stored, err := scanDoc(row)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return stored, nil
}

func (p *Postgres) ReplaceOne(ctx context.Context, cond Condition, doc Document) (Document, error) {
	nd, err := normalizeDoc(doc)
	if err != nil {
		return nil, err
	}
	return p.modify(ctx, cond, func(Document) (Document, error) {
		return nd, nil
	})
}

func (p *Postgres) UpdateOne(ctx context.Context, cond Condition, update Update) (Document, error) {
	return p.modify(ctx, cond, func(current Document) (Document, error) {
		if err := update.Apply(current); err != nil {
			return nil, err
		}
		return current, nil
	})
}

// modify locks the first matching row, computes its new document and writes
// it back in one transaction.
func (p *Postgres) modify(ctx context.Context, cond Condition, change func(Document) (Document, error)) (Document, error) {
	where, args, err := translate(cond)
	if err != nil {
		return nil, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanDoc(tx.QueryRow(ctx, fmt.Sprintf(
		"SELECT row_id::text, doc FROM %s WHERE %s ORDER BY created_at ASC, row_id ASC LIMIT 1 FOR UPDATE",
		p.table, where), args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rowID, _ := current[RowKey].(string)
	next, err := change(current)
	if err != nil {
		return nil, err
	}
	delete(next, RowKey)
	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode resource: %w", err)
	}
	rt, id := identity(next)

	stored, err := scanDoc(tx.QueryRow(ctx, fmt.Sprintf(
		"UPDATE %s SET resource_type = $1, id = $2, doc = $3, updated_at = now() WHERE row_id = $4 RETURNING row_id::text, doc",
		p.table), rt, id, data, rowID))
	if err != nil {
		return nil, mapWriteError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return stored, nil
}

// scanDoc reads a (row_id, doc) pair and exposes row_id under RowKey.
func scanDoc(row pgx.Row) (Document, error) {
	var (
		rowID string
		raw   []byte
	)
	if err := row.Scan(&rowID, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan resource: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode resource %s: %w", rowID, err)
	}
	doc[RowKey] = rowID
	return doc, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

// Explain renders the statement and parameters a Find would run.
func (p *Postgres) Explain(cond Condition, opts FindOptions) (string, []any, error) {
	return p.selectQuery(cond, opts)
}
