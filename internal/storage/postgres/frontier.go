// Package postgres provides the Postgres-backed frontier store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tisorlawan/indonesian-media-crawler/internal/crawler"
	"github.com/tisorlawan/indonesian-media-crawler/internal/storage/layout"
)

// Config controls the Postgres connection pool used for the frontier tables.
type Config struct {
	DSN             string
	Name            string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

type execer interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}

// Frontier implements crawler.Frontier on Postgres.
type Frontier struct {
	pool   pool
	tables layout.Tables
	clock  crawler.Clock
}

// NewFrontier connects to Postgres and creates the frontier tables when missing.
func NewFrontier(ctx context.Context, cfg Config, clock crawler.Clock) (*Frontier, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	tables, err := layout.New(cfg.Name)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, crawler.NewStorageError("connect", cfg.Name, err)
	}
	f := &Frontier{pool: p, tables: tables, clock: clock}
	if err := f.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return f, nil
}

// NewFrontierWithPool constructs a store from an existing pool (primarily for testing).
// It does not create tables; call Migrate for that.
func NewFrontierWithPool(p pool, name string, clock crawler.Clock) (*Frontier, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	tables, err := layout.New(name)
	if err != nil {
		return nil, err
	}
	return &Frontier{pool: p, tables: tables, clock: clock}, nil
}

// Migrate creates the membership and results tables if they are absent.
func (f *Frontier) Migrate(ctx context.Context) error {
	for _, table := range f.tables.URLTables() {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	seq BIGSERIAL
)`, table)
		if _, err := f.pool.Exec(ctx, stmt); err != nil {
			return crawler.NewStorageError("create", table, err)
		}
		// Tables from before seq existed get it backfilled in physical order.
		alter := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS seq BIGSERIAL`, table)
		if _, err := f.pool.Exec(ctx, alter); err != nil {
			return crawler.NewStorageError("alter", table, err)
		}
		index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_arrival ON %s (created_at, seq)`, table, table)
		if _, err := f.pool.Exec(ctx, index); err != nil {
			return crawler.NewStorageError("create index", table, err)
		}
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	title TEXT,
	author TEXT,
	published_date TIMESTAMPTZ,
	description TEXT,
	thumbnail_url TEXT,
	keywords TEXT,
	paragraphs TEXT
)`, f.tables.Results)
	if _, err := f.pool.Exec(ctx, stmt); err != nil {
		return crawler.NewStorageError("create", f.tables.Results, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (f *Frontier) Close() error {
	if f == nil || f.pool == nil {
		return nil
	}
	f.pool.Close()
	return nil
}

func (f *Frontier) now() time.Time {
	return f.clock.Now().UTC()
}

// Enqueue inserts url into Queued; conflicts are ignored.
func (f *Frontier) Enqueue(ctx context.Context, url string) error {
	return f.insert(ctx, f.pool, crawler.StateQueued, url, f.now())
}

func (f *Frontier) insert(ctx context.Context, ex execer, state crawler.State, url string, at time.Time) error {
	table, err := f.tables.For(state)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, created_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, table)
	if _, err := ex.Exec(ctx, query, url, at); err != nil {
		return crawler.NewStorageError("insert", table, err)
	}
	return nil
}

// Exists reports whether url is a member of state.
func (f *Frontier) Exists(ctx context.Context, state crawler.State, url string) (bool, error) {
	table, err := f.tables.For(state)
	if err != nil {
		return false, err
	}
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, table)
	if err := f.pool.QueryRow(ctx, query, url).Scan(&exists); err != nil {
		return false, crawler.NewStorageError("exists", table, err)
	}
	return exists, nil
}

// Count returns the cardinality of state.
func (f *Frontier) Count(ctx context.Context, state crawler.State) (uint, error) {
	table, err := f.tables.For(state)
	if err != nil {
		return 0, err
	}
	return f.count(ctx, table)
}

func (f *Frontier) count(ctx context.Context, table string) (uint, error) {
	var n int64
	if err := f.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n); err != nil {
		return 0, crawler.NewStorageError("count", table, err)
	}
	return uint(n), nil
}

// List returns every member of state ordered by enqueue time.
func (f *Frontier) List(ctx context.Context, state crawler.State) ([]string, error) {
	table, err := f.tables.For(state)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id FROM %s ORDER BY created_at, seq`, table)
	return f.selectIDs(ctx, f.pool, table, query)
}

// ListN returns the first n members of state ordered by enqueue time.
func (f *Frontier) ListN(ctx context.Context, state crawler.State, n uint) ([]string, error) {
	table, err := f.tables.For(state)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT id FROM %s ORDER BY created_at, seq LIMIT $1`, table)
	return f.selectIDs(ctx, f.pool, table, query, int64(n))
}

type querier interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
}

func (f *Frontier) selectIDs(ctx context.Context, q querier, table, query string, args ...any) ([]string, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, crawler.NewStorageError("list", table, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, crawler.NewStorageError("list", table, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, crawler.NewStorageError("list", table, err)
	}
	return ids, nil
}

// Move deletes url from one state and inserts it into another in one transaction.
// Any stray row for url in the remaining states is cleared too.
// It returns crawler.ErrNotInState when url is not a member of from.
func (f *Frontier) Move(ctx context.Context, url string, from, to crawler.State) error {
	fromTable, err := f.tables.For(from)
	if err != nil {
		return err
	}
	if _, err := f.tables.For(to); err != nil {
		return err
	}
	return f.withTx(ctx, "move", fromTable, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, fromTable), url)
		if err != nil {
			return crawler.NewStorageError("delete", fromTable, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("move %s from %s: %w", url, from, crawler.ErrNotInState)
		}
		for _, other := range f.tables.Except(from, to) {
			if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, other), url); err != nil {
				return crawler.NewStorageError("delete", other, err)
			}
		}
		return f.insert(ctx, tx, to, url, f.now())
	})
}

// Delete removes url from state.
func (f *Frontier) Delete(ctx context.Context, state crawler.State, url string) error {
	table, err := f.tables.For(state)
	if err != nil {
		return err
	}
	if _, err := f.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), url); err != nil {
		return crawler.NewStorageError("delete", table, err)
	}
	return nil
}

// PutArticle stores article under url unless a row already exists.
func (f *Frontier) PutArticle(ctx context.Context, url string, article crawler.Article) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	created_at,
	title,
	author,
	published_date,
	description,
	thumbnail_url,
	keywords,
	paragraphs
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
) ON CONFLICT (id) DO NOTHING`, f.tables.Results)

	var published *time.Time
	if !article.PublishedDate.IsZero() {
		p := article.PublishedDate
		published = &p
	}
	args := []any{
		url,
		f.now(),
		nullable(article.Title),
		nullable(article.Author),
		published,
		nullable(article.Description),
		nullable(article.ThumbnailURL),
		nullable(layout.JoinKeywords(article.Keywords)),
		nullable(layout.JoinParagraphs(article.Paragraphs)),
	}
	if _, err := f.pool.Exec(ctx, query, args...); err != nil {
		return crawler.NewStorageError("insert", f.tables.Results, err)
	}
	return nil
}

// GetArticle reads back the stored article for url.
func (f *Frontier) GetArticle(ctx context.Context, url string) (crawler.Article, error) {
	query := fmt.Sprintf(`
SELECT
	id,
	created_at,
	COALESCE(title, ''),
	COALESCE(author, ''),
	published_date,
	COALESCE(description, ''),
	COALESCE(thumbnail_url, ''),
	COALESCE(keywords, ''),
	COALESCE(paragraphs, '')
FROM %s WHERE id = $1`, f.tables.Results)

	var (
		a          crawler.Article
		published  *time.Time
		keywords   string
		paragraphs string
	)
	err := f.pool.QueryRow(ctx, query, url).Scan(
		&a.URL,
		&a.CreatedAt,
		&a.Title,
		&a.Author,
		&published,
		&a.Description,
		&a.ThumbnailURL,
		&keywords,
		&paragraphs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Article{}, fmt.Errorf("article %s: %w", url, crawler.ErrNotFound)
		}
		return crawler.Article{}, crawler.NewStorageError("get", f.tables.Results, err)
	}
	if published != nil {
		a.PublishedDate = *published
	}
	a.Keywords = layout.SplitKeywords(keywords)
	a.Paragraphs = layout.SplitParagraphs(paragraphs)
	return a, nil
}

// ArticleCount returns the number of stored articles.
func (f *Frontier) ArticleCount(ctx context.Context) (uint, error) {
	return f.count(ctx, f.tables.Results)
}

// MergeRunningIntoQueued requeues every URL orphaned in Running by an unclean shutdown.
// Requeued URLs keep their relative Running order.
func (f *Frontier) MergeRunningIntoQueued(ctx context.Context) (int, error) {
	running, _ := f.tables.For(crawler.StateRunning)
	var moved int
	err := f.withTx(ctx, "merge", running, func(tx pgx.Tx) error {
		urls, err := f.selectIDs(ctx, tx, running, fmt.Sprintf(`SELECT id FROM %s ORDER BY created_at, seq`, running))
		if err != nil {
			return err
		}
		base := f.now()
		for i, url := range urls {
			if err := f.insert(ctx, tx, crawler.StateQueued, url, base.Add(time.Duration(i)*time.Microsecond)); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, running)); err != nil {
			return crawler.NewStorageError("delete", running, err)
		}
		moved = len(urls)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// PruneQueued drops queued URLs that are already visited or archived.
func (f *Frontier) PruneQueued(ctx context.Context) (int, error) {
	queued, _ := f.tables.For(crawler.StateQueued)
	visited, _ := f.tables.For(crawler.StateVisited)
	query := fmt.Sprintf(`DELETE FROM %s WHERE id IN (SELECT id FROM %s) OR id IN (SELECT id FROM %s)`,
		queued, visited, f.tables.Results)
	tag, err := f.pool.Exec(ctx, query)
	if err != nil {
		return 0, crawler.NewStorageError("prune", queued, err)
	}
	return int(tag.RowsAffected()), nil
}

func (f *Frontier) withTx(ctx context.Context, op, table string, fn func(tx pgx.Tx) error) error {
	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return crawler.NewStorageError(op+" begin", table, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return crawler.NewStorageError(op+" commit", table, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
