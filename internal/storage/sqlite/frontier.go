// Package sqlite provides the SQLite-backed frontier store, one database file per crawl name.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/tisorlawan/indonesian-media-crawler/internal/crawler"
	"github.com/tisorlawan/indonesian-media-crawler/internal/storage/layout"
)

const defaultBusyTimeout = 5 * time.Second

// Config controls where the database lives and how tables are named.
type Config struct {
	// Dir holds `{Name}.db`. Ignored when Path is set.
	Dir string
	// Path overrides the database file location.
	Path string
	// Name is the crawl namespace used as the table prefix.
	Name        string
	BusyTimeout time.Duration
}

// Frontier implements crawler.Frontier on SQLite.
type Frontier struct {
	db     *sqlx.DB
	tables layout.Tables
	clock  crawler.Clock
}

type articleRow struct {
	ID            string         `db:"id"`
	CreatedAt     time.Time      `db:"created_at"`
	Title         sql.NullString `db:"title"`
	Author        sql.NullString `db:"author"`
	PublishedDate sql.NullTime   `db:"published_date"`
	Description   sql.NullString `db:"description"`
	ThumbnailURL  sql.NullString `db:"thumbnail_url"`
	Keywords      sql.NullString `db:"keywords"`
	Paragraphs    sql.NullString `db:"paragraphs"`
}

// Open creates (if missing) the database file and its tables.
func Open(ctx context.Context, cfg Config, clock crawler.Clock) (*Frontier, error) {
	tables, err := layout.New(cfg.Name)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	path := cfg.Path
	if path == "" {
		dir := cfg.Dir
		if dir == "" {
			dir = "."
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		path = filepath.Join(dir, cfg.Name+".db")
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_txlock=immediate", path, busy.Milliseconds())
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, crawler.NewStorageError("open", path, err)
	}
	// A single connection serialises writers; SQLite allows only one at a time anyway.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, crawler.NewStorageError("ping", path, err)
	}
	f := &Frontier{db: db, tables: tables, clock: clock}
	if err := f.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return f, nil
}

func (f *Frontier) createTables(ctx context.Context) error {
	for _, table := range f.tables.URLTables() {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	created_at DATETIME
)`, table)
		if _, err := f.db.ExecContext(ctx, stmt); err != nil {
			return crawler.NewStorageError("create", table, err)
		}
		index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_created_at ON %s (created_at)`, table, table)
		if _, err := f.db.ExecContext(ctx, index); err != nil {
			return crawler.NewStorageError("create index", table, err)
		}
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	created_at DATETIME,
	title TEXT,
	author TEXT,
	published_date DATETIME,
	description TEXT,
	thumbnail_url TEXT,
	keywords TEXT,
	paragraphs TEXT
)`, f.tables.Results)
	if _, err := f.db.ExecContext(ctx, stmt); err != nil {
		return crawler.NewStorageError("create", f.tables.Results, err)
	}
	return nil
}

// Close releases the database handle.
func (f *Frontier) Close() error {
	if f == nil || f.db == nil {
		return nil
	}
	if err := f.db.Close(); err != nil {
		return crawler.NewStorageError("close", f.tables.Name, err)
	}
	return nil
}

func (f *Frontier) now() time.Time {
	return f.clock.Now().UTC()
}

// Enqueue inserts url into Queued; an existing row is left untouched.
func (f *Frontier) Enqueue(ctx context.Context, url string) error {
	return f.insert(ctx, f.db, crawler.StateQueued, url)
}

func (f *Frontier) insert(ctx context.Context, ext sqlx.ExecerContext, state crawler.State, url string) error {
	table, err := f.tables.For(state)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT OR IGNORE INTO %s (id, created_at) VALUES (?, ?)`, table)
	if _, err := ext.ExecContext(ctx, query, url, f.now()); err != nil {
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
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = ?)`, table)
	if err := f.db.GetContext(ctx, &exists, query, url); err != nil {
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
	if err := f.db.GetContext(ctx, &n, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)); err != nil {
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
	var urls []string
	query := fmt.Sprintf(`SELECT id FROM %s ORDER BY created_at, rowid`, table)
	if err := f.db.SelectContext(ctx, &urls, query); err != nil {
		return nil, crawler.NewStorageError("list", table, err)
	}
	return urls, nil
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
	var urls []string
	query := fmt.Sprintf(`SELECT id FROM %s ORDER BY created_at, rowid LIMIT ?`, table)
	if err := f.db.SelectContext(ctx, &urls, query, int64(n)); err != nil {
		return nil, crawler.NewStorageError("list", table, err)
	}
	return urls, nil
}

// Move deletes url from one state and inserts it into another in a single transaction.
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
	return f.withTx(ctx, "move", fromTable, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, fromTable), url)
		if err != nil {
			return crawler.NewStorageError("delete", fromTable, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return crawler.NewStorageError("delete", fromTable, err)
		}
		if n == 0 {
			return fmt.Errorf("move %s from %s: %w", url, from, crawler.ErrNotInState)
		}
		for _, other := range f.tables.Except(from, to) {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, other), url); err != nil {
				return crawler.NewStorageError("delete", other, err)
			}
		}
		return f.insert(ctx, tx, to, url)
	})
}

// Delete removes url from state.
func (f *Frontier) Delete(ctx context.Context, state crawler.State, url string) error {
	table, err := f.tables.For(state)
	if err != nil {
		return err
	}
	if _, err := f.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), url); err != nil {
		return crawler.NewStorageError("delete", table, err)
	}
	return nil
}

// PutArticle stores article under url unless a row already exists.
func (f *Frontier) PutArticle(ctx context.Context, url string, article crawler.Article) error {
	row := articleRow{
		ID:            url,
		CreatedAt:     f.now(),
		Title:         nullString(article.Title),
		Author:        nullString(article.Author),
		PublishedDate: sql.NullTime{Time: article.PublishedDate, Valid: !article.PublishedDate.IsZero()},
		Description:   nullString(article.Description),
		ThumbnailURL:  nullString(article.ThumbnailURL),
		Keywords:      nullString(layout.JoinKeywords(article.Keywords)),
		Paragraphs:    nullString(layout.JoinParagraphs(article.Paragraphs)),
	}
	query := fmt.Sprintf(`INSERT OR IGNORE INTO %s (
	id, created_at, title, author, published_date, description, thumbnail_url, keywords, paragraphs
) VALUES (
	:id, :created_at, :title, :author, :published_date, :description, :thumbnail_url, :keywords, :paragraphs
)`, f.tables.Results)
	if _, err := f.db.NamedExecContext(ctx, query, row); err != nil {
		return crawler.NewStorageError("insert", f.tables.Results, err)
	}
	return nil
}

// GetArticle reads back the stored article for url.
func (f *Frontier) GetArticle(ctx context.Context, url string) (crawler.Article, error) {
	var row articleRow
	query := fmt.Sprintf(`SELECT id, created_at, title, author, published_date, description,
	thumbnail_url, keywords, paragraphs FROM %s WHERE id = ?`, f.tables.Results)
	if err := f.db.GetContext(ctx, &row, query, url); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crawler.Article{}, fmt.Errorf("article %s: %w", url, crawler.ErrNotFound)
		}
		return crawler.Article{}, crawler.NewStorageError("get", f.tables.Results, err)
	}
	return row.toArticle(), nil
}

// ArticleCount returns the number of stored articles.
func (f *Frontier) ArticleCount(ctx context.Context) (uint, error) {
	return f.count(ctx, f.tables.Results)
}

// MergeRunningIntoQueued requeues every URL orphaned in Running by an unclean shutdown.
func (f *Frontier) MergeRunningIntoQueued(ctx context.Context) (int, error) {
	running, err := f.tables.For(crawler.StateRunning)
	if err != nil {
		return 0, err
	}
	var moved int
	err = f.withTx(ctx, "merge", running, func(tx *sqlx.Tx) error {
		var urls []string
		if err := tx.SelectContext(ctx, &urls, fmt.Sprintf(`SELECT id FROM %s ORDER BY created_at, rowid`, running)); err != nil {
			return crawler.NewStorageError("list", running, err)
		}
		for _, url := range urls {
			if err := f.insert(ctx, tx, crawler.StateQueued, url); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, running)); err != nil {
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
	res, err := f.db.ExecContext(ctx, query)
	if err != nil {
		return 0, crawler.NewStorageError("prune", queued, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, crawler.NewStorageError("prune", queued, err)
	}
	return int(n), nil
}

func (f *Frontier) withTx(ctx context.Context, op, table string, fn func(tx *sqlx.Tx) error) error {
	tx, err := f.db.BeginTxx(ctx, nil)
	if err != nil {
		return crawler.NewStorageError(op+" begin", table, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return crawler.NewStorageError(op+" commit", table, err)
	}
	return nil
}

func (r articleRow) toArticle() crawler.Article {
	a := crawler.Article{
		URL:          r.ID,
		Title:        r.Title.String,
		Author:       r.Author.String,
		Description:  r.Description.String,
		ThumbnailURL: r.ThumbnailURL.String,
		Keywords:     layout.SplitKeywords(r.Keywords.String),
		Paragraphs:   layout.SplitParagraphs(r.Paragraphs.String),
		CreatedAt:    r.CreatedAt,
	}
	if r.PublishedDate.Valid {
		a.PublishedDate = r.PublishedDate.Time
	}
	return a
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
