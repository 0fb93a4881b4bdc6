// Package sqlite implements the catalog cache on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/xenking/storefront/db"
	"github.com/xenking/storefront/internal/domain/catalog"
)

const (
	insertCategorySQL = `INSERT INTO categories (category, seq)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM categories))
		ON CONFLICT (category) DO NOTHING`

	upsertProductSQL = `INSERT INTO product (id, title, price, category, description, image)
		VALUES (:id, :title, :price, :category, :description, :image)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			price = excluded.price,
			category = excluded.category,
			description = excluded.description,
			image = excluded.image`

	listCategoriesSQL = `SELECT category FROM categories ORDER BY seq`

	// LIMIT -1 means no limit.
	listProductsByCategorySQL = `SELECT id, title, price, category, description, image
		FROM product WHERE category = ? ORDER BY id LIMIT ?`

	getProductByIDSQL = `SELECT id, title, price, category, description, image
		FROM product WHERE id = ?`

	deleteCategorySQL = `DELETE FROM categories WHERE category = ?`
)

var _ catalog.Cache = (*Store)(nil)

// Store is a catalog.Cache backed by SQLite.
type Store struct {
	db *sqlx.DB
	lg *zap.Logger
}

// DSN builds a modernc.org/sqlite data source name for path with foreign
// keys enforced.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	return "file:" + path + "?" + q.Encode()
}

// Open opens (creating if needed) the cache file at path and applies the
// schema.
func Open(ctx context.Context, path string, lg *zap.Logger) (*Store, error) {
	if lg == nil {
		lg = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, errors.Wrap(err, "create cache dir")
		}
	}

	conn, err := sqlx.Open("sqlite", DSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "ping")
	}
	if _, err := conn.ExecContext(ctx, db.SQLiteSchema); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "apply schema")
	}

	lg.Debug("Cache opened", zap.String("path", path))
	return &Store{db: conn, lg: lg}, nil
}

type productRow struct {
	ID          int            `db:"id"`
	Title       sql.NullString `db:"title"`
	Price       sql.NullString `db:"price"`
	Category    sql.NullString `db:"category"`
	Description sql.NullString `db:"description"`
	Image       sql.NullString `db:"image"`
}

func toRow(p catalog.Product) productRow {
	return productRow{
		ID:          p.ID,
		Title:       nullable(p.Title),
		Price:       nullable(p.Price),
		Category:    nullable(p.Category),
		Description: nullable(p.Description),
		Image:       nullable(p.Image),
	}
}

func (r productRow) product() catalog.Product {
	return catalog.Product{
		ID:          r.ID,
		Title:       r.Title.String,
		Price:       r.Price.String,
		Category:    r.Category.String,
		Description: r.Description.String,
		Image:       r.Image.String,
	}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Categories returns every cached category in insertion order.
func (s *Store) Categories(ctx context.Context) ([]catalog.Category, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names, listCategoriesSQL); err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	categories := make([]catalog.Category, len(names))
	for i, name := range names {
		categories[i] = catalog.Category{Name: name}
	}
	return categories, nil
}

// ProductsByCategory returns cached products of category ordered by id,
// at most limit of them when limit is positive.
func (s *Store) ProductsByCategory(ctx context.Context, category string, limit int) ([]catalog.Product, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []productRow
	if err := s.db.SelectContext(ctx, &rows, listProductsByCategorySQL, category, limit); err != nil {
		return nil, errors.Wrapf(err, "list products of %q", category)
	}
	products := make([]catalog.Product, len(rows))
	for i, row := range rows {
		products[i] = row.product()
	}
	return products, nil
}

// ProductByID returns a cached product or catalog.ErrNotFound.
func (s *Store) ProductByID(ctx context.Context, id int) (*catalog.Product, error) {
	var row productRow
	if err := s.db.GetContext(ctx, &row, getProductByIDSQL, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %d", id)
	}
	p := row.product()
	return &p, nil
}

// UpsertCategories inserts categories that are not cached yet. Existing
// categories keep their position.
func (s *Store) UpsertCategories(ctx context.Context, categories []catalog.Category) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, c := range categories {
			if _, err := tx.ExecContext(ctx, insertCategorySQL, c.Name); err != nil {
				return errors.Wrapf(err, "insert category %q", c.Name)
			}
		}
		return nil
	})
}

// UpsertProducts inserts or replaces products by id in one transaction.
// Missing categories are created first.
func (s *Store) UpsertProducts(ctx context.Context, products []catalog.Product) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		seen := make(map[string]struct{})
		for _, p := range products {
			if p.Category == "" {
				continue
			}
			if _, ok := seen[p.Category]; ok {
				continue
			}
			seen[p.Category] = struct{}{}
			if _, err := tx.ExecContext(ctx, insertCategorySQL, p.Category); err != nil {
				return errors.Wrapf(err, "insert category %q", p.Category)
			}
		}

		stmt, err := tx.PrepareNamedContext(ctx, upsertProductSQL)
		if err != nil {
			return errors.Wrap(err, "prepare upsert")
		}
		defer func() { _ = stmt.Close() }()

		for _, p := range products {
			if _, err := stmt.ExecContext(ctx, toRow(p)); err != nil {
				return errors.Wrapf(err, "upsert product %d", p.ID)
			}
		}
		return nil
	})
}

// DeleteCategory removes category and, by cascade, its products.
func (s *Store) DeleteCategory(ctx context.Context, category string) error {
	if _, err := s.db.ExecContext(ctx, deleteCategorySQL, category); err != nil {
		return errors.Wrapf(err, "delete category %q", category)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (rerr error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if rerr != nil {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				s.lg.Warn("Rollback failed", zap.Error(err))
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}
