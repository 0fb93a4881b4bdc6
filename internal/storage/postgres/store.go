// Package postgres implements the catalog cache on PostgreSQL, for
// deployments where several server replicas share one cache.
package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/db"
	"github.com/xenking/storefront/internal/domain/catalog"
)

const (
	insertCategorySQL = `INSERT INTO categories (category) VALUES ($1)
		ON CONFLICT (category) DO NOTHING`

	upsertProductSQL = `INSERT INTO product (id, title, price, category, description, image)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			price = EXCLUDED.price,
			category = EXCLUDED.category,
			description = EXCLUDED.description,
			image = EXCLUDED.image`

	listCategoriesSQL = `SELECT category FROM categories ORDER BY seq`

	// LIMIT NULL means no limit.
	listProductsByCategorySQL = `SELECT id, title, price, category, description, image
		FROM product WHERE category = $1 ORDER BY id LIMIT $2`

	getProductByIDSQL = `SELECT id, title, price, category, description, image
		FROM product WHERE id = $1`

	deleteCategorySQL = `DELETE FROM categories WHERE category = $1`
)

var _ catalog.Cache = (*Store)(nil)

// Store is a catalog.Cache backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewPool creates a pgxpool.Pool for databaseURL and verifies the
// connection.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the embedded cache schema against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, db.PostgresSchema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Open connects to databaseURL, applies the schema and returns a Store that
// owns the pool.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return New(pool), nil
}

// New returns a Store that uses the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Categories returns every cached category in insertion order.
func (s *Store) Categories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := s.pool.Query(ctx, listCategoriesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Category, error) {
		var c catalog.Category
		err := row.Scan(&c.Name)
		return c, err
	})
}

// ProductsByCategory returns cached products of category ordered by id,
// at most limit of them when limit is positive.
func (s *Store) ProductsByCategory(ctx context.Context, category string, limit int) ([]catalog.Product, error) {
	var lim pgtype.Int8
	if limit > 0 {
		lim = pgtype.Int8{Int64: int64(limit), Valid: true}
	}
	rows, err := s.pool.Query(ctx, listProductsByCategorySQL, category, lim)
	if err != nil {
		return nil, fmt.Errorf("listing products of %q: %w", category, err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// ProductByID returns a cached product or catalog.ErrNotFound.
func (s *Store) ProductByID(ctx context.Context, id int) (*catalog.Product, error) {
	rows, err := s.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

// UpsertCategories inserts categories that are not cached yet. Existing
// categories keep their position.
func (s *Store) UpsertCategories(ctx context.Context, categories []catalog.Category) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, c := range categories {
			batch.Queue(insertCategorySQL, c.Name)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting categories: %w", err)
		}
		return nil
	})
}

// UpsertProducts inserts or replaces products by id in one transaction.
// Missing categories are created first.
func (s *Store) UpsertProducts(ctx context.Context, products []catalog.Product) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		seen := make(map[string]struct{})
		for _, p := range products {
			if p.Category == "" {
				continue
			}
			if _, ok := seen[p.Category]; ok {
				continue
			}
			seen[p.Category] = struct{}{}
			batch.Queue(insertCategorySQL, p.Category)
		}
		for _, p := range products {
			batch.Queue(upsertProductSQL,
				p.ID, text(p.Title), text(p.Price), text(p.Category), text(p.Description), text(p.Image))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upserting products: %w", err)
		}
		return nil
	})
}

// DeleteCategory removes category and, by cascade, its products.
func (s *Store) DeleteCategory(ctx context.Context, category string) error {
	if _, err := s.pool.Exec(ctx, deleteCategorySQL, category); err != nil {
		return fmt.Errorf("deleting category %q: %w", category, err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var (
		p                                        catalog.Product
		title, price, category, description, img pgtype.Text
	)
	err := row.Scan(&p.ID, &title, &price, &category, &description, &img)
	p.Title = title.String
	p.Price = price.String
	p.Category = category.String
	p.Description = description.String
	p.Image = img.String
	return p, err
}
