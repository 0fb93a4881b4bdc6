package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for catalog reads and cache writes.
var (
	// ErrRemoteUnavailable is returned when the remote catalog could not be
	// reached or answered with a non-success status.
	ErrRemoteUnavailable = errors.New("remote catalog unavailable")
	// ErrEmptyUpstream is returned when the remote catalog answered
	// successfully but without a usable payload.
	ErrEmptyUpstream = errors.New("remote catalog returned no data")
	// ErrCacheUnavailable is returned when the local cache could not be read
	// or written.
	ErrCacheUnavailable = errors.New("catalog cache unavailable")
	// ErrNotFound is returned when a product is not present in the cache.
	ErrNotFound = errors.New("product not found")
)

// Product is a catalog item. Optional text fields are empty when absent.
type Product struct {
	ID          int
	Title       string
	Price       string
	Category    string
	Description string
	Image       string
}

// Amount parses the textual price.
func (p Product) Amount() (decimal.Decimal, error) {
	if p.Price == "" {
		return decimal.Zero, errors.New("price is empty")
	}
	d, err := decimal.NewFromString(p.Price)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse price %q", p.Price)
	}
	return d, nil
}

// Category is a named product grouping. The name is its identity.
type Category struct {
	Name string
}

// CategoryNames returns the names of the given categories in order.
func CategoryNames(categories []Category) []string {
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = c.Name
	}
	return names
}

// Remote is the read-only client of the upstream catalog service.
type Remote interface {
	Categories(ctx context.Context) ([]string, error)
	// ProductsByCategory returns products of a category. A positive limit is
	// passed to the service; zero means no limit.
	ProductsByCategory(ctx context.Context, category string, limit int) ([]Product, error)
	Product(ctx context.Context, id int) (*Product, error)
}

// Cache is the local persistent store of categories and products.
type Cache interface {
	Categories(ctx context.Context) ([]Category, error)
	// ProductsByCategory returns cached products ordered by id. A positive
	// limit caps the number of rows.
	ProductsByCategory(ctx context.Context, category string, limit int) ([]Product, error)
	ProductByID(ctx context.Context, id int) (*Product, error)
	UpsertCategories(ctx context.Context, categories []Category) error
	UpsertProducts(ctx context.Context, products []Product) error
	DeleteCategory(ctx context.Context, category string) error
	Ping(ctx context.Context) error
	Close() error
}
