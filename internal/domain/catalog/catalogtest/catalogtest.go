// Package catalogtest provides in-memory fakes of the catalog Remote and
// Cache for tests.
package catalogtest

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/catalog"
)

// Remote is a scripted catalog.Remote that records every call.
type Remote struct {
	mu sync.Mutex

	CategoryNames []string
	CategoriesErr error
	// Products maps a category to the full upstream product list. The
	// requested limit is applied the way the service does it.
	Products    map[string][]catalog.Product
	ProductErrs map[string]error
	ByID        map[int]catalog.Product
	ProductErr  error

	Calls []Call
}

// Call is one recorded remote request.
type Call struct {
	Method   string
	Category string
	Limit    int
	ID       int
}

var _ catalog.Remote = (*Remote)(nil)

func (r *Remote) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, c)
}

// CallCount returns the number of recorded calls.
func (r *Remote) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// Recorded returns a copy of the recorded calls.
func (r *Remote) Recorded() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.Calls)
}

func (r *Remote) Categories(_ context.Context) ([]string, error) {
	r.record(Call{Method: "Categories"})
	if r.CategoriesErr != nil {
		return nil, r.CategoriesErr
	}
	return slices.Clone(r.CategoryNames), nil
}

func (r *Remote) ProductsByCategory(_ context.Context, category string, limit int) ([]catalog.Product, error) {
	r.record(Call{Method: "ProductsByCategory", Category: category, Limit: limit})
	if err := r.ProductErrs[category]; err != nil {
		return nil, err
	}
	products := slices.Clone(r.Products[category])
	if limit > 0 && len(products) > limit {
		products = products[:limit]
	}
	return products, nil
}

func (r *Remote) Product(_ context.Context, id int) (*catalog.Product, error) {
	r.record(Call{Method: "Product", ID: id})
	if r.ProductErr != nil {
		return nil, r.ProductErr
	}
	p, ok := r.ByID[id]
	if !ok {
		return nil, catalog.ErrEmptyUpstream
	}
	return &p, nil
}

// Cache is an in-memory catalog.Cache with upsert-by-key semantics.
type Cache struct {
	mu         sync.Mutex
	categories []catalog.Category
	products   map[int]catalog.Product

	// Err, when set, fails every operation.
	Err error
	// WriteErr, when set, fails upserts only.
	WriteErr error

	Reads  int
	Writes int
}

var _ catalog.Cache = (*Cache)(nil)

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{products: make(map[int]catalog.Product)}
}

func (c *Cache) Categories(_ context.Context) ([]catalog.Category, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Reads++
	if c.Err != nil {
		return nil, c.Err
	}
	return slices.Clone(c.categories), nil
}

func (c *Cache) ProductsByCategory(_ context.Context, category string, limit int) ([]catalog.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Reads++
	if c.Err != nil {
		return nil, c.Err
	}
	var out []catalog.Product
	for _, p := range c.products {
		if p.Category == category {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b catalog.Product) int { return cmp.Compare(a.ID, b.ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Cache) ProductByID(_ context.Context, id int) (*catalog.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Reads++
	if c.Err != nil {
		return nil, c.Err
	}
	p, ok := c.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

func (c *Cache) UpsertCategories(_ context.Context, categories []catalog.Category) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeErr(); err != nil {
		return err
	}
	for _, cat := range categories {
		c.addCategory(cat.Name)
	}
	return nil
}

func (c *Cache) UpsertProducts(_ context.Context, products []catalog.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeErr(); err != nil {
		return err
	}
	for _, p := range products {
		c.addCategory(p.Category)
		c.products[p.ID] = p
	}
	return nil
}

func (c *Cache) DeleteCategory(_ context.Context, category string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeErr(); err != nil {
		return err
	}
	c.categories = slices.DeleteFunc(c.categories, func(cat catalog.Category) bool {
		return cat.Name == category
	})
	for id, p := range c.products {
		if p.Category == category {
			delete(c.products, id)
		}
	}
	return nil
}

func (c *Cache) Ping(_ context.Context) error { return c.Err }

func (c *Cache) Close() error { return nil }

// ProductCount returns the number of cached products.
func (c *Cache) ProductCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.products)
}

func (c *Cache) writeErr() error {
	c.Writes++
	if c.Err != nil {
		return c.Err
	}
	return c.WriteErr
}

func (c *Cache) addCategory(name string) {
	if name == "" {
		return
	}
	if slices.ContainsFunc(c.categories, func(cat catalog.Category) bool { return cat.Name == name }) {
		return
	}
	c.categories = append(c.categories, catalog.Category{Name: name})
}

// ErrInjected is a generic failure for tests.
var ErrInjected = errors.New("injected failure")
