package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Repository is the single read API over the remote catalog and the local
// cache. Remote reads never write to the cache; callers persist explicitly.
type Repository interface {
	FetchAllCategories(ctx context.Context) ([]string, error)
	FetchProductsByCategory(ctx context.Context, category string, limit int) ([]Product, error)
	FetchProductDetails(ctx context.Context, id int) (*Product, error)
	CachedCategories(ctx context.Context) ([]Category, error)
	CachedProductsByCategory(ctx context.Context, category string, limit int) ([]Product, error)
	CachedProduct(ctx context.Context, id int) (*Product, error)
	PersistProducts(ctx context.Context, products []Product) error
	PersistCategories(ctx context.Context, categories []Category) error
}

var _ Repository = (*CachedRepository)(nil)

// CachedRepository implements Repository on top of a Remote and a Cache. It
// holds no state of its own.
type CachedRepository struct {
	remote Remote
	cache  Cache
	lg     *zap.Logger
	tracer trace.Tracer
}

// NewRepository creates a CachedRepository. A nil logger or tracer provider
// disables logging or tracing respectively.
func NewRepository(remote Remote, cache Cache, lg *zap.Logger, tp trace.TracerProvider) *CachedRepository {
	if lg == nil {
		lg = zap.NewNop()
	}
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &CachedRepository{
		remote: remote,
		cache:  cache,
		lg:     lg,
		tracer: tp.Tracer("github.com/xenking/storefront/internal/domain/catalog"),
	}
}

// FetchAllCategories lists category names from the remote catalog.
func (r *CachedRepository) FetchAllCategories(ctx context.Context) (_ []string, rerr error) {
	ctx, span := r.tracer.Start(ctx, "catalog.FetchAllCategories")
	defer func() { endSpan(span, rerr) }()

	names, err := r.remote.Categories(ctx)
	if err != nil {
		return nil, remoteError(err, "fetch categories")
	}
	if len(names) == 0 {
		return nil, errors.Wrap(ErrEmptyUpstream, "fetch categories")
	}
	span.SetAttributes(attribute.Int("catalog.categories", len(names)))
	r.lg.Debug("Fetched categories", zap.Int("count", len(names)))
	return names, nil
}

// FetchProductsByCategory lists products of a category from the remote
// catalog. The limit is applied by the service.
func (r *CachedRepository) FetchProductsByCategory(ctx context.Context, category string, limit int) (_ []Product, rerr error) {
	ctx, span := r.tracer.Start(ctx, "catalog.FetchProductsByCategory", trace.WithAttributes(
		attribute.String("catalog.category", category),
		attribute.Int("catalog.limit", limit),
	))
	defer func() { endSpan(span, rerr) }()

	products, err := r.remote.ProductsByCategory(ctx, category, limit)
	if err != nil {
		return nil, remoteError(err, "fetch products of %q", category)
	}
	if len(products) == 0 {
		return nil, errors.Wrapf(ErrEmptyUpstream, "fetch products of %q", category)
	}
	r.lg.Debug("Fetched products",
		zap.String("category", category),
		zap.Int("limit", limit),
		zap.Int("count", len(products)),
	)
	return products, nil
}

// FetchProductDetails returns one product from the remote catalog.
func (r *CachedRepository) FetchProductDetails(ctx context.Context, id int) (_ *Product, rerr error) {
	ctx, span := r.tracer.Start(ctx, "catalog.FetchProductDetails", trace.WithAttributes(
		attribute.Int("catalog.product_id", id),
	))
	defer func() { endSpan(span, rerr) }()

	p, err := r.remote.Product(ctx, id)
	if err != nil {
		return nil, remoteError(err, "fetch product %d", id)
	}
	if p == nil {
		return nil, errors.Wrapf(ErrEmptyUpstream, "fetch product %d", id)
	}
	return p, nil
}

// CachedCategories returns every cached category in insertion order.
func (r *CachedRepository) CachedCategories(ctx context.Context) (_ []Category, rerr error) {
	ctx, span := r.tracer.Start(ctx, "catalog.CachedCategories")
	defer func() { endSpan(span, rerr) }()

	categories, err := r.cache.Categories(ctx)
	if err != nil {
		return nil, cacheError(err, "read cached categories")
	}
	return categories, nil
}

// CachedProductsByCategory returns cached products of a category ordered by
// id, at most limit rows when limit is positive.
func (r *CachedRepository) CachedProductsByCategory(ctx context.Context, category string, limit int) (_ []Product, rerr error) {
	ctx, span := r.tracer.Start(ctx, "catalog.CachedProductsByCategory", trace.WithAttributes(
		attribute.String("catalog.category", category),
		attribute.Int("catalog.limit", limit),
	))
	defer func() { endSpan(span, rerr) }()

	products, err := r.cache.ProductsByCategory(ctx, category, limit)
	if err != nil {
		return nil, cacheError(err, "read cached products of %q", category)
	}
	return products, nil
}

// CachedProduct returns a cached product by id. It returns ErrNotFound when
// the product was never cached.
func (r *CachedRepository) CachedProduct(ctx context.Context, id int) (_ *Product, rerr error) {
	ctx, span := r.tracer.Start(ctx, "catalog.CachedProduct", trace.WithAttributes(
		attribute.Int("catalog.product_id", id),
	))
	defer func() { endSpan(span, rerr) }()

	p, err := r.cache.ProductByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, cacheError(err, "read cached product %d", id)
	}
	return p, nil
}

// PersistProducts upserts products by id.
func (r *CachedRepository) PersistProducts(ctx context.Context, products []Product) (rerr error) {
	if len(products) == 0 {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "catalog.PersistProducts", trace.WithAttributes(
		attribute.Int("catalog.products", len(products)),
	))
	defer func() { endSpan(span, rerr) }()

	if err := r.cache.UpsertProducts(ctx, products); err != nil {
		return cacheError(err, "persist products")
	}
	r.lg.Debug("Persisted products", zap.Int("count", len(products)))
	return nil
}

// PersistCategories upserts categories by name.
func (r *CachedRepository) PersistCategories(ctx context.Context, categories []Category) (rerr error) {
	if len(categories) == 0 {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "catalog.PersistCategories", trace.WithAttributes(
		attribute.Int("catalog.categories", len(categories)),
	))
	defer func() { endSpan(span, rerr) }()

	if err := r.cache.UpsertCategories(ctx, categories); err != nil {
		return cacheError(err, "persist categories")
	}
	r.lg.Debug("Persisted categories", zap.Int("count", len(categories)))
	return nil
}

// remoteError makes sure a remote failure matches ErrRemoteUnavailable or
// ErrEmptyUpstream while keeping the original cause.
func remoteError(err error, format string, args ...any) error {
	if !errors.Is(err, ErrEmptyUpstream) && !errors.Is(err, ErrRemoteUnavailable) && !errors.Is(err, context.Canceled) {
		err = &kindError{kind: ErrRemoteUnavailable, cause: err}
	}
	return errors.Wrapf(err, format, args...)
}

func cacheError(err error, format string, args ...any) error {
	if !errors.Is(err, ErrCacheUnavailable) {
		err = &kindError{kind: ErrCacheUnavailable, cause: err}
	}
	return errors.Wrapf(err, format, args...)
}

// kindError tags cause with one of the sentinel errors.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string        { return e.kind.Error() + ": " + e.cause.Error() }
func (e *kindError) Unwrap() error        { return e.cause }
func (e *kindError) Is(target error) bool { return target == e.kind }

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
