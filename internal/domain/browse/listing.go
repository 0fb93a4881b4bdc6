package browse

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/connectivity"
	"github.com/xenking/storefront/internal/domain/catalog"
)

// Listing orchestrates the category listing screen and the product detail
// screen reached from it.
type Listing struct {
	repo   catalog.Repository
	oracle connectivity.Oracle
	cfg    Config
	m      metrics

	run      *runner
	products slot[[]catalog.Product]
	details  slot[catalog.Product]

	mu       sync.Mutex
	category string
}

// NewListing creates a Listing orchestrator. Call Close to stop in-flight
// loads.
func NewListing(repo catalog.Repository, oracle connectivity.Oracle, cfg Config) *Listing {
	cfg = cfg.withDefaults()
	l := &Listing{
		repo:   repo,
		oracle: oracle,
		cfg:    cfg,
		m:      newMetrics(cfg.MeterProvider),
		run:    newRunner(),
	}
	l.products.keepStale = true
	return l
}

// Products returns the observable category listing state.
func (l *Listing) Products() *Observable[[]catalog.Product] { return &l.products.Observable }

// Details returns the observable product detail state.
func (l *Listing) Details() *Observable[catalog.Product] { return &l.details.Observable }

// Category returns the category of the most recent listing load.
func (l *Listing) Category() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.category
}

// LoadCategory starts a background load of every product in category.
func (l *Listing) LoadCategory(category string) *Task {
	return l.run.spawn(func(ctx context.Context) {
		l.RefreshCategory(ctx, category)
	})
}

// RefreshCategory loads every product in category, publishes the result and
// returns what was published. On a remote failure the previously listed products are kept
// alongside the error.
func (l *Listing) RefreshCategory(ctx context.Context, category string) Result[[]catalog.Product] {
	l.mu.Lock()
	l.category = category
	l.mu.Unlock()

	ctx, gen, release := l.products.begin(ctx, l.run.base)
	defer release()

	online := l.oracle.Online(ctx)
	res, published := l.products.finish(ctx, gen, l.loadCategory(ctx, category, online))
	if published {
		l.m.loads.Add(ctx, 1, loadAttrs("listing", sourceOf(online), res.State()))
	}
	return res
}

func (l *Listing) loadCategory(ctx context.Context, category string, online bool) Result[[]catalog.Product] {
	lg := l.cfg.Logger.With(
		zap.String("screen", "listing"),
		zap.String("category", category),
		zap.Bool("online", online),
	)

	if !online {
		products, err := l.repo.CachedProductsByCategory(ctx, category, 0)
		if err != nil {
			lg.Error("Unable to read cached products", zap.Error(err))
			return Failure[[]catalog.Product](MsgCacheUnavailable)
		}
		if products == nil {
			products = []catalog.Product{}
		}
		return Success(products)
	}

	products, err := l.repo.FetchProductsByCategory(ctx, category, 0)
	if err != nil {
		lg.Warn("Unable to fetch products", zap.Error(err))
		return Failure[[]catalog.Product](MsgFetchList)
	}
	if err := l.repo.PersistProducts(ctx, products); err != nil {
		lg.Warn("Unable to cache products", zap.Int("count", len(products)), zap.Error(err))
	}
	return Success(products)
}

// ShowDetails publishes a product that the caller already holds in full.
func (l *Listing) ShowDetails(p catalog.Product) {
	ctx, gen, release := l.details.begin(context.Background(), l.run.base)
	defer release()
	l.details.finish(ctx, gen, Success(p))
}

// LoadDetails starts a background load of one product.
func (l *Listing) LoadDetails(id int) *Task {
	return l.run.spawn(func(ctx context.Context) {
		l.RefreshDetails(ctx, id)
	})
}

// RefreshDetails loads one product, publishes the result and returns what
// was published.
// Offline, the product is served from the cache.
func (l *Listing) RefreshDetails(ctx context.Context, id int) Result[catalog.Product] {
	ctx, gen, release := l.details.begin(ctx, l.run.base)
	defer release()

	online := l.oracle.Online(ctx)
	res, published := l.details.finish(ctx, gen, l.loadDetails(ctx, id, online))
	if published {
		l.m.loads.Add(ctx, 1, loadAttrs("details", sourceOf(online), res.State()))
	}
	return res
}

func (l *Listing) loadDetails(ctx context.Context, id int, online bool) Result[catalog.Product] {
	lg := l.cfg.Logger.With(
		zap.String("screen", "details"),
		zap.Int("product_id", id),
		zap.Bool("online", online),
	)

	var (
		p   *catalog.Product
		err error
	)
	if online {
		p, err = l.repo.FetchProductDetails(ctx, id)
	} else {
		p, err = l.repo.CachedProduct(ctx, id)
	}
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			lg.Debug("Product not cached")
		} else {
			lg.Warn("Unable to load product", zap.Error(err))
		}
		return Failure[catalog.Product](MsgFetchDetails)
	}
	return Success(*p)
}

// Close cancels in-flight loads and waits for them.
func (l *Listing) Close() { l.run.close() }
