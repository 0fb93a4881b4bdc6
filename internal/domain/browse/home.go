package browse

import (
	"context"

	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/connectivity"
	"github.com/xenking/storefront/internal/domain/catalog"
)

// Section is one category of the home screen with its sample products.
type Section struct {
	Category string
	Products []catalog.Product
}

// Home orchestrates the home screen: every category with a few sample
// products.
type Home struct {
	repo   catalog.Repository
	oracle connectivity.Oracle
	cfg    Config
	m      metrics

	run      *runner
	sections slot[[]Section]
}

// NewHome creates a Home orchestrator. Call Close to stop in-flight loads.
func NewHome(repo catalog.Repository, oracle connectivity.Oracle, cfg Config) *Home {
	cfg = cfg.withDefaults()
	return &Home{
		repo:   repo,
		oracle: oracle,
		cfg:    cfg,
		m:      newMetrics(cfg.MeterProvider),
		run:    newRunner(),
	}
}

// Sections returns the observable home screen state.
func (h *Home) Sections() *Observable[[]Section] { return &h.sections.Observable }

// Load starts a background refresh, superseding any refresh in flight.
func (h *Home) Load() *Task {
	return h.run.spawn(func(ctx context.Context) {
		h.Refresh(ctx)
	})
}

// Refresh recomputes the home screen, publishes it and returns the published
// result. Every run replaces the previous sections: Loading and Error carry
// no data.
func (h *Home) Refresh(ctx context.Context) Result[[]Section] {
	ctx, gen, release := h.sections.begin(ctx, h.run.base)
	defer release()

	online := h.oracle.Online(ctx)
	res, published := h.sections.finish(ctx, gen, h.load(ctx, online))
	if published {
		h.m.loads.Add(ctx, 1, loadAttrs("home", sourceOf(online), res.State()))
	}
	return res
}

// Close cancels in-flight loads and waits for them.
func (h *Home) Close() { h.run.close() }

func (h *Home) load(ctx context.Context, online bool) Result[[]Section] {
	lg := h.cfg.Logger.With(zap.String("screen", "home"), zap.Bool("online", online))

	var names []string
	if online {
		fetched, err := h.repo.FetchAllCategories(ctx)
		if err != nil {
			// No cache fallback while connected: the screen shows no categories.
			lg.Warn("Unable to fetch categories", zap.Error(err))
		} else {
			names = fetched
			if err := h.repo.PersistCategories(ctx, toCategories(names)); err != nil {
				lg.Warn("Unable to cache categories", zap.Error(err))
			}
		}
	} else {
		cached, err := h.repo.CachedCategories(ctx)
		if err != nil {
			lg.Error("Unable to read cached categories", zap.Error(err))
			return Failure[[]Section](MsgCacheUnavailable)
		}
		names = catalog.CategoryNames(cached)
	}

	sections := make([]Section, 0, len(names))
	var fetched []catalog.Product
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return Failure[[]Section](MsgCancelled)
		}

		var (
			products []catalog.Product
			err      error
		)
		if online {
			products, err = h.repo.FetchProductsByCategory(ctx, name, h.cfg.SampleSize)
			if err == nil {
				fetched = append(fetched, products...)
			}
		} else {
			products, err = h.repo.CachedProductsByCategory(ctx, name, h.cfg.SampleSize)
		}
		if err != nil {
			lg.Warn("Unable to load category sample", zap.String("category", name), zap.Error(err))
			h.m.absorbed.Add(ctx, 1, loadAttrs("home", sourceOf(online), StateError))
			products = nil
		}
		if products == nil {
			products = []catalog.Product{}
		}
		sections = append(sections, Section{Category: name, Products: products})
	}

	if len(fetched) > 0 {
		if err := h.repo.PersistProducts(ctx, fetched); err != nil {
			lg.Warn("Unable to cache products", zap.Int("count", len(fetched)), zap.Error(err))
		}
	}

	if len(sections) == 0 {
		return Failure[[]Section](MsgNoCategories)
	}
	lg.Debug("Home loaded", zap.Int("categories", len(sections)), zap.Int("fetched", len(fetched)))
	return Success(sections)
}

func toCategories(names []string) []catalog.Category {
	categories := make([]catalog.Category, len(names))
	for i, name := range names {
		categories[i] = catalog.Category{Name: name}
	}
	return categories
}
