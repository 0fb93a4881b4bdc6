package browse_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/connectivity"
	"github.com/xenking/storefront/internal/domain/browse"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/catalog/catalogtest"
)

func products(category string, ids ...int) []catalog.Product {
	out := make([]catalog.Product, len(ids))
	for i, id := range ids {
		out[i] = catalog.Product{
			ID:       id,
			Title:    category + " item",
			Price:    "9.99",
			Category: category,
		}
	}
	return out
}

func newHome(t *testing.T, remote catalog.Remote, cache catalog.Cache, online bool) *browse.Home {
	t.Helper()
	repo := catalog.NewRepository(remote, cache, nil, nil)
	h := browse.NewHome(repo, connectivity.Static(online), browse.Config{})
	t.Cleanup(h.Close)
	return h
}

func sectionSizes(t *testing.T, r browse.Result[[]browse.Section]) map[string]int {
	t.Helper()
	sections, ok := r.Data()
	require.True(t, ok, "result has no data")
	sizes := make(map[string]int, len(sections))
	for _, s := range sections {
		sizes[s.Category] = len(s.Products)
	}
	return sizes
}

func TestHome_OnlineCapsSamplesAndPersists(t *testing.T) {
	remote := &catalogtest.Remote{
		CategoryNames: []string{"jewelery", "electronics"},
		Products: map[string][]catalog.Product{
			"jewelery":    products("jewelery", 5, 6),
			"electronics": products("electronics", 9, 10, 11, 12, 13),
		},
	}
	cache := catalogtest.NewCache()
	h := newHome(t, remote, cache, true)

	res := h.Refresh(context.Background())
	require.True(t, res.IsSuccess(), res.Message())

	sections, _ := res.Data()
	require.Len(t, sections, 2)
	assert.Equal(t, "jewelery", sections[0].Category)
	assert.Equal(t, "electronics", sections[1].Category)
	assert.Len(t, sections[0].Products, 2)
	assert.Len(t, sections[1].Products, 3)

	assert.Equal(t, 5, cache.ProductCount(), "only fetched products are persisted")
	cached, err := cache.Categories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"jewelery", "electronics"}, catalog.CategoryNames(cached))

	for _, c := range remote.Recorded() {
		if c.Method == "ProductsByCategory" {
			assert.Equal(t, browse.DefaultSampleSize, c.Limit, "limit is sent to the service")
		}
	}
	assert.Equal(t, res, h.Sections().Current())
}

func TestHome_OnlinePreservesCategoryOrder(t *testing.T) {
	names := []string{"women's clothing", "electronics", "men's clothing", "jewelery"}
	remote := &catalogtest.Remote{CategoryNames: names, Products: map[string][]catalog.Product{}}
	for i, name := range names {
		remote.Products[name] = products(name, i*10+1, i*10+2, i*10+3, i*10+4)
	}
	h := newHome(t, remote, catalogtest.NewCache(), true)

	res := h.Refresh(context.Background())
	require.True(t, res.IsSuccess())

	sections, _ := res.Data()
	got := make([]string, len(sections))
	for i, s := range sections {
		got[i] = s.Category
		assert.LessOrEqual(t, len(s.Products), 3)
	}
	assert.Equal(t, names, got)
}

func TestHome_OfflineReadsCacheOnly(t *testing.T) {
	remote := &catalogtest.Remote{CategoryNames: []string{"electronics"}}
	cache := catalogtest.NewCache()
	book := catalog.Product{ID: 42, Title: "Dune", Price: "12.50", Category: "books"}
	require.NoError(t, cache.UpsertCategories(context.Background(), []catalog.Category{{Name: "books"}}))
	require.NoError(t, cache.UpsertProducts(context.Background(), []catalog.Product{book}))

	h := newHome(t, remote, cache, false)
	res := h.Refresh(context.Background())

	require.True(t, res.IsSuccess(), res.Message())
	sections, _ := res.Data()
	assert.Equal(t, []browse.Section{{Category: "books", Products: []catalog.Product{book}}}, sections)
	assert.Zero(t, remote.CallCount(), "offline load must not touch the remote catalog")
}

func TestHome_OfflineCapsCachedSamples(t *testing.T) {
	cache := catalogtest.NewCache()
	require.NoError(t, cache.UpsertProducts(context.Background(), products("electronics", 13, 9, 11, 10, 12)))

	res := newHome(t, &catalogtest.Remote{}, cache, false).Refresh(context.Background())
	require.True(t, res.IsSuccess())

	sections, _ := res.Data()
	require.Len(t, sections, 1)
	ids := make([]int, 0, 3)
	for _, p := range sections[0].Products {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []int{9, 10, 11}, ids)
}

func TestHome_OfflineEmptyCache(t *testing.T) {
	res := newHome(t, &catalogtest.Remote{}, catalogtest.NewCache(), false).Refresh(context.Background())

	require.True(t, res.IsError())
	assert.Equal(t, browse.MsgNoCategories, res.Message())
}

func TestHome_OfflineCacheUnreadable(t *testing.T) {
	cache := catalogtest.NewCache()
	cache.Err = catalogtest.ErrInjected

	res := newHome(t, &catalogtest.Remote{}, cache, false).Refresh(context.Background())

	require.True(t, res.IsError())
	assert.Equal(t, browse.MsgCacheUnavailable, res.Message())
}

func TestHome_CategoryFetchFailure(t *testing.T) {
	remote := &catalogtest.Remote{CategoriesErr: catalogtest.ErrInjected}
	cache := catalogtest.NewCache()
	require.NoError(t, cache.UpsertCategories(context.Background(), []catalog.Category{{Name: "books"}}))

	res := newHome(t, remote, cache, true).Refresh(context.Background())

	require.True(t, res.IsError())
	assert.Equal(t, browse.MsgNoCategories, res.Message(), "no cache fallback while online")
}

func TestHome_AbsorbsPerCategoryFailures(t *testing.T) {
	remote := &catalogtest.Remote{
		CategoryNames: []string{"jewelery", "electronics", "books"},
		Products: map[string][]catalog.Product{
			"jewelery": products("jewelery", 5),
			"books":    products("books", 42),
		},
		ProductErrs: map[string]error{"electronics": catalogtest.ErrInjected},
	}
	cache := catalogtest.NewCache()

	res := newHome(t, remote, cache, true).Refresh(context.Background())

	require.True(t, res.IsSuccess())
	assert.Equal(t, map[string]int{"jewelery": 1, "electronics": 0, "books": 1}, sectionSizes(t, res))

	sections, _ := res.Data()
	assert.NotNil(t, sections[1].Products, "failed category yields an empty list, not nil")
	assert.Equal(t, 2, cache.ProductCount())
}

func TestHome_FailedRunReplacesSections(t *testing.T) {
	remote := &catalogtest.Remote{
		CategoryNames: []string{"jewelery"},
		Products:      map[string][]catalog.Product{"jewelery": products("jewelery", 5)},
	}
	h := newHome(t, remote, catalogtest.NewCache(), true)

	require.True(t, h.Refresh(context.Background()).IsSuccess())

	remote.CategoriesErr = catalogtest.ErrInjected
	res := h.Refresh(context.Background())

	require.True(t, res.IsError())
	assert.Equal(t, browse.MsgNoCategories, res.Message())
	_, ok := res.Data()
	assert.False(t, ok, "sections of the previous run are dropped")
	assert.Equal(t, res, h.Sections().Current())
}

// cancellingCache cancels the load after products were written.
type cancellingCache struct {
	*catalogtest.Cache
	cancel context.CancelFunc
}

func (c *cancellingCache) UpsertProducts(ctx context.Context, products []catalog.Product) error {
	err := c.Cache.UpsertProducts(ctx, products)
	c.cancel()
	return err
}

func TestHome_CompletedRunIsNotReportedCancelled(t *testing.T) {
	remote := &catalogtest.Remote{
		CategoryNames: []string{"jewelery"},
		Products:      map[string][]catalog.Product{"jewelery": products("jewelery", 5)},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHome(t, remote, &cancellingCache{Cache: catalogtest.NewCache(), cancel: cancel}, true)

	res := h.Refresh(ctx)

	require.True(t, res.IsSuccess(), res.Message())
	assert.Equal(t, res, h.Sections().Current())
}

func TestHome_CacheWriteFailureStillSucceeds(t *testing.T) {
	remote := &catalogtest.Remote{
		CategoryNames: []string{"jewelery"},
		Products:      map[string][]catalog.Product{"jewelery": products("jewelery", 5, 6)},
	}
	cache := catalogtest.NewCache()
	cache.WriteErr = catalogtest.ErrInjected

	res := newHome(t, remote, cache, true).Refresh(context.Background())

	require.True(t, res.IsSuccess())
	assert.Equal(t, map[string]int{"jewelery": 2}, sectionSizes(t, res))
	assert.Zero(t, cache.ProductCount())
}

func TestHome_LoadPublishesLoadingThenResult(t *testing.T) {
	remote := &catalogtest.Remote{
		CategoryNames: []string{"jewelery"},
		Products:      map[string][]catalog.Product{"jewelery": products("jewelery", 5)},
	}
	h := newHome(t, remote, catalogtest.NewCache(), true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Load().Wait(ctx))

	cur := h.Sections().Current()
	require.True(t, cur.IsSuccess())
	assert.Equal(t, map[string]int{"jewelery": 1}, sectionSizes(t, cur))

	// A second load starts from an empty Loading state.
	sub := h.Sections().Subscribe(ctx)
	<-sub
	done := make(chan browse.Result[[]browse.Section], 1)
	go func() {
		for r := range sub {
			if r.IsLoading() {
				_, ok := r.Data()
				assert.False(t, ok, "home loading state carries no sections")
				continue
			}
			done <- r
			return
		}
	}()
	require.NoError(t, h.Load().Wait(ctx))

	select {
	case r := <-done:
		assert.True(t, r.IsSuccess())
	case <-ctx.Done():
		t.Fatal("no final result observed")
	}
}

// blockingOracle blocks Online until released, so a test can hold a load in
// flight.
type blockingOracle struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingOracle() *blockingOracle {
	return &blockingOracle{entered: make(chan struct{}, 4), release: make(chan struct{})}
}

func (o *blockingOracle) Online(ctx context.Context) bool {
	o.entered <- struct{}{}
	select {
	case <-o.release:
	case <-ctx.Done():
	}
	return true
}

func TestHome_NewLoadSupersedesInFlight(t *testing.T) {
	remote := &catalogtest.Remote{
		CategoryNames: []string{"jewelery"},
		Products:      map[string][]catalog.Product{"jewelery": products("jewelery", 5)},
	}
	oracle := newBlockingOracle()
	repo := catalog.NewRepository(remote, catalogtest.NewCache(), nil, nil)
	h := browse.NewHome(repo, oracle, browse.Config{})
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := h.Load()
	<-oracle.entered
	second := h.Load()
	<-oracle.entered

	// The first load was cancelled by the second one and must not publish.
	require.NoError(t, first.Wait(ctx))
	assert.True(t, h.Sections().Current().IsLoading())

	close(oracle.release)
	require.NoError(t, second.Wait(ctx))
	assert.True(t, h.Sections().Current().IsSuccess())
}

func TestHome_CancelPublishesCancelled(t *testing.T) {
	oracle := newBlockingOracle()
	repo := catalog.NewRepository(&catalogtest.Remote{}, catalogtest.NewCache(), nil, nil)
	h := browse.NewHome(repo, oracle, browse.Config{})
	defer h.Close()

	task := h.Load()
	<-oracle.entered
	task.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, task.Wait(ctx))

	cur := h.Sections().Current()
	require.True(t, cur.IsError())
	assert.Equal(t, browse.MsgCancelled, cur.Message())
}

func TestHome_CloseStopsLoads(t *testing.T) {
	oracle := newBlockingOracle()
	repo := catalog.NewRepository(&catalogtest.Remote{}, catalogtest.NewCache(), nil, nil)
	h := browse.NewHome(repo, oracle, browse.Config{})

	task := h.Load()
	<-oracle.entered
	h.Close()

	select {
	case <-task.Done():
	default:
		t.Fatal("Close returned before the load finished")
	}

	late := h.Load()
	select {
	case <-late.Done():
	default:
		t.Fatal("load started after Close must be done immediately")
	}
}
