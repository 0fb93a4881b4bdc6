// Package handler serves the storefront screens over HTTP as JSON.
package handler

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/connectivity"
	"github.com/xenking/storefront/internal/domain/browse"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/fakestore"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// DefaultMaxListings bounds the number of category listings kept in memory.
const DefaultMaxListings = 64

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative image paths in responses. When
	// empty, image paths are returned as stored.
	ImageBaseURL string
	// MaxListings bounds the per-category listings kept in memory.
	MaxListings int
	Browse      browse.Config
}

// Handler exposes the home, listing and detail screens. Every screen is
// backed by one long-lived orchestrator, so concurrent clients share loads
// and the last published state.
type Handler struct {
	repo   catalog.Repository
	oracle connectivity.Oracle
	cfg    HandlerConfig

	home        *browse.Home
	homeStarted atomic.Bool

	mu       sync.Mutex
	listings map[string]*listing
	order    []string
}

type listing struct {
	*browse.Listing
	started atomic.Bool
}

// NewHandler constructs a Handler. Call Close to stop background loads.
func NewHandler(cfg HandlerConfig, repo catalog.Repository, oracle connectivity.Oracle) *Handler {
	if cfg.MaxListings <= 0 {
		cfg.MaxListings = DefaultMaxListings
	}
	return &Handler{
		repo:     repo,
		oracle:   oracle,
		cfg:      cfg,
		home:     browse.NewHome(repo, oracle, cfg.Browse),
		listings: make(map[string]*listing),
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/home", h.GetHome)
	mux.HandleFunc("GET /api/categories/{category}/products", h.GetCategory)
	mux.HandleFunc("GET /api/products/{id}", h.GetProduct)
}

// Close stops every orchestrator and waits for in-flight loads.
func (h *Handler) Close() {
	h.home.Close()

	h.mu.Lock()
	listings := h.listings
	h.listings = make(map[string]*listing)
	h.order = nil
	h.mu.Unlock()

	for _, l := range listings {
		l.Close()
	}
}

// loadMode is how a request drives its screen's orchestrator.
type loadMode struct {
	refresh bool
	wait    bool
}

func parseMode(r *http.Request) loadMode {
	q := r.URL.Query()
	return loadMode{refresh: flag(q.Get("refresh")), wait: flag(q.Get("wait"))}
}

func flag(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// start starts a load when requested or when the screen was never loaded.
// It returns nil when no load was started. Loads run on the orchestrator's
// context, so a client going away does not cancel a load other clients
// observe.
func start(mode loadMode, started *atomic.Bool, load func() *browse.Task) *browse.Task {
	first := started.CompareAndSwap(false, true)
	if !first && !mode.refresh {
		return nil
	}
	return load()
}

func wait(r *http.Request, mode loadMode, task *browse.Task) {
	if task != nil && mode.wait {
		_ = task.Wait(r.Context())
	}
}

// GetHome serves the home screen: every category with sample products.
func (h *Handler) GetHome(w http.ResponseWriter, r *http.Request) {
	mode := parseMode(r)
	wait(r, mode, start(mode, &h.homeStarted, h.home.Load))

	res := h.home.Sections().Current()
	writeResult(w, res, func(e *jx.Encoder, sections []browse.Section) {
		e.ArrStart()
		for _, s := range sections {
			e.ObjStart()
			e.FieldStart("category")
			e.Str(s.Category)
			e.FieldStart("products")
			h.encodeProducts(e, s.Products)
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}

// GetCategory serves the listing screen of one category.
func (h *Handler) GetCategory(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.PathValue("category"))
	if category == "" {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "Category is required")
		return
	}

	mode := parseMode(r)
	l, task := h.startListing(r, category, mode)
	wait(r, mode, task)

	writeResult(w, l.Products().Current(), h.encodeProducts)
}

// GetProduct serves the detail screen of one product. Details are loaded
// for every request.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "Invalid product id")
		return
	}

	l := browse.NewListing(h.repo, h.oracle, h.cfg.Browse)
	defer l.Close()

	res := l.RefreshDetails(r.Context(), id)
	writeResult(w, res, h.encodeProduct)
}

// startListing returns the orchestrator of category and starts its load
// when needed. Lookup and start happen under h.mu, which eviction also
// holds, so a listing is only closed after every load started on it.
func (h *Handler) startListing(r *http.Request, category string, mode loadMode) (*listing, *browse.Task) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l := h.listing(r, category)
	return l, start(mode, &l.started, func() *browse.Task {
		return l.LoadCategory(category)
	})
}

// listing returns the orchestrator of category, creating it and evicting the
// oldest one when the bound is reached. h.mu must be held.
func (h *Handler) listing(r *http.Request, category string) *listing {
	if l, ok := h.listings[category]; ok {
		return l
	}
	if len(h.order) >= h.cfg.MaxListings {
		oldest := h.order[0]
		h.order = h.order[1:]
		if evicted, ok := h.listings[oldest]; ok {
			delete(h.listings, oldest)
			zctx.From(r.Context()).Debug("Evicting listing", zap.String("category", oldest))
			go evicted.Close()
		}
	}

	l := &listing{Listing: browse.NewListing(h.repo, h.oracle, h.cfg.Browse)}
	h.listings[category] = l
	h.order = append(h.order, category)
	return l
}

func (h *Handler) encodeProducts(e *jx.Encoder, products []catalog.Product) {
	e.ArrStart()
	for _, p := range products {
		h.encodeProduct(e, p)
	}
	e.ArrEnd()
}

func (h *Handler) encodeProduct(e *jx.Encoder, p catalog.Product) {
	if h.cfg.ImageBaseURL != "" && p.Image != "" && !isAbsoluteURL(p.Image) {
		p.Image = strings.TrimSuffix(h.cfg.ImageBaseURL, "/") + "/" + strings.TrimPrefix(p.Image, "/")
	}
	fakestore.EncodeProduct(e, p)
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
