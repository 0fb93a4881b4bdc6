// Command seed-cache fills the local catalog cache from fake-store JSON
// snapshots or from the live catalog.
//
// Usage:
//
//	seed-cache [flags] [snapshot.json | snapshot.json.gz ...]
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appkg "github.com/xenking/storefront/internal/app"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/fakestore"
)

// maxSnapshot caps the decompressed size of one snapshot.
const maxSnapshot = 64 << 20

func main() {
	var (
		configFile  string
		replace     bool
		fromRemote  bool
		concurrency int
	)
	flag.StringVar(&configFile, "config", "", "path to a YAML config file")
	flag.BoolVar(&replace, "replace", false, "delete the seeded categories before inserting")
	flag.BoolVar(&fromRemote, "from-remote", false, "fetch every category from the live catalog")
	flag.IntVar(&concurrency, "concurrency", 4, "parallel snapshot reads and category fetches")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if flag.NArg() == 0 && !fromRemote {
		lg.Error("Nothing to seed: pass snapshot files or --from-remote")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, configFile, flag.Args(), replace, fromRemote, concurrency); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		cancel()
		os.Exit(1)
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, configFile string, files []string, replace, fromRemote bool, concurrency int) error {
	var configFiles []string
	if configFile != "" {
		configFiles = []string{configFile}
	}
	cfg, err := appkg.LoadConfig(appkg.LoadOptions{Files: configFiles, SkipFlags: true})
	if err != nil {
		return err
	}

	lg.Info("Opening cache", zap.String("driver", cfg.Cache.Driver))
	cache, err := appkg.OpenCache(ctx, cfg.Cache, lg)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	s := &seeder{cache: cache, lg: lg, concurrency: concurrency}
	if fromRemote {
		remote, err := appkg.NewRemote(cfg.Catalog, lg, nil)
		if err != nil {
			return err
		}
		s.remote = remote
	}

	products, err := s.collect(ctx, files)
	if err != nil {
		return err
	}
	return s.write(ctx, products, replace)
}

// seeder gathers products and writes them to the cache.
type seeder struct {
	cache       catalog.Cache
	remote      catalog.Remote
	lg          *zap.Logger
	concurrency int
}

// collect reads every snapshot and, when a remote is set, every remote
// category. Products are returned in input order.
func (s *seeder) collect(ctx context.Context, files []string) ([]catalog.Product, error) {
	batches := make([][]catalog.Product, len(files))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.concurrency, 1))
	for i, path := range files {
		g.Go(func() error {
			products, err := readSnapshot(gCtx, path)
			if err != nil {
				return errors.Wrapf(err, "read snapshot %s", path)
			}
			s.lg.Info("Read snapshot", zap.String("path", path), zap.Int("products", len(products)))
			batches[i] = products
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if s.remote != nil {
		fetched, err := s.fetchRemote(ctx)
		if err != nil {
			return nil, err
		}
		batches = append(batches, fetched)
	}

	var out []catalog.Product
	for _, b := range batches {
		for _, p := range b {
			if p.ID <= 0 || p.Category == "" {
				s.lg.Warn("Skipping product without id or category", zap.Int("id", p.ID), zap.String("title", p.Title))
				continue
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// fetchRemote fetches the full product list of every remote category.
func (s *seeder) fetchRemote(ctx context.Context) ([]catalog.Product, error) {
	names, err := s.remote.Categories(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch categories")
	}
	s.lg.Info("Fetching categories", zap.Strings("categories", names))

	batches := make([][]catalog.Product, len(names))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.concurrency, 1))
	for i, name := range names {
		g.Go(func() error {
			products, err := s.remote.ProductsByCategory(gCtx, name, 0)
			if err != nil {
				return errors.Wrapf(err, "fetch category %q", name)
			}
			batches[i] = products
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []catalog.Product
	for _, b := range batches {
		out = append(out, b...)
	}
	return out, nil
}

// write stores products, first deleting their categories when replace is
// set. Categories keep the order in which they first appear.
func (s *seeder) write(ctx context.Context, products []catalog.Product, replace bool) error {
	var categories []catalog.Category
	seen := make(map[string]struct{})
	for _, p := range products {
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		categories = append(categories, catalog.Category{Name: p.Category})
	}

	if replace {
		for _, c := range categories {
			if err := s.cache.DeleteCategory(ctx, c.Name); err != nil {
				return errors.Wrapf(err, "delete category %q", c.Name)
			}
		}
		s.lg.Info("Deleted categories", zap.Int("count", len(categories)))
	}

	if err := s.cache.UpsertCategories(ctx, categories); err != nil {
		return errors.Wrap(err, "upsert categories")
	}
	if err := s.cache.UpsertProducts(ctx, products); err != nil {
		return errors.Wrap(err, "upsert products")
	}
	s.lg.Info("Upserted products",
		zap.Int("products", len(products)),
		zap.Int("categories", len(categories)),
	)
	return nil
}

// readSnapshot decodes a JSON array of products, gzip-compressed when the
// file name ends in .gz.
func readSnapshot(ctx context.Context, path string) ([]catalog.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "create gzip reader")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}

	data, err := io.ReadAll(io.LimitReader(r, maxSnapshot+1))
	if err != nil {
		return nil, errors.Wrap(err, "read")
	}
	if len(data) > maxSnapshot {
		return nil, errors.Errorf("snapshot exceeds %d bytes", maxSnapshot)
	}

	products, err := fakestore.DecodeProducts(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	return products, nil
}
