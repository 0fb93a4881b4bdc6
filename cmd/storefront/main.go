// Command storefront browses the catalog from a terminal, falling back to
// the local cache when the catalog is unreachable.
//
// Usage:
//
//	storefront [flags] home
//	storefront [flags] category <name>
//	storefront [flags] product <id>
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/language"

	appkg "github.com/xenking/storefront/internal/app"
	"github.com/xenking/storefront/internal/connectivity"
	"github.com/xenking/storefront/internal/domain/browse"
	"github.com/xenking/storefront/internal/domain/catalog"
)

type options struct {
	configFile string
	offline    bool
	verbose    bool
	lang       string
}

func main() {
	var opts options
	fs := flag.NewFlagSet("storefront", flag.ExitOnError)
	fs.StringVar(&opts.configFile, "config", "", "path to a YAML config file")
	fs.BoolVar(&opts.offline, "offline", false, "read from the local cache only")
	fs.BoolVar(&opts.verbose, "v", false, "log diagnostics to stderr")
	fs.StringVar(&opts.lang, "lang", "en", "language used to title category names")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: storefront [flags] home | category <name> | product <id>")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts, fs.Args(), os.Stdout); err != nil {
		var res *errResult
		if !errors.As(err, &res) {
			fmt.Fprintf(os.Stderr, "storefront: %v\n", err)
		}
		cancel()
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// command is a parsed command line.
type command struct {
	name     string
	category string
	id       int
}

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{}, errors.New("command required: home, category <name> or product <id>")
	}
	cmd := command{name: args[0]}
	switch cmd.name {
	case "home":
		if len(args) != 1 {
			return command{}, errors.New("usage: storefront home")
		}
	case "category":
		if len(args) != 2 || args[1] == "" {
			return command{}, errors.New("usage: storefront category <name>")
		}
		cmd.category = args[1]
	case "product":
		if len(args) != 2 {
			return command{}, errors.New("usage: storefront product <id>")
		}
		id, err := strconv.Atoi(args[1])
		if err != nil || id <= 0 {
			return command{}, errors.Errorf("invalid product id %q", args[1])
		}
		cmd.id = id
	default:
		return command{}, errors.Errorf("unknown command %q", cmd.name)
	}
	return cmd, nil
}

func run(ctx context.Context, opts options, args []string, out io.Writer) error {
	cmd, err := parseCommand(args)
	if err != nil {
		return err
	}
	lang, err := language.Parse(opts.lang)
	if err != nil {
		return errors.Wrap(err, "parse lang")
	}

	lg, err := newLogger(opts.verbose)
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer func() { _ = lg.Sync() }()

	var files []string
	if opts.configFile != "" {
		files = []string{opts.configFile}
	}
	cfg, err := appkg.LoadConfig(appkg.LoadOptions{Files: files, SkipFlags: true})
	if err != nil {
		return err
	}

	cache, err := appkg.OpenCache(ctx, cfg.Cache, lg)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	remote, err := appkg.NewRemote(cfg.Catalog, lg, nil)
	if err != nil {
		return err
	}
	repo := catalog.NewRepository(remote, cache, lg, nil)

	oracle, err := newOracle(opts.offline, cfg, lg)
	if err != nil {
		return err
	}
	bcfg := browse.Config{Logger: lg, SampleSize: cfg.SampleSize}
	r := newRenderer(out, lang)

	switch cmd.name {
	case "home":
		h := browse.NewHome(repo, oracle, bcfg)
		defer h.Close()
		return r.home(h.Refresh(ctx))
	case "category":
		l := browse.NewListing(repo, oracle, bcfg)
		defer l.Close()
		return r.listing(cmd.category, l.RefreshCategory(ctx, cmd.category))
	default:
		l := browse.NewListing(repo, oracle, bcfg)
		defer l.Close()
		return r.details(l.RefreshDetails(ctx, cmd.id))
	}
}

// newOracle answers connectivity once per command. A background monitor
// would never get to probe, so probe mode dials instead.
func newOracle(offline bool, cfg *appkg.Config, lg *zap.Logger) (connectivity.Oracle, error) {
	if offline {
		return connectivity.Static(false), nil
	}
	c := cfg.Connectivity
	if c.Mode == appkg.ModeProbe {
		c.Mode = appkg.ModeDial
	}
	oracle, _, err := appkg.NewOracle(c, cfg.Catalog.BaseURL, lg)
	return oracle, err
}
