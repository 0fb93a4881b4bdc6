// Package fakestore is a client of the fake-store catalog HTTP API.
package fakestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/catalog"
)

// DefaultBaseURL is the public fake-store API.
const DefaultBaseURL = "https://fakestoreapi.com/"

// DefaultTimeout bounds a whole request, body included.
const DefaultTimeout = 30 * time.Second

// maxBody caps the size of a response body.
const maxBody = 8 << 20

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d %s",
		e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap classifies every status failure as the catalog being unavailable.
func (e *StatusError) Unwrap() error { return catalog.ErrRemoteUnavailable }

// Options configures a Client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// Debug logs response bodies.
	Debug bool

	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	// Transport is the base round tripper, http.DefaultTransport if nil.
	Transport http.RoundTripper
}

// Client implements catalog.Remote over HTTP.
type Client struct {
	base      *url.URL
	userAgent string
	debug     bool
	http      *http.Client
	lg        *zap.Logger
}

var _ catalog.Remote = (*Client)(nil)

// New creates a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "storefront"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf("base url %q: scheme must be http or https", opts.BaseURL)
	}

	var transportOpts []otelhttp.Option
	if opts.TracerProvider != nil {
		transportOpts = append(transportOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	return &Client{
		base:      base,
		userAgent: opts.UserAgent,
		debug:     opts.Debug,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(opts.Transport, transportOpts...),
		},
		lg: opts.Logger,
	}, nil
}

// Categories returns every category name.
func (c *Client) Categories(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "products/categories", nil)
	if err != nil {
		return nil, err
	}
	names, err := DecodeCategories(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode categories")
	}
	if len(names) == 0 {
		return nil, catalog.ErrEmptyUpstream
	}
	return names, nil
}

// ProductsByCategory returns the products of category. The service applies
// limit when it is positive.
func (c *Client) ProductsByCategory(ctx context.Context, category string, limit int) ([]catalog.Product, error) {
	var q url.Values
	if limit > 0 {
		q = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	body, err := c.get(ctx, "products/category/"+url.PathEscape(category), q)
	if err != nil {
		return nil, err
	}
	products, err := DecodeProducts(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	if len(products) == 0 {
		return nil, catalog.ErrEmptyUpstream
	}
	return products, nil
}

// Product returns one product. The service answers an unknown id with an
// empty body.
func (c *Client) Product(ctx context.Context, id int) (*catalog.Product, error) {
	body, err := c.get(ctx, "products/"+strconv.Itoa(id), nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, errors.Wrapf(catalog.ErrEmptyUpstream, "product %d", id)
		}
		return nil, err
	}
	p, err := DecodeProduct(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode product")
	}
	if p == nil {
		return nil, errors.Wrapf(catalog.ErrEmptyUpstream, "product %d", id)
	}
	return p, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := c.base.JoinPath(path)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}

	lg := c.lg.With(
		zap.String("url", u.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	if c.debug {
		lg.Debug("Catalog response", zap.ByteString("body", body))
	} else {
		lg.Debug("Catalog response", zap.Int("bytes", len(body)))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: req.Method, URL: u.String(), StatusCode: resp.StatusCode}
	}
	return bytes.TrimSpace(body), nil
}
