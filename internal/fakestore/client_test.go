package fakestore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/storefront/internal/domain/catalog"
)

const backpackJSON = `{"id":1,"title":"Fjallraven - Foldsack No. 1 Backpack","price":109.95,` +
	`"description":"Your perfect pack","category":"men's clothing",` +
	`"image":"https://fakestoreapi.com/img/81fPKd-2AYL._AC_SL1500_.jpg",` +
	`"rating":{"rate":3.9,"count":120}}`

type request struct {
	Path      string
	RawQuery  string
	UserAgent string
	Type      string
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, <-chan request) {
	t.Helper()
	reqs := make(chan request, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs <- request{
			Path:      r.URL.EscapedPath(),
			RawQuery:  r.URL.RawQuery,
			UserAgent: r.Header.Get("User-Agent"),
			Type:      r.Header.Get("Content-Type"),
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{
		BaseURL:   srv.URL + "/",
		UserAgent: "storefront-test",
		Debug:     true,
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return c, reqs
}

func reply(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestClient_Categories(t *testing.T) {
	c, reqs := newTestClient(t, reply(`["electronics","jewelery","men's clothing","women's clothing"]`))

	names, err := c.Categories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"electronics", "jewelery", "men's clothing", "women's clothing"}, names)

	req := <-reqs
	assert.Equal(t, "/products/categories", req.Path)
	assert.Equal(t, "storefront-test", req.UserAgent)
	assert.Equal(t, "application/json", req.Type)
}

func TestClient_ProductsByCategory(t *testing.T) {
	c, reqs := newTestClient(t, reply(`[`+backpackJSON+`]`))

	products, err := c.ProductsByCategory(context.Background(), "men's clothing", 3)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, catalog.Product{
		ID:          1,
		Title:       "Fjallraven - Foldsack No. 1 Backpack",
		Price:       "109.95",
		Category:    "men's clothing",
		Description: "Your perfect pack",
		Image:       "https://fakestoreapi.com/img/81fPKd-2AYL._AC_SL1500_.jpg",
	}, products[0])

	req := <-reqs
	assert.Equal(t, "limit=3", req.RawQuery, "limit is applied by the service")
	assert.Contains(t, req.Path, "/products/category/men")

	_, err = c.ProductsByCategory(context.Background(), "electronics", 0)
	require.NoError(t, err)
	assert.Empty(t, (<-reqs).RawQuery, "no limit parameter when unbounded")
}

func TestClient_EmptyUpstream(t *testing.T) {
	for _, body := range []string{`[]`, `null`, ``} {
		t.Run(body, func(t *testing.T) {
			c, _ := newTestClient(t, reply(body))

			_, err := c.Categories(context.Background())
			require.ErrorIs(t, err, catalog.ErrEmptyUpstream)

			_, err = c.ProductsByCategory(context.Background(), "electronics", 0)
			require.ErrorIs(t, err, catalog.ErrEmptyUpstream)
		})
	}
}

func TestClient_Product(t *testing.T) {
	c, reqs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/products/1":
			reply(backpackJSON)(w, r)
		case "/products/404":
			http.NotFound(w, r)
		default:
			// The public API answers unknown ids with 200 and no body.
			w.WriteHeader(http.StatusOK)
		}
	})
	ctx := context.Background()

	p, err := c.Product(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "109.95", p.Price)
	assert.Equal(t, "/products/1", (<-reqs).Path)

	_, err = c.Product(ctx, 999)
	require.ErrorIs(t, err, catalog.ErrEmptyUpstream)

	_, err = c.Product(ctx, 404)
	require.ErrorIs(t, err, catalog.ErrEmptyUpstream)
}

func TestClient_StatusError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Categories(context.Background())
	require.ErrorIs(t, err, catalog.ErrRemoteUnavailable)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, http.MethodGet, se.Method)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.Categories(context.Background())
	require.Error(t, err)
}

func TestNew_InvalidBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "ftp://example.com"})
	require.Error(t, err)
}

func TestDecodeProduct_PriceForms(t *testing.T) {
	for _, tt := range []struct {
		name string
		json string
		want string
	}{
		{"number", `{"id":2,"price":22.3}`, "22.3"},
		{"integer", `{"id":2,"price":64}`, "64"},
		{"string", `{"id":2,"price":"695.00"}`, "695.00"},
		{"null", `{"id":2,"price":null}`, ""},
		{"absent", `{"id":2}`, ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodeProduct([]byte(tt.json))
			require.NoError(t, err)
			require.NotNil(t, p)
			assert.Equal(t, tt.want, p.Price)
		})
	}
}

func TestDecodeProducts_Malformed(t *testing.T) {
	_, err := DecodeProducts([]byte(`[{"id":"one"}]`))
	require.Error(t, err)

	_, err = DecodeProducts([]byte(`{"id":1}`))
	require.Error(t, err)
}

func TestEncodeProduct(t *testing.T) {
	p := catalog.Product{ID: 3, Title: "Mens Cotton Jacket", Price: "55.99", Category: "men's clothing"}

	var e jx.Encoder
	EncodeProduct(&e, p)
	got, err := DecodeProduct(e.Bytes())
	require.NoError(t, err)
	assert.Equal(t, p, *got)
	assert.Contains(t, e.String(), `"price":55.99`)

	e.Reset()
	p.Price = "n/a"
	EncodeProduct(&e, p)
	assert.Contains(t, e.String(), `"price":"n/a"`)
}
