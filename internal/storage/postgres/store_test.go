//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/xenking/storefront/internal/domain/catalog"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := tcpostgres.Run(ctx, "postgres:17-alpine",
		tcpostgres.WithDatabase("storefront"),
		tcpostgres.WithUsername("storefront"),
		tcpostgres.WithPassword("storefront"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	// Migrations are re-runnable.
	require.NoError(t, RunMigrations(ctx, s.pool))
	return s
}

func TestStore(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		original := catalog.Product{
			ID:          14,
			Title:       "Samsung 49-Inch CHG90 144Hz Curved Gaming Monitor",
			Price:       "999.99",
			Category:    "electronics",
			Description: "49 INCH SUPER ULTRAWIDE 32:9 CURVED GAMING MONITOR",
			Image:       "https://fakestoreapi.com/img/81Zt42ioCgL._AC_SX679_.jpg",
		}
		require.NoError(t, s.UpsertProducts(ctx, []catalog.Product{original}))

		got, err := s.ProductsByCategory(ctx, "electronics", 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, original, got[0])
	})

	t.Run("Idempotent", func(t *testing.T) {
		batch := []catalog.Product{
			{ID: 1, Title: "Backpack", Price: "109.95", Category: "men's clothing"},
			{ID: 2, Title: "T-Shirt", Price: "22.3", Category: "men's clothing"},
		}
		require.NoError(t, s.UpsertProducts(ctx, batch))
		batch[0].Title = "Backpack v2"
		require.NoError(t, s.UpsertProducts(ctx, batch))

		got, err := s.ProductsByCategory(ctx, "men's clothing", 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "Backpack v2", got[0].Title)
	})

	t.Run("LimitAndOrder", func(t *testing.T) {
		require.NoError(t, s.UpsertProducts(ctx, []catalog.Product{
			{ID: 13, Category: "electronics"},
			{ID: 9, Category: "electronics"},
			{ID: 11, Category: "electronics"},
		}))

		got, err := s.ProductsByCategory(ctx, "electronics", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 9, got[0].ID)
		assert.Equal(t, 11, got[1].ID)
	})

	t.Run("CategoriesOrder", func(t *testing.T) {
		require.NoError(t, s.UpsertCategories(ctx, []catalog.Category{{Name: "books"}, {Name: "electronics"}}))

		got, err := s.Categories(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"electronics", "men's clothing", "books"}, catalog.CategoryNames(got))
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		require.NoError(t, s.DeleteCategory(ctx, "men's clothing"))

		_, err := s.ProductByID(ctx, 1)
		require.ErrorIs(t, err, catalog.ErrNotFound)
		require.NoError(t, s.Ping(ctx))
	})
}
