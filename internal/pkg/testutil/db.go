package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/internal/pkg/database"
)

// NewTestDB opens a private in-memory SQLite database with every billing
// table migrated. Timestamps are written in UTC like production.
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(database.Models()...))
	return db
}

// SeedProvider inserts an active payment provider row.
func SeedProvider(t testing.TB, db *gorm.DB, slug string, config map[string]interface{}) *models.PaymentProvider {
	t.Helper()
	p := &models.PaymentProvider{Slug: slug, Name: slug, IsActive: true, Configuration: config}
	require.NoError(t, db.Create(p).Error)
	return p
}

// SeedUser inserts a user with a unique email.
func SeedUser(t testing.TB, db *gorm.DB) *models.User {
	t.Helper()
	u := &models.User{Name: "Test User", Email: uuid.NewString() + "@example.com"}
	require.NoError(t, db.Create(u).Error)
	return u
}

// SeedPrice inserts a product, a price and an active provider mapping.
func SeedPrice(t testing.TB, db *gorm.DB, provider, productKey, priceKey, providerPriceID string) *models.Price {
	t.Helper()
	var product models.Product
	require.NoError(t, db.Where(models.Product{Key: productKey}).
		Attrs(models.Product{Name: productKey, IsActive: true}).
		FirstOrCreate(&product).Error)

	price := &models.Price{ProductID: product.ID, Key: priceKey, Interval: "month", Amount: 1000, Currency: "EUR", IsActive: true}
	require.NoError(t, db.Create(price).Error)

	if providerPriceID != "" {
		mapping := &models.PriceProviderMapping{PriceID: price.ID, Provider: provider, ProviderPriceID: providerPriceID, IsActive: true}
		require.NoError(t, db.Create(mapping).Error)
	}
	price.Product = product
	return price
}
