package database

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// DB is the process-wide database handle
var DB *gorm.DB

// GetDB returns the process-wide database handle
func GetDB() *gorm.DB {
	return DB
}

// Models lists every table the service owns, in dependency order
func Models() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Setting{},
		&models.PaymentProvider{},
		&models.Product{},
		&models.Price{},
		&models.PriceProviderMapping{},
		&models.BillingCustomer{},
		&models.WebhookEvent{},
		&models.Subscription{},
		&models.Order{},
		&models.Invoice{},
		&models.Notification{},
	}
}

// DSN builds the MySQL data source name from the environment.
// Timestamps are read and written as UTC.
func DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)
}

func SetupDatabase() {
	var err error
	dsn := DSN()

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			DisableDatetimePrecision:  false, // staleness checks compare sub-second timestamps
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		if err == nil {
			if env.GetEnv("DB_AUTO_MIGRATE", "false") == "true" {
				if err = DB.AutoMigrate(Models()...); err != nil {
					log.Errorf("[Database] AutoMigrate failed: %v", err)
				}
			}
			return
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] Retrying in %s...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}
