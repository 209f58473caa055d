package bootstrap

import (
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/app/repository"
	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
	"github.com/ManuelReschke/billingsync/internal/pkg/cache"
	"github.com/ManuelReschke/billingsync/internal/pkg/database"
	"github.com/ManuelReschke/billingsync/internal/pkg/jobqueue"
	"github.com/ManuelReschke/billingsync/internal/pkg/mail"
	"github.com/ManuelReschke/billingsync/internal/pkg/notification"
)

// Runtime holds the wired process-wide services every binary shares.
type Runtime struct {
	DB      *gorm.DB
	Repos   *repository.Repositories
	Manager *jobqueue.Manager
	Service *billing.Service
}

// Setup connects MySQL and Redis, loads the runtime settings and wires the
// billing service to the job queue. The queue is registered but not started.
func Setup() *Runtime {
	database.SetupDatabase()
	db := database.GetDB()

	if err := models.LoadSettings(db); err != nil {
		log.Warnf("[Bootstrap] Falling back to default settings: %v", err)
	}

	cache.SetupCache()
	repository.InitializeFactory(db)

	manager := jobqueue.GetManager()
	queue := manager.GetQueue()

	svc := billing.NewServiceFromDB(db,
		billing.NewDefaultRegistry(billing.NewStripeClient()),
		jobqueue.NewWebhookEnqueuer(queue),
		newNotifier(db),
	)
	queue.RegisterWebhookHandler(svc)
	manager.SetRecoverer(svc)

	return &Runtime{
		DB:      db,
		Repos:   repository.GetGlobalRepositories(),
		Manager: manager,
		Service: svc,
	}
}

func newNotifier(db *gorm.DB) *notification.Dispatcher {
	cfg, ok := mail.ConfigFromEnv()
	if !ok {
		log.Info("[Bootstrap] SMTP_HOST not set, notifications are stored without email")
		return notification.NewDispatcher(db, nil)
	}
	return notification.NewDispatcher(db, mail.NewSMTPMailer(cfg))
}
