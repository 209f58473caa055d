package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/billingsync/internal/pkg/bootstrap"
	"github.com/ManuelReschke/billingsync/internal/pkg/cache"
	"github.com/ManuelReschke/billingsync/internal/pkg/env"
	"github.com/ManuelReschke/billingsync/internal/pkg/middleware"
	"github.com/ManuelReschke/billingsync/internal/pkg/ratelimit"
	"github.com/ManuelReschke/billingsync/internal/pkg/router"
)

// webhook bodies are small JSON documents
const bodyLimit = 1 << 20

func main() {
	env.SetupEnvFile()
	rt := bootstrap.Setup()
	app := NewApplication(rt)

	// Workers run in-process unless a dedicated cmd/worker deployment takes over
	if env.GetEnv("RUN_WORKERS", "true") == "true" {
		rt.Manager.Start()
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("[Server] Shutting down")
		if err := app.Shutdown(); err != nil {
			log.Errorf("[Server] Shutdown failed: %v", err)
		}
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Errorf("[Server] %v", err)
	}
	rt.Manager.Stop()
}

func NewApplication(rt *bootstrap.Runtime) *fiber.App {
	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/billingsync to project root
		"../../../", // Fallback
	}

	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs/v1/openapi.yml"); err == nil {
			basePath = path
			break
		}
	}

	app := fiber.New(fiber.Config{
		BodyLimit: bodyLimit,
	})

	// recovery, logging and request metrics
	app.Use(recover.New(), logger.New(), middleware.HTTPMetrics())

	// prometheus metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "change-me"),
		},
	}), adaptor.HTTPHandler(promhttp.Handler()))

	// SWAGGER / OPENAPI
	if basePath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: basePath + "public/docs/v1/openapi.yml",
			Path:     "v1",
			Title:    "billingsync API",
		}))
	} else {
		log.Warn("[Server] openapi.yml not found, API docs disabled")
	}

	limiterCfg := ratelimit.ConfigFromEnv()
	limiterCfg.Storage = ratelimit.RedisStorage()

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Service:        rt.Service,
		Repos:          rt.Repos,
		DB:             rt.DB,
		AdminTokenHash: env.GetEnv("ADMIN_API_TOKEN_HASH", ""),
		StatusLimiter:  ratelimit.New(limiterCfg),
		PingCache:      cache.Ping,
	})

	return app
}
