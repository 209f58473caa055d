package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/billingsync/internal/pkg/bootstrap"
	"github.com/ManuelReschke/billingsync/internal/pkg/env"
)

// worker runs the webhook processing pool and the recovery sweeper without
// the HTTP server.
func main() {
	if !env.TryLoadEnvFile() {
		log.Info("[Worker] No .env file found, using process environment")
	}
	rt := bootstrap.Setup()

	rt.Manager.Start()
	log.Info("[Worker] Processing webhook events")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("[Worker] Shutting down")
	rt.Manager.Stop()
}
