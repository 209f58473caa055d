package main

import (
	"fmt"
	"os"

	"github.com/ManuelReschke/billingsync/internal/pkg/bootstrap"
	"github.com/ManuelReschke/billingsync/internal/pkg/cli"
	"github.com/ManuelReschke/billingsync/internal/pkg/env"
)

func main() {
	env.TryLoadEnvFile()

	root := cli.NewRootCommand(func() (*cli.Deps, error) {
		rt := bootstrap.Setup()
		return &cli.Deps{
			Operator: rt.Service,
			Events:   rt.Repos.WebhookEvent,
			Settings: rt.Repos.Setting,
		}, nil
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
