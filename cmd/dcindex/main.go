// Package main is the entry point for the dcindex CLI.
package main

import (
	"context"
	"os"

	"github.com/democracy-chain/dcindex/internal/adapters/driving/cli"
	"github.com/democracy-chain/dcindex/internal/app"
	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driving"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.SetVersion(version)
	cli.SetWiring(cli.Wiring{
		Settings: func(opts cli.SettingsOptions) (driving.SettingsService, error) {
			return app.NewSettingsService(app.SettingsSource{
				ConfigPath: opts.ConfigPath,
				InMemory:   opts.InMemory,
				EnvFiles:   opts.EnvFiles,
			})
		},
		Backend: func(s *domain.AppSettings) (cli.Backend, error) {
			return app.New(s), nil
		},
	})

	if err := cli.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
