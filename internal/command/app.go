package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"taskdeck/client/internal/config"
)

type Deps struct {
	Version      string
	BuildTime    string
	LoadConfig   func() config.Config
	RunServe     func(context.Context, config.Config) error
	RunHealth    func(context.Context, config.Config) error
	RunMigrateUp func(context.Context, config.Config) error
}

func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:    "taskdeck",
		Usage:   "relay-connected terminal runtime",
		Version: deps.Version,
		Action: func(ctx *cli.Context) error {
			cfg := loadConfig(deps)
			return runServe(ctx.Context, deps, cfg)
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "connect to the relay and serve sessions",
				Action: func(ctx *cli.Context) error {
					cfg := loadConfig(deps)
					return runServe(ctx.Context, deps, cfg)
				},
			},
			{
				Name:  "health",
				Usage: "probe the worker once and report its status",
				Action: func(ctx *cli.Context) error {
					cfg := loadConfig(deps)
					return runHealth(ctx.Context, deps, cfg)
				},
			},
			{
				Name:  "version",
				Usage: "print version and build time",
				Action: func(ctx *cli.Context) error {
					_, err := fmt.Fprintf(ctx.App.Writer, "taskdeck %s (built %s)\n", deps.Version, deps.BuildTime)
					return err
				},
			},
			{
				Name:  "migrate",
				Usage: "run database migration",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Action: func(ctx *cli.Context) error {
							cfg := loadConfig(deps)
							return runMigrateUp(ctx.Context, deps, cfg)
						},
					},
				},
			},
		},
	}
}

func loadConfig(deps Deps) config.Config {
	if deps.LoadConfig != nil {
		return deps.LoadConfig()
	}
	return config.LoadConfig()
}

func runServe(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunServe == nil {
		return errors.New("serve runner is not configured")
	}
	return deps.RunServe(ctx, cfg)
}

func runHealth(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunHealth == nil {
		return errors.New("health runner is not configured")
	}
	return deps.RunHealth(ctx, cfg)
}

func runMigrateUp(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunMigrateUp == nil {
		return errors.New("migrate up runner is not configured")
	}
	return deps.RunMigrateUp(ctx, cfg)
}
