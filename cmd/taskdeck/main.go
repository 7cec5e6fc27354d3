package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"taskdeck/client/internal/command"
	"taskdeck/client/internal/config"
	"taskdeck/client/internal/db"
	"taskdeck/client/internal/logging"
	"taskdeck/client/internal/workerhealth"
)

var version = "dev"
var buildTime = "unknown"

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		Version:      version,
		BuildTime:    buildTime,
		LoadConfig:   config.LoadConfig,
		RunServe:     runServe,
		RunHealth:    runHealth,
		RunMigrateUp: runMigrateUp,
	})

	if err := app.RunContext(rootCtx, os.Args); err != nil {
		logging.NewLogger(logging.Options{Level: "error", Writer: os.Stderr, Component: "taskdeck"}).Error("taskdeck failed", "err", err)
		os.Exit(1)
	}
}

func runHealth(ctx context.Context, cfg config.Config) error {
	monitor := workerhealth.NewMonitor(
		workerhealth.HTTPProber(cfg.WorkerBaseURL, nil),
		workerhealth.WithProbeTimeout(cfg.HealthProbeTimeout),
	)
	status := monitor.Poll(ctx)
	fmt.Fprintf(os.Stdout, "worker %s (%s)\n", status, cfg.WorkerBaseURL)
	if status != workerhealth.StatusOnline {
		return errors.New("worker is not reachable")
	}
	return nil
}

func runMigrateUp(_ context.Context, cfg config.Config) error {
	if err := db.InitGlobal(cfg.DBPath); err != nil {
		return err
	}
	return db.CloseGlobal()
}
