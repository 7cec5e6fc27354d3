package command

import (
	"context"
	"strings"
	"testing"

	"taskdeck/client/internal/config"
)

func TestBuildApp_DefaultCommandIsServe(t *testing.T) {
	serveCalled := 0
	healthCalled := 0
	migrateCalled := 0
	app := BuildApp(Deps{
		LoadConfig: func() config.Config {
			return config.Config{}
		},
		RunServe: func(context.Context, config.Config) error {
			serveCalled++
			return nil
		},
		RunHealth: func(context.Context, config.Config) error {
			healthCalled++
			return nil
		},
		RunMigrateUp: func(context.Context, config.Config) error {
			migrateCalled++
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"taskdeck"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if serveCalled != 1 || healthCalled != 0 || migrateCalled != 0 {
		t.Fatalf("unexpected call count serve=%d health=%d migrate=%d", serveCalled, healthCalled, migrateCalled)
	}
}

func TestBuildApp_HealthCommand(t *testing.T) {
	serveCalled := 0
	healthCalled := 0
	app := BuildApp(Deps{
		LoadConfig: func() config.Config {
			return config.Config{}
		},
		RunServe: func(context.Context, config.Config) error {
			serveCalled++
			return nil
		},
		RunHealth: func(context.Context, config.Config) error {
			healthCalled++
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"taskdeck", "health"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if serveCalled != 0 || healthCalled != 1 {
		t.Fatalf("unexpected call count serve=%d health=%d", serveCalled, healthCalled)
	}
}

func TestBuildApp_MigrateUpCommand(t *testing.T) {
	migrateCalled := 0
	app := BuildApp(Deps{
		LoadConfig: func() config.Config {
			return config.Config{}
		},
		RunServe:  func(context.Context, config.Config) error { return nil },
		RunHealth: func(context.Context, config.Config) error { return nil },
		RunMigrateUp: func(context.Context, config.Config) error {
			migrateCalled++
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"taskdeck", "migrate", "up"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if migrateCalled != 1 {
		t.Fatalf("expected migrate command called once, got %d", migrateCalled)
	}
}

func TestBuildApp_VersionCommandPrints(t *testing.T) {
	app := BuildApp(Deps{
		Version:    "1.2.3",
		BuildTime:  "2026-01-02",
		LoadConfig: func() config.Config { return config.Config{} },
	})
	var buf strings.Builder
	app.Writer = &buf
	if err := app.RunContext(context.Background(), []string{"taskdeck", "version"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "1.2.3") || !strings.Contains(out, "2026-01-02") {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestBuildApp_MissingRunnerErrors(t *testing.T) {
	app := BuildApp(Deps{
		LoadConfig: func() config.Config { return config.Config{} },
	})
	if err := app.RunContext(context.Background(), []string{"taskdeck", "serve"}); err == nil {
		t.Fatal("expected error when serve runner is missing")
	}
}
