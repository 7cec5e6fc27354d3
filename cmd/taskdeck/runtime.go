package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gorm.io/gorm"

	"taskdeck/client/internal/config"
	"taskdeck/client/internal/convo"
	"taskdeck/client/internal/db"
	"taskdeck/client/internal/global"
	"taskdeck/client/internal/historydb"
	"taskdeck/client/internal/lifecycle"
	"taskdeck/client/internal/logging"
	"taskdeck/client/internal/protocol"
	"taskdeck/client/internal/ptyhost"
	"taskdeck/client/internal/relay"
	"taskdeck/client/internal/router"
	"taskdeck/client/internal/term"
	"taskdeck/client/internal/workerhealth"
)

// stateKeyLastProject remembers which project's terminal was active so the
// next serve run can restore it.
const stateKeyLastProject = "last_active_project"

// runtime owns the serve-mode collaborators: the relay channel feeding the
// message router, the session registry over the PTY host, and the worker
// health monitor.
type runtime struct {
	logger   *slog.Logger
	channel  *relay.Channel
	router   *router.Router
	registry *term.Registry
	monitor  *workerhealth.Monitor
	stateDB  *gorm.DB

	restoreOnce sync.Once
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := logging.NewLogger(logging.Options{
		Level:     cfg.LogLevel,
		Writer:    os.Stderr,
		Component: "taskdeck",
	})
	fmt.Fprintf(os.Stdout, "taskdeck %s (built %s)\n", version, buildTime)

	configDir, err := global.DefaultConfigDir()
	if err != nil {
		return err
	}
	settings, err := global.NewSettingsStore(configDir).LoadOrInit()
	if err != nil {
		return err
	}
	taskID := strings.TrimSpace(cfg.TaskID)
	if taskID == "" {
		taskID = strings.TrimSpace(settings.TaskID)
	}
	program := strings.TrimSpace(cfg.SessionProgram)
	if program == "" {
		program = settings.Terminal.Program
	}

	if err := db.InitGlobal(cfg.DBPath); err != nil {
		return err
	}
	gdb, err := db.Global()
	if err != nil {
		return err
	}
	history, err := historydb.NewStore(gdb)
	if err != nil {
		return err
	}

	host := ptyhost.New(logger.With("module", "ptyhost"))
	registry := term.NewRegistry(host, program, logger.With("module", "registry"),
		term.WithGeometry(settings.Terminal.Cols, settings.Terminal.Rows),
		term.WithHistory(history, cfg.HistoryLines),
		term.WithRecorder(history),
	)

	chat := convo.NewChatLog()
	perms := convo.NewPermissionStore()
	channel := relay.NewChannel(cfg.RelayURL, taskID, relay.RealDialer{}, logger,
		relay.WithReconnectPolicy(cfg.ReconnectDelay, cfg.ReconnectMaxTries),
	)
	monitor := workerhealth.NewMonitor(
		workerhealth.HTTPProber(cfg.WorkerBaseURL, nil),
		workerhealth.WithInterval(cfg.HealthPollInterval),
		workerhealth.WithProbeTimeout(cfg.HealthProbeTimeout),
		workerhealth.WithLogger(logger.With("module", "workerhealth")),
	)

	rt := &runtime{
		logger:   logger.With("module", "runtime"),
		channel:  channel,
		router:   router.New(chat, perms, logger.With("module", "router")),
		registry: registry,
		monitor:  monitor,
		stateDB:  gdb,
	}
	channel.OnEnvelope(rt.handleEnvelope)
	channel.OnState(rt.handleChannelState)
	monitor.SetOnChange(rt.publishWorkerStatus)

	mgr := lifecycle.NewManager(lifecycle.WithLogger(logger.With("module", "lifecycle")))
	mgr.AddShutdown("close-db", func(context.Context) error {
		return db.CloseGlobal()
	})
	mgr.AddShutdown("close-host", func(context.Context) error {
		host.Close()
		return nil
	})
	mgr.AddShutdown("close-registry", func(context.Context) error {
		registry.Close()
		return nil
	})
	mgr.AddShutdown("disconnect-relay", func(context.Context) error {
		channel.Disconnect()
		return nil
	})
	mgr.AddRun("relay", func(runCtx context.Context) error {
		channel.Connect(runCtx)
		<-runCtx.Done()
		return nil
	})
	mgr.AddRun("workerhealth", func(runCtx context.Context) error {
		monitor.Start(runCtx)
		<-runCtx.Done()
		monitor.Stop()
		return nil
	})
	return mgr.StartAndWait(ctx)
}

// handleEnvelope splits inbound traffic: command envelopes drive the session
// registry, everything else feeds the chat/permission stores.
func (rt *runtime) handleEnvelope(env protocol.Envelope) {
	if env.Type == protocol.TypeCommand {
		rt.handleCommand(env)
		return
	}
	rt.router.Route(env)
}

func (rt *runtime) handleCommand(env protocol.Envelope) {
	ctx := context.Background()
	switch env.Action {
	case "pty_spawn":
		projectPath := env.DataString("project_path")
		// Spawn blocks on host round-trips; keep the read loop moving.
		go rt.startSession(ctx, projectPath)
	case "pty_write":
		rt.registry.Write(ctx, env.DataString("data"))
	case "pty_kill":
		projectPath := env.DataString("project_path")
		rt.registry.Kill(ctx, projectPath)
		if last, _ := db.GetConfigValue(rt.stateDB, stateKeyLastProject); last == strings.TrimSpace(projectPath) {
			if err := db.SetConfigValue(rt.stateDB, stateKeyLastProject, ""); err != nil {
				rt.logger.Warn("clear last project failed", "err", err)
			}
		}
	case "pty_resize":
		rt.registry.Resize(ctx, dataInt(env, "cols"), dataInt(env, "rows"))
	default:
		rt.logger.Debug("ignoring unknown command action", "action", env.Action)
	}
}

func (rt *runtime) startSession(ctx context.Context, projectPath string) {
	if _, err := rt.registry.Start(ctx, projectPath, rt.displaySink(projectPath)); err != nil {
		rt.logger.Warn("session start failed", "project", projectPath, "err", err)
		return
	}
	if err := db.SetConfigValue(rt.stateDB, stateKeyLastProject, strings.TrimSpace(projectPath)); err != nil {
		rt.logger.Warn("remember last project failed", "err", err)
	}
}

// restoreLastSession brings back the terminal that was active before the
// previous shutdown. Runs once, on the first connected state.
func (rt *runtime) restoreLastSession(ctx context.Context) {
	last, err := db.GetConfigValue(rt.stateDB, stateKeyLastProject)
	if err != nil {
		rt.logger.Warn("load last project failed", "err", err)
		return
	}
	if strings.TrimSpace(last) == "" {
		return
	}
	rt.logger.Info("restoring last session", "project", last)
	rt.startSession(ctx, last)
}

// displaySink forwards live terminal output back over the relay so a remote
// viewer can render it.
func (rt *runtime) displaySink(projectPath string) term.DisplaySink {
	return func(data string) {
		rt.channel.Send(protocol.Envelope{
			Type: protocol.TypeLog,
			Data: map[string]any{
				"project_path": projectPath,
				"content":      data,
			},
		})
	}
}

func (rt *runtime) handleChannelState(state relay.State) {
	if state != relay.StateConnected {
		return
	}
	rt.restoreOnce.Do(func() {
		go rt.restoreLastSession(context.Background())
	})
	rt.channel.Send(protocol.Envelope{
		Type: protocol.TypeStatus,
		Data: map[string]any{
			"status":  "connected",
			"client":  "taskdeck",
			"version": version,
		},
	})
}

func (rt *runtime) publishWorkerStatus(status workerhealth.Status) {
	rt.channel.Send(protocol.Envelope{
		Type: protocol.TypeStatus,
		Data: map[string]any{
			"status": "worker_" + string(status),
		},
	})
}

func dataInt(env protocol.Envelope, key string) int {
	switch v := env.Data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
