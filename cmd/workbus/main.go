// Command workbus wires configuration, a log store backend, the event
// bus, the workflow services, and the admin/live-tail HTTP API into one
// runnable process. Passing -demo runs one of two in-process
// demonstrations instead of starting the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cascadeflow/workbus/internal/api"
	"github.com/cascadeflow/workbus/internal/services"
	"github.com/cascadeflow/workbus/pkg/config"
	"github.com/cascadeflow/workbus/pkg/eventbus"
	"github.com/cascadeflow/workbus/pkg/logstore"
	"github.com/cascadeflow/workbus/pkg/telemetry"
	"github.com/cascadeflow/workbus/pkg/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file (optional)")
	project := flag.String("project", "demo", "project id this process serves")
	demo := flag.String("demo", "", "run an in-process demo instead of serving: happy-path|retry-dlq")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workbus: config: %v\n", err)
		os.Exit(1)
	}
	log := telemetry.NewDefaultLogger(os.Stdout, cfg.Telemetry.Service)

	store, err := openStore(cfg.LogStore.Backend, cfg.LogStore.DSN)
	if err != nil {
		log.Error("open log store", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer store.Close()

	opt := eventbus.Options{
		MaxAttempts:     cfg.Bus.MaxAttempts,
		RetryIntervalMS: cfg.Bus.RetryIntervalMS,
		LockTTL:         cfg.Bus.LockTTL(),
		DedupeTTL:       cfg.Bus.DedupeTTL(),
		ReadCount:       cfg.Bus.ReadCount,
		ReadBlockMS:     cfg.Bus.ReadBlockMS,
	}

	switch *demo {
	case "happy-path":
		runHappyPathDemo(store, opt, log)
		return
	case "retry-dlq":
		runRetryDLQDemo(store, opt, log)
		return
	case "":
		// fall through to serving
	default:
		fmt.Fprintf(os.Stderr, "workbus: unknown -demo value %q\n", *demo)
		os.Exit(1)
	}

	runServer(*project, store, opt, cfg.HTTP.ListenAddr, log)
}

func openStore(backend, dsn string) (logstore.Store, error) {
	switch backend {
	case "", "memory":
		return logstore.NewMemory(), nil
	case "sqlite":
		return logstore.OpenSQLite(dsn)
	case "postgres":
		return logstore.OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown log store backend %q", backend)
	}
}

func runServer(project string, store logstore.Store, opt eventbus.Options, listenAddr string, log *telemetry.Logger) {
	bus := eventbus.New(store, opt, log, "workbus-main")
	state := workflow.NewProjectState(project)

	orchestrator := services.NewOrchestrator(project, bus, log)
	clarification := services.NewClarification(project, bus, log)
	gateway := services.NewUserGateway(project, bus, log)
	devWorker := services.NewDevWorker(project, bus, log, false)
	qaWorker := services.NewQAWorker(project, bus, log, false)
	reporting := services.NewReporting(project, bus, state, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, runner := range []func(context.Context){
		orchestrator.Run, clarification.Run, gateway.Run, devWorker.Run, qaWorker.Run, reporting.Run,
	} {
		go runner(ctx)
	}

	srv := api.New(store, bus, log, func(p string) *workflow.ProjectState {
		if p == project {
			return state
		}
		return nil
	})
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting", map[string]any{"addr": listenAddr, "project": project})
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("listen failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}
