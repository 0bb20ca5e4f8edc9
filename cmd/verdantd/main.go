// Command verdantd is Stage-2, the declarative service manager: it
// loads service descriptors, computes a startup order, supervises every
// registered service, and answers the local control socket. Wiring
// order grounded on original_source/verdantd/src/main.rs; config load
// grounded on config/main.go's viper usage.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saltnpepper97/verdant/internal/bloom"
	"github.com/saltnpepper97/verdant/internal/config"
	"github.com/saltnpepper97/verdant/internal/ipc"
	"github.com/saltnpepper97/verdant/internal/loader"
	"github.com/saltnpepper97/verdant/internal/manager"
	"github.com/saltnpepper97/verdant/internal/ordering"
	"github.com/saltnpepper97/verdant/internal/service"
)

// shutdownJoinDeadline is the per-supervisor bound from spec §4.E "join
// each thread with a bounded wait (per-thread 10s); on per-thread
// timeout, log and continue" — every supervisor gets its own 10s join
// window, so one stuck supervisor can't eat another's budget.
const shutdownJoinDeadline = 10 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to verdantd.conf")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "verdantd:", err)
		os.Exit(1)
	}

	log := bloom.NewLogger(cfg.LogLevel, os.Stdout)
	if err := log.Initialize(cfg.LogFile); err != nil {
		fmt.Fprintln(os.Stderr, "verdantd: opening log file:", err)
		os.Exit(1)
	}

	descs, err := loader.Load(cfg.ServiceDir, log)
	if err != nil {
		log.Bothf(bloom.Fail, "loading service descriptors: %v", err)
		os.Exit(1)
	}

	ordered, err := ordering.Order(descs)
	if err != nil {
		log.Bothf(bloom.Fail, "computing startup order: %v", err)
		os.Exit(1)
	}

	mgr := manager.New(log)
	if err := mgr.Register(ordered); err != nil {
		log.Bothf(bloom.Fail, "registering services: %v", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())

	srv := ipc.NewServer(cfg.SocketPath, cfg.UpstreamSocketPath, mgr, mgr, log)
	if err := srv.Listen(); err != nil {
		log.Bothf(bloom.Fail, "binding control socket: %v", err)
		os.Exit(1)
	}
	srv.OnExit = stop
	go func() {
		if err := srv.Serve(); err != nil {
			log.Bothf(bloom.Fail, "control endpoint stopped: %v", err)
		}
	}()

	// Stage-1 installs the real signal thread for SIGCHLD/SIGUSR1/
	// SIGUSR2 (spec §5); Stage-2 only needs SIGTERM/SIGINT so an operator
	// killing the daemon directly still drains supervisors cleanly.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	mgr.StartStartupServices(ctx, startupPackagesOf(ordered))
	mgr.SuperviseAll(ctx)

	if cfg.UpstreamSocketPath != "" {
		mgr.NotifyBootComplete(ipc.NewClient(cfg.UpstreamSocketPath))
	}

	log.Bothf(bloom.Ok, "verdantd ready, %d service(s) registered", len(ordered))

	select {
	case <-ctx.Done():
	case <-sigCh:
		stop()
	}

	mgr.Shutdown(shutdownJoinDeadline)
	_ = srv.Close()
	log.Bothf(bloom.Ok, "verdantd exiting")
}

// startupPackagesOf collects the distinct, non-empty StartupPackage tags
// across descs, in first-seen order, to drive StartStartupServices.
func startupPackagesOf(descs []*service.Descriptor) []string {
	seen := make(map[string]bool)
	var pkgs []string
	for _, d := range descs {
		if d.StartupPackage == "" || seen[d.StartupPackage] {
			continue
		}
		seen[d.StartupPackage] = true
		pkgs = append(pkgs, d.StartupPackage)
	}
	return pkgs
}
