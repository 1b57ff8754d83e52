package main

// ---------------------------------------------------------------------------
// cmd_serve.go: long-running HTTP API over the detection engine
// ---------------------------------------------------------------------------

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"authwatch/internal/api"
	"authwatch/internal/config"
	"authwatch/internal/engine"
	"authwatch/internal/enrich"
	"authwatch/internal/findings"
	"authwatch/internal/logging"
	"authwatch/internal/metrics"
	"authwatch/internal/storage"
)

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file (YAML or JSON), reloaded on change")
	addr := fs.String("addr", "", "Listen address override (default api.addr)")
	reload := fs.Duration("reload-interval", 3*time.Second, "How often to check the config file for changes")
	fs.Parse(args)

	if *configPath == "" {
		*configPath = os.Getenv("AUTHWATCH_CONFIG")
	}
	var mgr *config.Manager
	if *configPath != "" {
		m, err := config.NewManager(config.ResolvePath(*configPath))
		if err != nil {
			errorf("loading config: %v", err)
		}
		mgr = m
	} else {
		mgr = config.NewStaticManager(config.DefaultConfig())
	}
	cfg := mgr.Get()
	if *addr != "" {
		cfg.API.Enabled = true
		cfg.API.Addr = *addr
	}
	if !cfg.API.Enabled {
		errorf("api.enabled is false; nothing to serve")
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder := metrics.NewRecorder()
	set, err := enrich.Open(cfg.Enrichment, recorder, logger)
	if err != nil {
		errorf("enrichment: %v", err)
	}
	defer set.Close()

	store := findings.NewStore(cfg.Findings.StoreLimit)
	offenders := metrics.NewOffenders(0)
	persistent, closeSinks, err := openSinks(ctx, cfg, logger)
	if err != nil {
		errorf("%v", err)
	}
	defer closeSinks()

	sinks := append([]engine.Sink{store, offenders}, persistent...)
	eng := engine.NewEngine(cfg, logger, recorder, set.Resolvers(), sinks...)

	deps := api.Deps{
		Config:    mgr,
		Engine:    eng,
		Findings:  store,
		Offenders: offenders,
		Recorder:  recorder,
		Logger:    logger,
		Version:   version,
	}
	if history := historyStore(persistent); history != nil {
		deps.History = history
	}
	srv := api.Start(ctx, api.New(deps))
	if srv == nil {
		errorf("api did not start")
	}

	go mgr.Watch(*reload, func(next *config.Config) {
		if *addr != "" {
			next.API.Addr = *addr
		}
		eng.UpdateConfig(next)
		logger.Info("config reloaded", "path", mgr.Path(), "window", next.Detection.Window)
		if next.Enrichment.GeoIPMMDB != cfg.Enrichment.GeoIPMMDB || next.Enrichment.ASNMMDB != cfg.Enrichment.ASNMMDB ||
			next.Enrichment.ASNTable != cfg.Enrichment.ASNTable {
			logger.Warn("enrichment sources changed; restart to load them")
		}
	}, func(err error) {
		logger.Error("config reload failed", "err", err)
	}, ctx.Done())

	<-ctx.Done()
	logger.Info("shutting down")
}

func historyStore(sinks []engine.Sink) storage.Store {
	for _, s := range sinks {
		if st, ok := s.(storage.Store); ok {
			return st
		}
	}
	return nil
}
