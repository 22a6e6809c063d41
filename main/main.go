package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"

	"roadhazard/common"
	"roadhazard/config"
	"roadhazard/kvstore"
	"roadhazard/metrics"
	"roadhazard/netstatus"
	"roadhazard/offline"
	"roadhazard/reporting"
	"roadhazard/server"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Bad configuration: %v", err)
	}
	log.SetLevel(log.MustParseLevel(cfg.LogLevel))
	log.Info("Hello!")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open the %s store: %v", cfg.Store, err)
	}
	defer closeStore()

	client := reporting.NewClient(cfg.BackendURL, reporting.Options{
		Timeout:       cfg.RequestTimeout,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.RateBurst,
	})

	var provider netstatus.Provider
	if cfg.ForceOffline {
		log.Warn("Forced offline, reports will only be queued")
		provider = netstatus.NewManual(netstatus.State{Connected: false})
	} else {
		prober, err := netstatus.NewHTTPProber(client.HealthURL(), cfg.ProbeInterval)
		if err != nil {
			log.Fatalf("Failed to create the connectivity prober: %v", err)
		}
		prober.Start()
		defer prober.Stop()
		provider = prober
	}

	metrics.Register()
	svc := offline.NewService(offline.ServiceConfig{
		Store:        store,
		Monitor:      netstatus.NewMonitor(provider),
		Client:       client,
		SyncInterval: cfg.SyncInterval,
		MaxRetries:   cfg.MaxRetries,
		CacheMaxAge:  cfg.CacheMaxAge,
	})
	if err := svc.Start(ctx); err != nil {
		log.Fatalf("Failed to start the offline service: %v", err)
	}
	defer svc.Stop()

	if err := server.New(svc).Run(ctx, cfg.Port); err != nil {
		log.Errorf("Control API stopped: %v", err)
	}
	log.Info("Bye!")
}

func openStore(ctx context.Context, cfg *config.Config) (kvstore.Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("Using the in-memory store, queued reports will not survive a restart")
		return kvstore.NewMemStore(), func() {}, nil
	}
	db, err := common.DBConnect(ctx, cfg.DB())
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			log.Warnf("Failed to close the database: %v", err)
		}
	}
	store, err := kvstore.NewSQLStore(db, cfg.Store)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	if err := store.Init(ctx); err != nil {
		closeDB()
		return nil, nil, err
	}
	return store, closeDB, nil
}
