package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"tokenvendor/native/vendor"
	"tokenvendor/observability/logging"
	"tokenvendor/services/vendord/adapters"
	"tokenvendor/services/vendord/config"
	"tokenvendor/services/vendord/server"
	"tokenvendor/services/vendord/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/vendord/config.yaml", "path to vendord configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VENDOR_ENV"))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("vendord: load config: %v", err)
	}
	logger := logging.Setup("vendord", env, logging.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	logger.Info("starting",
		"mode", string(cfg.Mode),
		"addr", cfg.ListenAddress,
		logging.MaskField("adminToken", cfg.Admin.BearerToken),
	)

	params, err := config.LoadParams(cfg.ParamsPath)
	if err != nil {
		log.Fatalf("vendord: load params: %v", err)
	}

	store, err := storage.Open(cfg.DatabasePath, storage.WithRetention(cfg.Events.Retain))
	if err != nil {
		log.Fatalf("vendord: open storage: %v", err)
	}
	defer store.Close()

	owner, err := config.ParseAddress(cfg.Engine.Owner)
	if err != nil {
		log.Fatalf("vendord: owner address: %v", err)
	}
	dev, err := config.ParseAddress(cfg.Engine.DevAddress)
	if err != nil {
		log.Fatalf("vendord: dev address: %v", err)
	}
	reserve, err := config.ParseAddress(cfg.Engine.Reserve)
	if err != nil {
		log.Fatalf("vendord: reserve address: %v", err)
	}

	engineCfg := vendor.EngineConfig{
		Store:          store,
		Events:         store,
		ReserveAddress: reserve,
		Owner:          owner,
		DevAddress:     dev,
		Params:         params,
	}
	if cfg.Engine.BaseAsset != "" {
		if engineCfg.BaseAsset, err = config.ParseAddress(cfg.Engine.BaseAsset); err != nil {
			log.Fatalf("vendord: base asset: %v", err)
		}
	}
	if cfg.Engine.SwapAsset != "" {
		if engineCfg.SwapAsset, err = config.ParseAddress(cfg.Engine.SwapAsset); err != nil {
			log.Fatalf("vendord: swap asset: %v", err)
		}
	}

	switch cfg.Mode {
	case config.ModeLocal:
		runtime, err := adapters.BuildLocal(store, cfg)
		if err != nil {
			log.Fatalf("vendord: build local runtime: %v", err)
		}
		engineCfg.BaseLedger = runtime.Base
		engineCfg.SwapLedger = runtime.Swap
		engineCfg.Registry = runtime.Registry
		engineCfg.Native = runtime.Native
	case config.ModeEVM:
		runtime, err := adapters.BuildEVM(cfg)
		if err != nil {
			log.Fatalf("vendord: build evm runtime: %v", err)
		}
		defer runtime.Client.Close()
		engineCfg.BaseLedger = runtime.Base
		engineCfg.SwapLedger = runtime.Swap
		engineCfg.Registry = runtime.Registry
		engineCfg.Native = runtime.Native
	}

	engine, err := vendor.NewEngine(engineCfg)
	if err != nil {
		log.Fatalf("vendord: engine: %v", err)
	}

	auth, err := server.NewAuthenticator(server.AuthConfig{
		BearerToken: cfg.Admin.BearerToken,
		JWTSecret:   cfg.Admin.JWTSecret,
		JWTIssuer:   cfg.Admin.JWTIssuer,
	})
	if err != nil {
		log.Fatalf("vendord: configure admin auth: %v", err)
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		Engine:        engine,
		Events:        store,
		Owner:         owner,
		Auth:          auth,
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("vendord: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}
}
